// Package config handles configuration loading for cachet.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML, when the path ends in
// .toml) with environment variable expansion. Deployments without a file can
// use FromEnv.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CACHET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/cachet/cachet.yaml
//  3. ~/.config/cachet/cachet.yaml
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CACHET_JWT_SECRET}"
//
// The following variables override the file when set:
//
//	JWT_SECRET      auth.jwt_secret
//	SERVICE_URL     server.base_url
//	DATABASE_URL    database.url (driver inferred from the scheme)
//	PORT            server.http_addr = 0.0.0.0:$PORT
//	CACHET_DB_PATH  database.path
//
// # Example
//
//	server:
//	  http_addr: "localhost:8080"
//	  base_url: "https://cachet.example.com"
//	  allowed_origins: ["https://app.example.com"]
//
//	auth:
//	  jwt_secret: "${CACHET_JWT_SECRET}"
//	  session_ttl: "24h"
//
//	challenges:
//	  ttl: "5m"
//	  sweep_interval: "1m"
//
//	database:
//	  driver: "sqlite"        # sqlite | postgres | redis | memory
//	  path: "/var/lib/cachet/cachet.db"
//
//	logging:
//	  level: "info"           # debug | info | warn | error
//	  format: "text"          # text | json
//
// # Validation
//
// Load fails when the signing secret is missing or shorter than
// MinSecretLength, when server.base_url is not an absolute http(s) URL, or
// when the selected database driver lacks its connection setting. The server
// refuses to start in that case.
package config
