// Package server exposes the LNURL-auth login flow over HTTP.
//
// # Routes
//
//	GET /login          start a login: {"lnurl","k1","expires_at"}
//	GET /login/{k1}     poll: 200 session, 401 waiting, 404 unknown or expired
//	GET /auth           wallet callback: {"status":"OK"} or {"status":"ERROR","reason"}
//	GET /api/me         bearer-authenticated account lookup
//	GET /health         liveness
//	GET /health/ready   store reachability
//
// Every request passes through the access log middleware, which sets
// X-Request-ID. When server.allowed_origins is configured the mux is also
// wrapped in rs/cors.
//
// # Lifecycle
//
// New opens the store named by the configuration; NewWithStore accepts an
// open one. Run serves until its context is canceled, running a cron-driven
// Sweeper that deletes expired challenges, then shuts down within five
// seconds and closes the store.
package server
