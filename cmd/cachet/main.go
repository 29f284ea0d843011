// ABOUTME: Entry point for cachet, a passwordless LNURL-auth login server
// ABOUTME: Provides serve, init, health and token commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/cachet/internal/auth"
	"github.com/2389/cachet/internal/config"
	"github.com/2389/cachet/internal/lnurl"
	"github.com/2389/cachet/internal/server"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _          _
   ___ __ _  ___| |__   ___| |_
  / __/ _' |/ __| '_ \ / _ \ __|
 | (_| (_| | (__| | | |  __/ |_
  \___\__,_|\___|_| |_|\___|\__|
`

// getConfigPath returns the path to the cachet config file.
// Priority: CACHET_CONFIG env var > XDG_CONFIG_HOME/cachet/cachet.yaml > ~/.config/cachet/cachet.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CACHET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "cachet.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cachet", "cachet.yaml")
}

// getDataPath returns the path to the cachet data directory.
// Priority: XDG_DATA_HOME/cachet > ~/.local/share/cachet
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "cachet")
}

// loadConfig reads the config file, or falls back to environment-only
// configuration when no file exists.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, configPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}

	cfg, err = config.FromEnv()
	if err != nil {
		return nil, "(environment)", fmt.Errorf("no config file at %s and environment is incomplete: %w", configPath, err)
	}
	return cfg, "(environment)", nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cachet <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                   Start the login server")
		fmt.Println("  init                    Create a new config file interactively")
		fmt.Println("  health                  Check server readiness")
		fmt.Println("  token --pubkey HEX      Mint a session token for a public key")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "version", "--version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Callback:  %s\n", lnurl.CallbackURL(cfg.Server.BaseURL))
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", cfg.Database.Driver)
	fmt.Println()

	logger.Info("starting cachet",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"base_url", cfg.Server.BaseURL,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// healthURL maps a listen address to a URL reachable from this host.
func healthURL(httpAddr string) (string, error) {
	host, port, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return "", fmt.Errorf("parsing http_addr %q: %w", httpAddr, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health/ready", nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url, err := healthURL(cfg.Server.HTTPAddr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken mints a session for a public key without a wallet round trip.
// Supports both "--flag value" and "--flag=value" formats.
func runToken(args []string) error {
	var pubkeyHex, ttlRaw string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--pubkey" || arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--pubkey" {
				pubkeyHex = args[i+1]
			} else {
				ttlRaw = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--pubkey="):
			pubkeyHex = strings.TrimPrefix(arg, "--pubkey=")
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if pubkeyHex == "" {
		return fmt.Errorf("--pubkey flag is required")
	}
	pubkey, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubkey) != auth.CompressedPubKeySize {
		return fmt.Errorf("--pubkey must be a %d-byte compressed key in hex", auth.CompressedPubKeySize)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ttl := cfg.Auth.SessionTTL
	if ttlRaw != "" {
		ttl, err = time.ParseDuration(ttlRaw)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
	}

	issuer, err := auth.NewSessionIssuer([]byte(cfg.Auth.JWTSecret), ttl)
	if err != nil {
		return fmt.Errorf("creating session issuer: %w", err)
	}

	session, err := issuer.Issue(pubkey)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(os.Stderr, "expires %s\n", session.ExpiresAt.UTC().Format(time.RFC3339))
	fmt.Println(session.AccessToken)
	return nil
}

// initOptions are the answers collected by runInit.
type initOptions struct {
	HTTPAddr  string
	BaseURL   string
	Driver    string
	DBPath    string
	DBURL     string
	JWTSecret string
	LogLevel  string
	LogFormat string
}

// generateSecret returns 32 random bytes, hex encoded.
func generateSecret() (string, error) {
	b := make([]byte, config.MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func renderConfig(o initOptions) string {
	var cfg strings.Builder
	cfg.WriteString("# cachet configuration\n")
	cfg.WriteString("# Generated by cachet init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", o.HTTPAddr))
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", o.BaseURL))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", o.JWTSecret))
	cfg.WriteString("  session_ttl: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("challenges:\n")
	cfg.WriteString("  ttl: \"5m\"\n")
	cfg.WriteString("  sweep_interval: \"1m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", o.Driver))
	switch o.Driver {
	case config.DriverSQLite:
		cfg.WriteString(fmt.Sprintf("  path: %q\n", o.DBPath))
	case config.DriverPostgres, config.DriverRedis:
		cfg.WriteString(fmt.Sprintf("  url: %q\n", o.DBURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", o.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", o.LogFormat))

	return cfg.String()
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("cachet configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDBPath := filepath.Join(getDataPath(), "cachet.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	opts := initOptions{JWTSecret: secret}

	fmt.Println("\n--- Server Configuration ---")
	opts.HTTPAddr = prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	opts.BaseURL = prompt(reader, "Public base URL (wallets call <base>/auth)", "http://"+opts.HTTPAddr)

	fmt.Println("\n--- Database Configuration ---")
	opts.Driver = prompt(reader, "Driver (sqlite/postgres/redis/memory)", config.DriverSQLite)
	switch opts.Driver {
	case config.DriverSQLite:
		opts.DBPath = prompt(reader, "SQLite database path", defaultDBPath)
	case config.DriverPostgres:
		opts.DBURL = prompt(reader, "Postgres URL", "postgres://localhost:5432/cachet")
	case config.DriverRedis:
		opts.DBURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	case config.DriverMemory:
	default:
		return fmt.Errorf("unknown driver %q", opts.Driver)
	}

	fmt.Println("\n--- Logging Configuration ---")
	opts.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	opts.LogFormat = prompt(reader, "Log format (text/json)", "text")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the signing secret
	if err := os.WriteFile(outputFile, []byte(renderConfig(opts)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	fmt.Println()
	green.Printf("  ✓ Config written to %s\n", outputFile)
	if opts.Driver == config.DriverSQLite {
		green.Printf("  ✓ Database will be created at %s\n", opts.DBPath)
	}
	fmt.Println("\nTo start the server:")
	fmt.Printf("  cachet serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
