// ABOUTME: Reference LNURL-auth wallet for exercising a cachet server
// ABOUTME: Generates keys, prints public keys and completes logins from an lnurl

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/cachet/internal/signer"
)

const keyEnv = "CACHET_SIGNER_KEY"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cachet-signer <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  keygen [--out FILE]             Generate a new secp256k1 key")
		fmt.Println("  pubkey [--key HEX]              Print the compressed public key")
		fmt.Println("  login  [--key HEX] <lnurl>      Sign a challenge and call back")
		fmt.Println()
		fmt.Printf("The key may also be supplied via %s.\n", keyEnv)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "pubkey":
		err = runPubkey(os.Args[2:])
	case "login":
		err = runLogin(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs splits "--name value" / "--name=value" flags from positionals.
func parseArgs(args []string, names ...string) (map[string]string, []string, error) {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	flags := make(map[string]string)
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			rest = append(rest, arg)
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		flags[name] = value
	}
	return flags, rest, nil
}

func loadSigner(flags map[string]string) (*signer.Signer, error) {
	key := flags["key"]
	if key == "" {
		key = os.Getenv(keyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("--key or %s is required", keyEnv)
	}
	return signer.FromHex(strings.TrimSpace(key))
}

func runKeygen(args []string) error {
	flags, _, err := parseArgs(args, "out")
	if err != nil {
		return err
	}

	s, err := signer.Generate()
	if err != nil {
		return err
	}

	if out := flags["out"]; out != "" {
		if err := os.WriteFile(out, []byte(s.PrivateKeyHex()+"\n"), 0600); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}
		green := color.New(color.FgGreen)
		green.Fprintf(os.Stderr, "✓ Private key written to %s\n", out)
	} else {
		fmt.Printf("private: %s\n", s.PrivateKeyHex())
	}
	fmt.Printf("pubkey:  %s\n", s.PubKeyHex())
	return nil
}

func runPubkey(args []string) error {
	flags, _, err := parseArgs(args, "key")
	if err != nil {
		return err
	}
	s, err := loadSigner(flags)
	if err != nil {
		return err
	}
	fmt.Println(s.PubKeyHex())
	return nil
}

func runLogin(ctx context.Context, args []string) error {
	flags, rest, err := parseArgs(args, "key")
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("login takes exactly one lnurl argument")
	}
	s, err := loadSigner(flags)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.Login(ctx, rest[0]); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Logged in as %s\n", s.PubKeyHex())
	return nil
}
