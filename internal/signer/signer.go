// ABOUTME: Reference LNURL-auth signer standing in for a wallet
// ABOUTME: Holds a secp256k1 key, signs k1 challenges and calls the login callback

package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/2389/cachet/internal/lnurl"
)

// ErrNotLoginURL is returned when a decoded LNURL is not a login request.
var ErrNotLoginURL = errors.New("signer: lnurl is not tag=login")

// maxResponseSize caps how much of a callback response is read.
const maxResponseSize = 64 << 10

// Signer holds a secp256k1 private key.
type Signer struct {
	key    *secp256k1.PrivateKey
	client *http.Client
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return &Signer{key: key, client: http.DefaultClient}, nil
}

// FromHex loads a signer from a hex-encoded 32-byte private key.
func FromHex(s string) (*Signer, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(raw))
	}
	return &Signer{key: secp256k1.PrivKeyFromBytes(raw), client: http.DefaultClient}, nil
}

// WithHTTPClient replaces the client used by Login.
func (s *Signer) WithHTTPClient(c *http.Client) *Signer {
	s.client = c
	return s
}

// PrivateKeyHex returns the hex-encoded private key.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.key.Serialize())
}

// PubKey returns the 33-byte compressed public key.
func (s *Signer) PubKey() []byte {
	return s.key.PubKey().SerializeCompressed()
}

// PubKeyHex returns the hex-encoded compressed public key.
func (s *Signer) PubKeyHex() string {
	return hex.EncodeToString(s.PubKey())
}

// Sign returns the DER signature of the raw challenge bytes.
func (s *Signer) Sign(k1 []byte) ([]byte, error) {
	if len(k1) != lnurl.ChallengeSize {
		return nil, lnurl.ErrInvalidChallenge
	}
	return ecdsa.Sign(s.key, k1).Serialize(), nil
}

// CallbackResponse is the LNURL status body returned by the service.
type CallbackResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// CallbackError is returned by Login when the service answers with status ERROR.
type CallbackError struct {
	StatusCode int
	Reason     string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("login rejected (HTTP %d): %s", e.StatusCode, e.Reason)
}

// SignedURL decodes an LNURL, signs its k1 and returns the callback URL with
// sig and key appended.
func (s *Signer) SignedURL(encoded string) (string, error) {
	uri, err := lnurl.Decode(encoded)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing callback: %w", err)
	}
	q := u.Query()
	if q.Get("tag") != "login" {
		return "", ErrNotLoginURL
	}

	k1, err := lnurl.ChallengeFromURL(uri)
	if err != nil {
		return "", err
	}
	sig, err := s.Sign(k1)
	if err != nil {
		return "", err
	}

	q.Set("sig", hex.EncodeToString(sig))
	q.Set("key", s.PubKeyHex())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Login performs the wallet half of LNURL-auth: decode, sign and call back.
// A non-OK status is returned as *CallbackError.
func (s *Signer) Login(ctx context.Context, encoded string) error {
	callback, err := s.SignedURL(encoded)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callback, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling callback: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var out CallbackResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Status != "OK" {
		return &CallbackError{StatusCode: resp.StatusCode, Reason: out.Reason}
	}
	return nil
}
