// ABOUTME: Unit tests for session token issuance and validation
// ABOUTME: Tests round trips, invalid tokens, expiry boundaries and secret requirements

package auth

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret is a 32-byte secret that meets MinSecretLength requirement.
var testSecret = []byte("session-issuer-test-secret-32b!!")

var testPubKey = append([]byte{0x02}, bytes.Repeat([]byte{0x11}, 32)...)

func newTestIssuer(t *testing.T, ttl time.Duration) *SessionIssuer {
	t.Helper()
	issuer, err := NewSessionIssuer(testSecret, ttl)
	if err != nil {
		t.Fatalf("NewSessionIssuer() error = %v", err)
	}
	return issuer
}

func TestSessionIssuer_RoundTrip(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)

	session, err := issuer.Issue(testPubKey)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if session.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", session.TokenType)
	}

	got, err := issuer.Authenticate(session.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !bytes.Equal(got, testPubKey) {
		t.Errorf("Authenticate() = %x, want %x", got, testPubKey)
	}
}

func TestSessionIssuer_Expiry(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)
	issued := time.Unix(1_700_000_000, 0)
	issuer.now = func() time.Time { return issued }

	session, err := issuer.Issue(testPubKey)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if want := issued.Add(time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}

	issuer.now = func() time.Time { return issued.Add(time.Hour - time.Second) }
	if _, err := issuer.Authenticate(session.AccessToken); err != nil {
		t.Errorf("Authenticate() one second before expiry error = %v", err)
	}

	issuer.now = func() time.Time { return issued.Add(time.Hour + time.Second) }
	_, err = issuer.Authenticate(session.AccessToken)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Authenticate() after expiry error = %v, want ErrExpiredToken", err)
	}
	if errors.Is(err, ErrInvalidToken) {
		t.Error("expired tokens should not also report ErrInvalidToken")
	}
}

func TestSessionIssuer_InvalidToken(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other, _ := NewSessionIssuer([]byte("a-completely-different-secret-32b"), time.Hour)
				s, _ := other.Issue(testPubKey)
				return s.AccessToken
			}(),
		},
		{
			name: "alg none",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
					Subject:   "02aa",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				})
				s, _ := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				return s
			}(),
		},
		{
			name: "HS512",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
					Subject:   "02aa",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				})
				s, _ := tok.SignedString(testSecret)
				return s
			}(),
		},
		{
			name: "missing exp",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "02aa"})
				s, _ := tok.SignedString(testSecret)
				return s
			}(),
		},
		{
			name: "non-hex sub",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
					Subject:   "not-hex",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				})
				s, _ := tok.SignedString(testSecret)
				return s
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Authenticate(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Authenticate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestSessionIssuer_MissingSubject(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := issuer.Authenticate(s); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Authenticate() error = %v, want ErrMissingClaim", err)
	}
}

func TestNewSessionIssuer_Validation(t *testing.T) {
	if _, err := NewSessionIssuer([]byte("short"), time.Hour); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewSessionIssuer(short secret) error = %v, want ErrWeakSecret", err)
	}
	if _, err := NewSessionIssuer(testSecret, 0); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("NewSessionIssuer(zero ttl) error = %v, want ErrInvalidTTL", err)
	}
}

func TestSessionIssuer_IssueEmptyKey(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)
	if _, err := issuer.Issue(nil); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Issue(nil) error = %v, want ErrMissingClaim", err)
	}
}
