// ABOUTME: Session token issuance and validation for authenticated public keys
// ABOUTME: Uses HS256 JWTs with sub=hex(pubkey), iat and exp claims

package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum HMAC secret length in bytes.
const MinSecretLength = 32

// TokenType is the token_type reported alongside every access token.
const TokenType = "Bearer"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	ErrInvalidTTL   = errors.New("session ttl must be positive")
)

// Session is an issued access token.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"-"`
}

// Authenticator resolves a bearer token to the public key it was issued for.
type Authenticator interface {
	Authenticate(token string) (pubkey []byte, err error)
}

// SessionIssuer mints and validates session tokens with a shared secret.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates an issuer. The secret must be at least
// MinSecretLength bytes and ttl must be positive.
func NewSessionIssuer(secret []byte, ttl time.Duration) (*SessionIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	return &SessionIssuer{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *SessionIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue creates a token for pubkey valid from now until now+TTL.
func (i *SessionIssuer) Issue(pubkey []byte) (*Session, error) {
	if len(pubkey) == 0 {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	now := i.now()
	exp := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   hex.EncodeToString(pubkey),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &Session{
		AccessToken: signed,
		TokenType:   TokenType,
		ExpiresAt:   exp,
	}, nil
}

// Authenticate validates the token and returns the public key in its "sub" claim.
// Expired tokens return ErrExpiredToken; every other failure wraps ErrInvalidToken.
func (i *SessionIssuer) Authenticate(tokenString string) ([]byte, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	pubkey, err := hex.DecodeString(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: sub is not hex", ErrInvalidToken)
	}
	return pubkey, nil
}

var _ Authenticator = (*SessionIssuer)(nil)
