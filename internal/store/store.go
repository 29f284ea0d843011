// ABOUTME: Store interfaces and data types for cachet persistence
// ABOUTME: Defines Challenge, User, BindResult and the backend contracts for login state

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ChallengeSize is the length in bytes of a login challenge (k1).
const ChallengeSize = 32

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrChallengeNotFound is returned when a challenge does not exist (or was swept)
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired is returned when a challenge outlived its TTL
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrInvalidChallenge is returned for challenge IDs of the wrong size
	ErrInvalidChallenge = errors.New("challenge must be 32 bytes")

	// ErrInvalidTTL is returned when a challenge is created with a non-positive TTL
	ErrInvalidTTL = errors.New("challenge ttl must be positive")
)

// Challenge is a single login attempt. PubKey is nil until a signer binds it,
// and once set it never changes.
type Challenge struct {
	ID        []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	PubKey    []byte
}

// IDHex returns the hex encoding of the challenge ID (the k1 value).
func (c *Challenge) IDHex() string {
	return hex.EncodeToString(c.ID)
}

// Bound reports whether a public key has been bound to the challenge.
func (c *Challenge) Bound() bool {
	return len(c.PubKey) > 0
}

// User is a public key that has authenticated at least once.
type User struct {
	PubKey    []byte
	CreatedAt time.Time
}

// BindResult is the outcome of TryBind.
type BindResult int

const (
	// BindBound means this call bound the key to the challenge.
	BindBound BindResult = iota
	// BindNotFound means the challenge does not exist.
	BindNotFound
	// BindExpired means the challenge exists but outlived its TTL.
	BindExpired
	// BindAlreadyBound means some earlier call already bound a key.
	BindAlreadyBound
)

func (r BindResult) String() string {
	switch r {
	case BindBound:
		return "bound"
	case BindNotFound:
		return "not_found"
	case BindExpired:
		return "expired"
	case BindAlreadyBound:
		return "already_bound"
	default:
		return fmt.Sprintf("BindResult(%d)", int(r))
	}
}

// ChallengeStore persists login challenges and their binding state.
type ChallengeStore interface {
	// CreateChallenge generates a fresh random challenge valid for ttl.
	CreateChallenge(ctx context.Context, ttl time.Duration) (*Challenge, error)

	// TryBind atomically binds pubkey to the challenge if it exists, is
	// unexpired, and has no key yet. Every other outcome leaves it untouched.
	TryBind(ctx context.Context, id, pubkey []byte) (BindResult, error)

	// Lookup returns the bound key, or nil while the challenge is pending.
	// Returns ErrChallengeNotFound or ErrChallengeExpired otherwise.
	Lookup(ctx context.Context, id []byte) ([]byte, error)

	// DeleteExpiredChallenges removes challenges past their expiry and
	// returns how many were removed.
	DeleteExpiredChallenges(ctx context.Context) (int64, error)
}

// UserStore persists authenticated public keys.
type UserStore interface {
	// UpsertUser records pubkey, keeping the original CreatedAt if it exists.
	UpsertUser(ctx context.Context, pubkey []byte) (*User, error)

	// GetUser returns ErrNotFound for unknown keys.
	GetUser(ctx context.Context, pubkey []byte) (*User, error)
}

// Backend is a complete storage backend for the login service.
type Backend interface {
	ChallengeStore
	UserStore

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// clockSetter lets tests move a backend's notion of "now".
type clockSetter interface {
	setClock(now func() time.Time)
}

// newChallengeID returns ChallengeSize bytes from crypto/rand.
func newChallengeID() ([]byte, error) {
	id := make([]byte, ChallengeSize)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("generating challenge: %w", err)
	}
	return id, nil
}

// newChallenge builds an unbound challenge created at now.
func newChallenge(now time.Time, ttl time.Duration) (*Challenge, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	id, err := newChallengeID()
	if err != nil {
		return nil, err
	}
	return &Challenge{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func checkChallengeID(id []byte) error {
	if len(id) != ChallengeSize {
		return ErrInvalidChallenge
	}
	return nil
}

// classify maps the current state of a challenge to a BindResult, after a
// conditional write changed nothing.
func classify(c *Challenge, now time.Time) BindResult {
	switch {
	case c == nil:
		return BindNotFound
	case c.Bound():
		return BindAlreadyBound
	case !now.Before(c.ExpiresAt):
		return BindExpired
	default:
		// Unreachable for a write that failed its guard; report as taken.
		return BindAlreadyBound
	}
}
