// ABOUTME: In-process Backend with TTL expiry and a size bound
// ABOUTME: Used for single-instance deployments and tests; state is lost on restart

package store

import (
	"bytes"
	"container/list"
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// memoryEntry stores a challenge and its position in insertion order.
type memoryEntry struct {
	challenge *Challenge
	element   *list.Element
}

// MemoryStore is a thread-safe, TTL-based, size-limited Backend.
// Challenges are kept in a doubly-linked list in creation order so the
// oldest can be evicted in O(1) when the store is full.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]*memoryEntry
	order      *list.List // challenge keys, oldest at front
	users      map[string]*User
	maxSize    int
	now        func() time.Time
}

// NewMemoryStore creates a store holding at most maxPending challenges.
// A non-positive maxPending means unbounded.
func NewMemoryStore(maxPending int) *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*memoryEntry),
		order:      list.New(),
		users:      make(map[string]*User),
		maxSize:    maxPending,
		now:        time.Now,
	}
}

func (m *MemoryStore) setClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateChallenge stores a fresh unbound challenge, evicting the oldest
// entry if the store is at capacity.
func (m *MemoryStore) CreateChallenge(ctx context.Context, ttl time.Duration) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := newChallenge(m.now(), ttl)
	if err != nil {
		return nil, err
	}

	if m.maxSize > 0 && len(m.challenges) >= m.maxSize {
		m.evictOldestLocked()
	}

	key := hex.EncodeToString(c.ID)
	elem := m.order.PushBack(key)
	m.challenges[key] = &memoryEntry{challenge: c, element: elem}

	out := *c
	return &out, nil
}

// TryBind checks and sets under the store mutex.
func (m *MemoryStore) TryBind(ctx context.Context, id, pubkey []byte) (BindResult, error) {
	if err := checkChallengeID(id); err != nil {
		return BindNotFound, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.challenges[hex.EncodeToString(id)]
	if !ok {
		return BindNotFound, nil
	}
	c := entry.challenge
	if c.Bound() {
		return BindAlreadyBound, nil
	}
	if !m.now().Before(c.ExpiresAt) {
		return BindExpired, nil
	}

	c.PubKey = bytes.Clone(pubkey)
	return BindBound, nil
}

// Lookup returns the bound pubkey, nil while pending.
func (m *MemoryStore) Lookup(ctx context.Context, id []byte) ([]byte, error) {
	if err := checkChallengeID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.challenges[hex.EncodeToString(id)]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if !m.now().Before(entry.challenge.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	return bytes.Clone(entry.challenge.PubKey), nil
}

// DeleteExpiredChallenges removes all expired challenges.
func (m *MemoryStore) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int64
	for key, entry := range m.challenges {
		if !now.Before(entry.challenge.ExpiresAt) {
			m.order.Remove(entry.element)
			delete(m.challenges, key)
			removed++
		}
	}
	return removed, nil
}

// evictOldestLocked removes the oldest challenge. Must be called with mu held.
func (m *MemoryStore) evictOldestLocked() {
	front := m.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.challenges, key)
}

// UpsertUser records pubkey if it is new.
func (m *MemoryStore) UpsertUser(ctx context.Context, pubkey []byte) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := hex.EncodeToString(pubkey)
	u, ok := m.users[key]
	if !ok {
		u = &User{PubKey: bytes.Clone(pubkey), CreatedAt: m.now()}
		m.users[key] = u
	}
	out := *u
	return &out, nil
}

// GetUser retrieves a user by public key.
func (m *MemoryStore) GetUser(ctx context.Context, pubkey []byte) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[hex.EncodeToString(pubkey)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

var _ Backend = (*MemoryStore)(nil)
