// ABOUTME: Redis implementation of the Backend interface using go-redis/v9
// ABOUTME: Challenges are hashes with key TTLs; binds run as a single Lua script

package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisExpiryGrace keeps an expired challenge around briefly so callers see
// ErrChallengeExpired rather than ErrChallengeNotFound right at the boundary.
const redisExpiryGrace = time.Minute

const (
	bindStatusNotFound int64 = 0
	bindStatusExpired  int64 = 1
	bindStatusTaken    int64 = 2
	bindStatusBound    int64 = 3
)

// Timestamps are unix milliseconds so Lua's double arithmetic stays exact.
const bindChallengeScript = `
local exp = redis.call("HGET", KEYS[1], "expires_at")
if not exp then
  return 0
end
if redis.call("HEXISTS", KEYS[1], "pubkey") == 1 then
  return 2
end
if tonumber(exp) <= tonumber(ARGV[2]) then
  return 1
end
redis.call("HSET", KEYS[1], "pubkey", ARGV[1])
return 3
`

var bindChallengeLua = redis.NewScript(bindChallengeScript)

// RedisStore implements the Backend interface on Redis
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore wraps an existing client. Keys are namespaced by prefix
// (default "cachet").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cachet"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		logger: slog.Default().With("component", "store", "driver", "redis"),
		now:    time.Now,
	}
}

// OpenRedisStore parses a redis:// URL, connects and pings.
func OpenRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	s := NewRedisStore(client, "")
	s.logger.Info("Redis store initialized", "addr", opts.Addr)
	return s, nil
}

func (s *RedisStore) challengeKey(id []byte) string {
	return s.prefix + ":challenge:" + hex.EncodeToString(id)
}

func (s *RedisStore) userKey(pubkey []byte) string {
	return s.prefix + ":user:" + hex.EncodeToString(pubkey)
}

func (s *RedisStore) setClock(now func() time.Time) {
	s.now = now
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	s.logger.Info("closing Redis store")
	return s.redis.Close()
}

// Ping checks the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// CreateChallenge stores a fresh unbound challenge with a key TTL.
func (s *RedisStore) CreateChallenge(ctx context.Context, ttl time.Duration) (*Challenge, error) {
	c, err := newChallenge(s.now(), ttl)
	if err != nil {
		return nil, err
	}

	key := s.challengeKey(c.ID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"created_at", c.CreatedAt.UnixMilli(),
			"expires_at", c.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl+redisExpiryGrace)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing challenge: %w", err)
	}

	s.logger.Debug("created challenge", "k1", c.IDHex())
	return c, nil
}

// TryBind atomically binds pubkey to an unexpired, unbound challenge.
func (s *RedisStore) TryBind(ctx context.Context, id, pubkey []byte) (BindResult, error) {
	if err := checkChallengeID(id); err != nil {
		return BindNotFound, err
	}

	status, err := bindChallengeLua.Run(ctx, s.redis,
		[]string{s.challengeKey(id)},
		string(pubkey), s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return BindNotFound, fmt.Errorf("binding challenge: %w", err)
	}

	switch status {
	case bindStatusBound:
		s.logger.Debug("bound challenge", "k1", hex.EncodeToString(id))
		return BindBound, nil
	case bindStatusExpired:
		return BindExpired, nil
	case bindStatusTaken:
		return BindAlreadyBound, nil
	case bindStatusNotFound:
		return BindNotFound, nil
	default:
		return BindNotFound, fmt.Errorf("binding challenge: unexpected script status %d", status)
	}
}

// Lookup returns the bound pubkey, nil while pending.
func (s *RedisStore) Lookup(ctx context.Context, id []byte) ([]byte, error) {
	if err := checkChallengeID(id); err != nil {
		return nil, err
	}

	vals, err := s.redis.HMGet(ctx, s.challengeKey(id), "expires_at", "pubkey").Result()
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	rawExp, ok := vals[0].(string)
	if !ok {
		return nil, ErrChallengeNotFound
	}
	expMillis, err := strconv.ParseInt(rawExp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if s.now().UnixMilli() >= expMillis {
		return nil, ErrChallengeExpired
	}

	if pk, ok := vals[1].(string); ok && pk != "" {
		return []byte(pk), nil
	}
	return nil, nil
}

// DeleteExpiredChallenges is a no-op: Redis evicts challenge keys by TTL.
func (s *RedisStore) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	return 0, nil
}

// UpsertUser records pubkey with SETNX and returns the stored record.
func (s *RedisStore) UpsertUser(ctx context.Context, pubkey []byte) (*User, error) {
	created := strconv.FormatInt(s.now().UnixNano(), 10)
	if err := s.redis.SetNX(ctx, s.userKey(pubkey), created, 0).Err(); err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return s.GetUser(ctx, pubkey)
}

// GetUser retrieves a user by public key.
func (s *RedisStore) GetUser(ctx context.Context, pubkey []byte) (*User, error) {
	raw, err := s.redis.Get(ctx, s.userKey(pubkey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing user created_at: %w", err)
	}

	return &User{
		PubKey:    append([]byte(nil), pubkey...),
		CreatedAt: time.Unix(0, nanos),
	}, nil
}

var _ Backend = (*RedisStore)(nil)
