// ABOUTME: Postgres implementation of the Backend interface using pgx/v4
// ABOUTME: Mirrors the SQLite schema with bytea keys and conditional-update binds

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresStore implements the Backend interface on a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore connects to databaseURL and creates the schema if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store", "driver", "postgres")

	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS challenges (
			k1          BYTEA PRIMARY KEY,
			created_at  BIGINT NOT NULL,
			expires_at  BIGINT NOT NULL,
			user_pubkey BYTEA
		);

		CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);

		CREATE TABLE IF NOT EXISTS users (
			pubkey     BYTEA PRIMARY KEY,
			created_at BIGINT NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) setClock(now func() time.Time) {
	s.now = now
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.pool.Close()
	return nil
}

// Ping checks the pool can reach the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateChallenge inserts a fresh unbound challenge.
func (s *PostgresStore) CreateChallenge(ctx context.Context, ttl time.Duration) (*Challenge, error) {
	c, err := newChallenge(s.now(), ttl)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO challenges (k1, created_at, expires_at) VALUES ($1, $2, $3)
	`, c.ID, c.CreatedAt.UnixNano(), c.ExpiresAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("inserting challenge: %w", err)
	}

	s.logger.Debug("created challenge", "k1", c.IDHex())
	return c, nil
}

// TryBind atomically binds pubkey to an unexpired, unbound challenge.
func (s *PostgresStore) TryBind(ctx context.Context, id, pubkey []byte) (BindResult, error) {
	if err := checkChallengeID(id); err != nil {
		return BindNotFound, err
	}
	now := s.now()

	tag, err := s.pool.Exec(ctx, `
		UPDATE challenges
		SET user_pubkey = $1
		WHERE k1 = $2
		  AND user_pubkey IS NULL
		  AND expires_at > $3
	`, pubkey, id, now.UnixNano())
	if err != nil {
		return BindNotFound, fmt.Errorf("binding challenge: %w", err)
	}

	if tag.RowsAffected() > 0 {
		s.logger.Debug("bound challenge", "k1", fmt.Sprintf("%x", id))
		return BindBound, nil
	}

	c, err := s.getChallenge(ctx, id)
	if err != nil && !errors.Is(err, ErrChallengeNotFound) {
		return BindNotFound, err
	}
	return classify(c, now), nil
}

// Lookup returns the bound pubkey, nil while pending.
func (s *PostgresStore) Lookup(ctx context.Context, id []byte) ([]byte, error) {
	if err := checkChallengeID(id); err != nil {
		return nil, err
	}
	c, err := s.getChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(c.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	return c.PubKey, nil
}

func (s *PostgresStore) getChallenge(ctx context.Context, id []byte) (*Challenge, error) {
	var c Challenge
	var createdAt, expiresAt int64
	var pubkey []byte

	err := s.pool.QueryRow(ctx, `
		SELECT k1, created_at, expires_at, user_pubkey
		FROM challenges
		WHERE k1 = $1
	`, id).Scan(&c.ID, &createdAt, &expiresAt, &pubkey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	c.CreatedAt = time.Unix(0, createdAt)
	c.ExpiresAt = time.Unix(0, expiresAt)
	if len(pubkey) > 0 {
		c.PubKey = pubkey
	}
	return &c, nil
}

// DeleteExpiredChallenges removes expired challenges, bound or not.
func (s *PostgresStore) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM challenges WHERE expires_at <= $1`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("deleted expired challenges", "count", n)
	}
	return tag.RowsAffected(), nil
}

// UpsertUser inserts pubkey if it is new and returns the stored record.
func (s *PostgresStore) UpsertUser(ctx context.Context, pubkey []byte) (*User, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (pubkey, created_at) VALUES ($1, $2)
		ON CONFLICT (pubkey) DO NOTHING
	`, pubkey, s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return s.GetUser(ctx, pubkey)
}

// GetUser retrieves a user by public key.
func (s *PostgresStore) GetUser(ctx context.Context, pubkey []byte) (*User, error) {
	var u User
	var createdAt int64

	err := s.pool.QueryRow(ctx, `
		SELECT pubkey, created_at FROM users WHERE pubkey = $1
	`, pubkey).Scan(&u.PubKey, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt = time.Unix(0, createdAt)
	return &u, nil
}

var _ Backend = (*PostgresStore)(nil)
