// ABOUTME: SQLite implementation of the Backend interface using modernc.org/sqlite
// ABOUTME: Provides challenge/user persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Backend interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", "sqlite")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers (no SQLITE_BUSY under
	// concurrent binds) and keeps ":memory:" databases on one handle.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Timestamps are unix nanoseconds so expiry checks compare integers.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS challenges (
			k1          BLOB PRIMARY KEY,
			created_at  INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL,
			user_pubkey BLOB
		);

		CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);

		CREATE TABLE IF NOT EXISTS users (
			pubkey     BLOB PRIMARY KEY,
			created_at INTEGER NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) setClock(now func() time.Time) {
	s.now = now
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateChallenge inserts a fresh unbound challenge.
func (s *SQLiteStore) CreateChallenge(ctx context.Context, ttl time.Duration) (*Challenge, error) {
	c, err := newChallenge(s.now(), ttl)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO challenges (k1, created_at, expires_at) VALUES (?, ?, ?)
	`, c.ID, c.CreatedAt.UnixNano(), c.ExpiresAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("inserting challenge: %w", err)
	}

	s.logger.Debug("created challenge", "k1", c.IDHex())
	return c, nil
}

// TryBind atomically binds pubkey to an unexpired, unbound challenge.
// The guard and the write are one UPDATE statement; when it changes nothing
// the row is read back to report why.
func (s *SQLiteStore) TryBind(ctx context.Context, id, pubkey []byte) (BindResult, error) {
	if err := checkChallengeID(id); err != nil {
		return BindNotFound, err
	}
	now := s.now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE challenges
		SET user_pubkey = ?
		WHERE k1 = ?
		  AND user_pubkey IS NULL
		  AND expires_at > ?
	`, pubkey, id, now.UnixNano())
	if err != nil {
		return BindNotFound, fmt.Errorf("binding challenge: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return BindNotFound, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
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
func (s *SQLiteStore) Lookup(ctx context.Context, id []byte) ([]byte, error) {
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

func (s *SQLiteStore) getChallenge(ctx context.Context, id []byte) (*Challenge, error) {
	var c Challenge
	var createdAt, expiresAt int64
	var pubkey []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT k1, created_at, expires_at, user_pubkey
		FROM challenges
		WHERE k1 = ?
	`, id).Scan(&c.ID, &createdAt, &expiresAt, &pubkey)
	if err == sql.ErrNoRows {
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
func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM challenges WHERE expires_at <= ?
	`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired challenges", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// UpsertUser inserts pubkey if it is new and returns the stored record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, pubkey []byte) (*User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (pubkey, created_at) VALUES (?, ?)
		ON CONFLICT (pubkey) DO NOTHING
	`, pubkey, s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return s.GetUser(ctx, pubkey)
}

// GetUser retrieves a user by public key.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, pubkey []byte) (*User, error) {
	var u User
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT pubkey, created_at FROM users WHERE pubkey = ?
	`, pubkey).Scan(&u.PubKey, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt = time.Unix(0, createdAt)
	return &u, nil
}

// Ensure SQLiteStore implements Backend interface
var _ Backend = (*SQLiteStore)(nil)
