// Package store persists login challenges and authenticated users.
//
// # Architecture
//
// Two small interfaces describe the data the login flow needs:
//
//   - ChallengeStore: create, bind, look up and sweep k1 challenges
//   - UserStore: record public keys that completed a login
//
// Backend combines both with Ping and Close. Four implementations exist and
// Open selects one from config.DatabaseConfig:
//
//   - SQLiteStore (modernc.org/sqlite): default, single file, WAL mode
//   - PostgresStore (pgx/v4 pool): shared state across instances
//   - RedisStore (go-redis/v9): key TTLs, Lua script for binds
//   - MemoryStore: process-local, bounded by challenges.max_pending
//
// # Binding
//
// TryBind is the only write that changes a challenge after creation. Each
// backend performs the "exists, unexpired, unbound" check and the write as
// one atomic step (conditional UPDATE, Lua script, or mutex), so concurrent
// callers for the same k1 see exactly one BindBound. A bound key is never
// replaced.
//
// # Expiry
//
// A challenge expires at CreatedAt + ttl. From that instant TryBind reports
// BindExpired and Lookup returns ErrChallengeExpired, whether or not the
// sweeper has removed the row yet. DeleteExpiredChallenges is a no-op on
// Redis, which evicts keys itself.
//
// # Usage
//
//	backend, err := store.Open(ctx, cfg.Database, cfg.Challenges.MaxPending)
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	c, err := backend.CreateChallenge(ctx, 5*time.Minute)
//	res, err := backend.TryBind(ctx, c.ID, pubkey)
package store
