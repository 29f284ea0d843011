// ABOUTME: Scheduled removal of expired login challenges
// ABOUTME: Runs DeleteExpiredChallenges on a robfig/cron "@every" schedule

package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/cachet/internal/store"
)

// sweepTimeout bounds a single sweep so a stuck backend cannot pile up jobs.
const sweepTimeout = 30 * time.Second

// Sweeper periodically deletes expired challenges.
type Sweeper struct {
	cron   *cron.Cron
	store  store.ChallengeStore
	logger *slog.Logger
}

// NewSweeper schedules a sweep every interval. Sub-second intervals are
// rounded up to one second by cron.
func NewSweeper(s store.ChallengeStore, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	sw := &Sweeper{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		store:  s,
		logger: logger.With("component", "sweeper"),
	}

	_, err := sw.cron.AddFunc("@every "+interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := sw.Sweep(ctx); err != nil {
			sw.logger.Error("scheduled challenge sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling sweep: %w", err)
	}

	return sw, nil
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep removes expired challenges once.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredChallenges(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}
	if n > 0 {
		s.logger.Info("swept expired challenges", "count", n)
	}
	return n, nil
}
