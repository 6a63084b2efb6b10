package payauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/safu-labs/payauth/metrics"
)

// DefaultSweepInterval is the cadence at which stale pending challenges are
// transitioned to expired.
const DefaultSweepInterval = 10 * time.Second

// Sweeper periodically expires stale pending challenges. The store's
// compare-and-set makes the sweep safe against concurrent consumption: a
// consume that lands first always wins and the sweep leaves it alone.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
	nowFn    func() time.Time
}

// NewSweeper creates a sweeper with the given interval; zero or negative
// falls back to DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      log,
		nowFn:    time.Now,
	}
}

// Run ticks until the context is cancelled. Missed ticks simply extend the
// grace period before expiry is recorded; there is no catch-up or backoff.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	expired, err := s.store.SweepExpired(ctx, s.nowFn())
	if err != nil {
		s.log.Warn("sweep failed", "err", err)
		return
	}
	if len(expired) > 0 {
		metrics.ChallengesExpired.Add(float64(len(expired)))
		s.log.Info("expired stale challenges", "count", len(expired))
	}
}
