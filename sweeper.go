package statusx

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically prunes expired records and their index entries.
// Redis TTLs already drop the record keys; the sweep keeps the expiry index
// from accumulating dead ids and handles stores where TTL lapsed without
// the key being touched.
//
// Run it outside the hot execution path; sweep failures are logged and the
// loop continues.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

type SweeperOptions struct {
	// Interval between sweeps. Defaults to 5 minutes.
	Interval time.Duration
	Logger   *slog.Logger
}

func NewSweeper(store Store, opts SweeperOptions) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting status record sweeper", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pruned, err := s.store.Sweep(ctx, time.Now())
			if err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
				continue
			}
			if pruned > 0 {
				s.logger.InfoContext(ctx, "swept expired status records", "count", pruned)
			}
		}
	}
}
