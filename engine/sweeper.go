package engine

import (
	"context"
	"log/slog"
	"time"

	"chainpay/models"
)

// SweeperConfig configures the periodic expiry sweep.
type SweeperConfig struct {
	Engine    *Engine
	Interval  time.Duration
	BatchSize int
	Log       *slog.Logger
}

// Sweeper flips overdue active requests to expired on a fixed cadence. The
// sweep is advisory: a request that slips past an interval is still reported
// correctly by the next one, and settlement on an overdue request loses to
// whichever transition lands first in the store.
type Sweeper struct {
	engine    *Engine
	interval  time.Duration
	batchSize int
	log       *slog.Logger
}

// NewSweeper constructs a sweeper with sane defaults.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	logger := cfg.Log
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:    cfg.Engine,
		interval:  interval,
		batchSize: batch,
		log:       logger,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil || s.engine == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.ErrorContext(ctx, "expiry sweep failed", "error", err)
			} else if n > 0 {
				s.log.InfoContext(ctx, "expiry sweep completed", "expired", n)
			}
		}
	}
}

// Sweep expires one batch of overdue requests and reports how many flipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.engine.nowFn().UTC()
	overdue, err := s.engine.store.ListOverdue(ctx, now, s.batchSize)
	if err != nil {
		return 0, persistErr("list overdue payment requests", err)
	}
	expired := 0
	for _, req := range overdue {
		updated, err := s.engine.Expire(ctx, req.ID)
		if err != nil {
			return expired, err
		}
		if updated.Status == models.StatusExpired {
			expired++
		}
	}
	return expired, nil
}
