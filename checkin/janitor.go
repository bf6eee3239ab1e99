// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package checkin

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielhkuo/doorlist/metrics"
)

type Pruner interface {
	PruneIdempotency(ctx context.Context, now time.Time) (int64, error)
}

// Janitor periodically removes expired idempotency entries. Lookups
// already ignore expired rows; pruning only bounds table growth.
type Janitor struct {
	pruner   Pruner
	interval time.Duration
	now      func() time.Time
}

func NewJanitor(pruner Pruner, interval time.Duration) *Janitor {
	return &Janitor{pruner: pruner, interval: interval, now: time.Now}
}

// Run prunes every interval until ctx is done
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.PruneOnce(ctx); err != nil {
				slog.Warn("idempotency prune failed", "error", err)
			}
		}
	}
}

func (j *Janitor) PruneOnce(ctx context.Context) (int64, error) {
	n, err := j.pruner.PruneIdempotency(ctx, j.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.IdempotencyPrunedTotal.Add(float64(n))
		slog.Info("idempotency log pruned", "entries", n)
	}
	return n, nil
}
