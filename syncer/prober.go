// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielhkuo/doorlist/backoff"
)

const maxProbeTimeout = 5 * time.Second

type HealthChecker interface {
	Health(ctx context.Context) error
}

type Connectivity interface {
	SetOnline(online bool)
}

// Prober polls the server's health endpoint and feeds the result to
// the sync manager
type Prober struct {
	checker  HealthChecker
	target   Connectivity
	interval time.Duration
	clock    backoff.Clock
	online   bool
	probed   bool
}

func NewProber(checker HealthChecker, target Connectivity, interval time.Duration, clock backoff.Clock) *Prober {
	if clock == nil {
		clock = backoff.RealClock()
	}
	return &Prober{checker: checker, target: target, interval: interval, clock: clock}
}

func (p *Prober) Run(ctx context.Context) {
	for {
		p.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}
	}
}

// Check probes once and reports whether the server is reachable
func (p *Prober) Check(ctx context.Context) bool {
	timeout := min(p.interval, maxProbeTimeout)
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	err := p.checker.Health(probeCtx)
	cancel()

	online := err == nil
	if !p.probed || online != p.online {
		if online {
			slog.Info("server reachable")
		} else {
			slog.Warn("server unreachable", "error", err)
		}
	}
	p.online, p.probed = online, true

	p.target.SetOnline(online)
	return online
}
