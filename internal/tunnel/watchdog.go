// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package tunnel

import (
	"context"
	"time"

	"github.com/hearthnode/hearth/internal/logging"
)

// Watchdog polls the tunnel on a fixed interval and restarts it after
// a crash. The manager's manual-stop flag is the sole suppression
// mechanism: a deliberately stopped tunnel stays stopped indefinitely,
// while a crashed one is restarted within one interval. Setup and
// configuration errors are never retried here, only crash-after-
// running.
type Watchdog struct {
	manager  *Manager
	interval time.Duration
}

// NewWatchdog creates a watchdog for the given manager.
func NewWatchdog(manager *Manager, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watchdog{manager: manager, interval: interval}
}

// Serve runs the poll loop until the context is canceled. Implements
// suture.Service.
func (w *Watchdog) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", w.interval).Msg("tunnel watchdog running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick restarts the tunnel when the manager reports a crash. A failed
// restart is logged and retried on the next interval.
func (w *Watchdog) tick(ctx context.Context) {
	if !w.manager.shouldRestart(ctx) {
		return
	}
	logging.Warn().Msg("tunnel crash detected, restarting")
	if _, err := w.manager.Start(ctx); err != nil {
		logging.Err(err).Msg("tunnel auto-restart failed")
	}
}

// String names the service in supervisor logs.
func (w *Watchdog) String() string { return "tunnel-watchdog" }
