// Package pump implements the DLC Message Pump: a cooperative loop that
// periodically off-loads engine.ProcessIncomingDlcMessages to a blocking
// worker, draining the peer transport queue and advancing protocol state.
package pump

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/clock"
)

const DefaultInterval = 200 * time.Millisecond

// Engine is the minimal surface the pump needs: a single call that drains
// inbound DLC wire messages and advances whatever protocols they reference.
type Engine interface {
	ProcessIncomingDlcMessages(ctx context.Context) error
}

// Pump runs Engine.ProcessIncomingDlcMessages on a fixed interval, never
// concurrently with itself: each tick waits for the previous drain to
// finish before scheduling the next one, so there is no explicit mutex —
// the loop body itself is the serialization point.
type Pump struct {
	engine   Engine
	interval time.Duration
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func New(eng Engine, interval time.Duration, clk clock.Clock, log *zap.SugaredLogger) *Pump {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pump{engine: eng, interval: interval, clock: clk, log: log}
}

// Run blocks until ctx is canceled. Per spec.md §5, shutdown lets the
// current drain finish before the loop exits — it does not cancel
// mid-drain.
func (p *Pump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}

		if err := p.engine.ProcessIncomingDlcMessages(ctx); err != nil {
			p.log.Errorw("dlc_message_pump_drain_failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
