package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/clock"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/store"
)

// DefaultRolloverCheckInterval is the periodic half of spec.md §4.6's
// "event-driven + periodic" cadence: the monitor also reacts immediately
// to channel-state-changed events via Trigger, but falls back to this
// sweep so a missed event never silently stalls a rollover.
const DefaultRolloverCheckInterval = time.Minute

// DefaultRolloverWindow is how far ahead of contract expiry a position
// becomes eligible for rollover.
const DefaultRolloverWindow = 2 * time.Hour

// RolloverMonitor detects positions approaching contract expiry and opens
// a Rollover protocol for them, deduplicating against any rollover that is
// already in flight for that trader.
type RolloverMonitor struct {
	store    *store.Store
	intake   Intake
	window   time.Duration
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewRolloverMonitor(st *store.Store, intake Intake, clk clock.Clock, log *zap.SugaredLogger) *RolloverMonitor {
	return &RolloverMonitor{store: st, intake: intake, window: DefaultRolloverWindow, clock: clk, log: log, interval: DefaultRolloverCheckInterval}
}

func (m *RolloverMonitor) Run(ctx context.Context) {
	run(ctx, m.clock, m.interval, m.log, "rollover_monitor", m.Once)
}

// Trigger is the event-driven half: the Node Event Router calls this on a
// channel-state-changed event so a rollover can start as soon as the
// channel is ready, without waiting for the next periodic sweep.
func (m *RolloverMonitor) Trigger(ctx context.Context, trader string, sym domain.ContractSymbol) {
	pos, err := m.store.GetPositionByTrader(trader, sym, []domain.PositionState{domain.PositionOpen})
	if err != nil || !m.dueForRollover(pos) {
		return // no Open position, or not yet within the rollover window
	}
	if err := m.checkOne(trader, sym); err != nil {
		m.log.Errorw("rollover_monitor_trigger_failed", "trader", trader, "symbol", sym, "err", err)
	}
}

// Once sweeps every Open position within the rollover window of its
// contract's expiry and starts a Rollover for it, skipping any trader that
// already has one pending.
func (m *RolloverMonitor) Once(ctx context.Context) error {
	positions, err := m.store.ListPositions([]domain.PositionState{domain.PositionOpen})
	if err != nil {
		return fmt.Errorf("rollover_monitor: list positions: %w", err)
	}
	for _, pos := range positions {
		if !m.dueForRollover(pos) {
			continue
		}
		if err := m.checkOne(pos.Trader, pos.ContractSym); err != nil {
			m.log.Errorw("rollover_monitor_start_failed", "trader", pos.Trader, "symbol", pos.ContractSym, "err", err)
		}
	}
	return nil
}

func (m *RolloverMonitor) dueForRollover(pos domain.Position) bool {
	if pos.Expiry.IsZero() {
		return false
	}
	now := m.clock.Now()
	return pos.Expiry.After(now) && pos.Expiry.Before(now.Add(m.window))
}

func (m *RolloverMonitor) checkOne(trader string, sym domain.ContractSymbol) error {
	pending, err := m.store.ListPendingProtocols(domain.KindRollover)
	if err != nil {
		return fmt.Errorf("list pending rollovers: %w", err)
	}
	for _, p := range pending {
		if p.Trader == trader && p.Type.ContractSym == sym {
			return nil // already in flight, idempotent skip
		}
	}
	if _, err := m.intake.StartRollover(trader, sym); err != nil {
		return err
	}
	m.log.Infow("rollover_monitor_started", "trader", trader, "symbol", sym)
	return nil
}
