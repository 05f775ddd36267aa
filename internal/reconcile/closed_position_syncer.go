package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/clock"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/engine"
	"github.com/lnperp/coordinator/internal/protocolid"
	"github.com/lnperp/coordinator/internal/store"
)

// DefaultClosedPositionInterval matches spec.md §4.6's 30 second cadence.
const DefaultClosedPositionInterval = 30 * time.Second

// OutcomeSource reports a protocol's terminal outcome independent of the
// engine's lossy single-slot event channel, so a dropped completion event
// can still be recovered. internal/engine.Coordinator satisfies this.
type OutcomeSource interface {
	ProtocolOutcome(id protocolid.ID) (engine.Event, bool)
	AckProtocolOutcome(id protocolid.ID)
}

// Finisher is the narrow surface the syncer needs from the executor.
type Finisher interface {
	FinishDlcProtocol(id protocolid.ID, trader string, contractID, channelID []byte) error
}

// ClosedPositionSyncer reconciles on-chain/engine closed contracts into
// Closed position state for crash recovery (spec.md §4.6): if the engine
// completed a protocol but the corresponding event was overwritten on its
// single-slot channel before the Node Event Router read it, this
// reconciler still finds it via OutcomeSource and drives the normal
// executor finalize path.
type ClosedPositionSyncer struct {
	store    *store.Store
	outcomes OutcomeSource
	finish   Finisher
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewClosedPositionSyncer(st *store.Store, outcomes OutcomeSource, finish Finisher, clk clock.Clock, log *zap.SugaredLogger) *ClosedPositionSyncer {
	return &ClosedPositionSyncer{store: st, outcomes: outcomes, finish: finish, clock: clk, log: log, interval: DefaultClosedPositionInterval}
}

func (c *ClosedPositionSyncer) Run(ctx context.Context) {
	run(ctx, c.clock, c.interval, c.log, "closed_position_syncer", c.Once)
}

// Once checks every still-Pending trade-bearing or rollover protocol
// against the engine's own outcome bookkeeping and finalizes any that
// completed. FinishDlcProtocol is idempotent (executor.go), so calling it
// again for a protocol some other path already finished is a safe no-op.
func (c *ClosedPositionSyncer) Once(ctx context.Context) error {
	for _, kind := range []domain.ProtocolKind{domain.KindOpen, domain.KindRenew, domain.KindSettle, domain.KindRollover} {
		pending, err := c.store.ListPendingProtocols(kind)
		if err != nil {
			return fmt.Errorf("closed_position_syncer: list pending %s: %w", kind, err)
		}
		for _, p := range pending {
			ev, done := c.outcomes.ProtocolOutcome(p.ID)
			if !done {
				continue
			}
			if err := c.finish.FinishDlcProtocol(p.ID, p.Trader, ev.ContractID, ev.ChannelID); err != nil {
				c.log.Errorw("closed_position_syncer_finish_failed", "protocol_id", p.ID, "trader", p.Trader, "err", err)
				continue
			}
			c.outcomes.AckProtocolOutcome(p.ID)
			c.log.Infow("closed_position_syncer_recovered", "protocol_id", p.ID, "trader", p.Trader, "kind", kind)
		}
	}
	return nil
}
