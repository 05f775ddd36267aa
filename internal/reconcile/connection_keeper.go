package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/clock"
)

// DefaultConnectionKeeperInterval matches spec.md §4.6's 30 second cadence.
const DefaultConnectionKeeperInterval = 30 * time.Second

// PeerDialer is the narrow surface the keeper needs from the DLC message
// transport: redial whichever configured public peers are currently
// disconnected. internal/engine/transport.Transport.Reconnect satisfies
// this directly.
type PeerDialer interface {
	Reconnect(ctx context.Context) []error
}

// ConnectionKeeper dials public-channel peers that are currently
// disconnected (spec.md §4.6).
type ConnectionKeeper struct {
	dialer   PeerDialer
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewConnectionKeeper(dialer PeerDialer, clk clock.Clock, log *zap.SugaredLogger) *ConnectionKeeper {
	return &ConnectionKeeper{dialer: dialer, clock: clk, log: log, interval: DefaultConnectionKeeperInterval}
}

func (k *ConnectionKeeper) Run(ctx context.Context) {
	run(ctx, k.clock, k.interval, k.log, "connection_keeper", k.Once)
}

func (k *ConnectionKeeper) Once(ctx context.Context) error {
	for _, err := range k.dialer.Reconnect(ctx) {
		k.log.Warnw("connection_keeper_dial_failed", "err", err)
	}
	return nil
}
