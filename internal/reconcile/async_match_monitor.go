package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/store"
)

// AsyncMatchMonitor re-tries delivery of match notifications to offline
// traders when they reconnect (spec.md §4.6): it is purely event-driven,
// fed by the Node Event Router's channel-state-changed handler rather than
// a timer, since there is nothing useful to do between reconnect events.
type AsyncMatchMonitor struct {
	store   *store.Store
	resend  func(trader string) error
	log     *zap.SugaredLogger
	trigger chan string
}

// NewAsyncMatchMonitor takes a resend callback rather than an engine
// interface directly: the callback closes over the store lookup of
// pending protocols for trader and the engine hand-off, letting the
// caller (cmd/coordinatord) wire concrete types without this package
// depending on internal/intake or internal/engine directly.
func NewAsyncMatchMonitor(st *store.Store, resend func(trader string) error, log *zap.SugaredLogger) *AsyncMatchMonitor {
	return &AsyncMatchMonitor{store: st, resend: resend, log: log, trigger: make(chan string, 64)}
}

// Notify should be called by the Node Event Router's channel-state handler
// whenever a trader's channel transitions to reconnected. It never blocks:
// if the trigger buffer is full, the notification is logged and dropped,
// and no resend happens for this trader until a later Notify.
func (m *AsyncMatchMonitor) Notify(trader string) {
	select {
	case m.trigger <- trader:
	default:
		m.log.Warnw("async_match_monitor_trigger_full", "trader", trader)
	}
}

// Run drains Notify triggers until ctx is canceled.
func (m *AsyncMatchMonitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trader := <-m.trigger:
			if err := m.resend(trader); err != nil {
				m.log.Errorw("async_match_monitor_resend_failed", "trader", trader, "err", err)
			}
		}
	}
}
