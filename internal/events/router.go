// Package events implements the Node Event Router: it subscribes to the
// opaque DLC engine's single-slot event channel and routes each event it
// observes, most importantly accumulating routing-fee accounting for
// forwarded payments. Because the channel is lossy (only the latest event
// survives if the router falls behind), routing-fee counters are additive
// and derived purely from the event payload, never from a count of calls.
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/engine"
)

// RoutingFeeAccount accumulates routing fees observed in forwarded-payment
// events. Safe for concurrent use: the router is its only writer, and
// TotalMsat may be called from any goroutine.
type RoutingFeeAccount struct {
	totalMsat int64
}

func (a *RoutingFeeAccount) Add(msat int64) { atomic.AddInt64(&a.totalMsat, msat) }
func (a *RoutingFeeAccount) TotalMsat() int64 { return atomic.LoadInt64(&a.totalMsat) }

// ChannelStateHandler reacts to channel-state-changed events, e.g. to wake
// the connection-keeper or rollover-monitor reconcilers.
type ChannelStateHandler func(ev engine.Event)

// Router drains the engine's event channel and dispatches by kind.
type Router struct {
	events  <-chan engine.Event
	fees    *RoutingFeeAccount
	onState ChannelStateHandler
	log     *zap.SugaredLogger

	mu   sync.Mutex
	last engine.Event
}

func New(eng engine.Engine, fees *RoutingFeeAccount, onState ChannelStateHandler, log *zap.SugaredLogger) *Router {
	return &Router{events: eng.Events(), fees: fees, onState: onState, log: log}
}

// Run blocks until ctx is canceled, reading and routing one event at a
// time. If producers outpace this loop, intermediate events are simply
// never read — the channel itself (internal/engine's single-slot,
// overwrite-on-full buffer) is where that loss happens, not here.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.route(ev)
		}
	}
}

func (r *Router) route(ev engine.Event) {
	r.mu.Lock()
	r.last = ev
	r.mu.Unlock()

	switch ev.Kind {
	case engine.EventPaymentForwarded:
		if r.fees != nil {
			r.fees.Add(ev.RoutingFeeMsat)
		}
	case engine.EventChannelStateChanged:
		if r.onState != nil {
			r.onState(ev)
		}
	case engine.EventProtocolCompleted, engine.EventProtocolFailed:
		r.log.Infow("engine_event_routed", "kind", ev.Kind, "protocol_id", ev.ProtocolID, "trader", ev.Trader)
	default:
		r.log.Warnw("engine_event_unrecognized_kind", "kind", ev.Kind)
	}
}

// LastEvent returns the most recently routed event, for diagnostics.
func (r *Router) LastEvent() engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
