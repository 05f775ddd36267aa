package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/engine"
	"github.com/lnperp/coordinator/internal/protocolid"
)

type fakeEngine struct {
	events chan engine.Event
}

func newFakeEngine(capacity int) *fakeEngine { return &fakeEngine{events: make(chan engine.Event, capacity)} }

func (f *fakeEngine) BeginProtocol(protocolid.ID, domain.ProtocolKind, string) error { return nil }
func (f *fakeEngine) ProcessIncomingDlcMessages(ctx context.Context) error           { return nil }
func (f *fakeEngine) Events() <-chan engine.Event                                   { return f.events }

func TestRouterAccumulatesRoutingFees(t *testing.T) {
	eng := newFakeEngine(4)
	fees := &RoutingFeeAccount{}
	r := New(eng, fees, nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	eng.events <- engine.Event{Kind: engine.EventPaymentForwarded, RoutingFeeMsat: 10}
	eng.events <- engine.Event{Kind: engine.EventPaymentForwarded, RoutingFeeMsat: 25}

	require.Eventually(t, func() bool {
		return fees.TotalMsat() == 35
	}, time.Second, time.Millisecond, "routing fees should be additive across events, not per-call counts")
}

func TestRouterDispatchesChannelStateEvents(t *testing.T) {
	eng := newFakeEngine(4)
	var received []engine.Event
	done := make(chan struct{}, 10)
	r := New(eng, nil, func(ev engine.Event) {
		received = append(received, ev)
		done <- struct{}{}
	}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	eng.events <- engine.Event{Kind: engine.EventChannelStateChanged, Trader: "trader-a"}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("channel state handler was not invoked")
	}
	require.Len(t, received, 1)
	require.Equal(t, "trader-a", received[0].Trader)
}

func TestRouterStopsOnContextCancel(t *testing.T) {
	eng := newFakeEngine(1)
	r := New(eng, nil, nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not exit after context cancel")
	}
}
