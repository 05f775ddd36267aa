// Package engine wraps the DLC protocol state machine as an opaque
// library, as spec.md §4.2/§9 requires the executor to treat it: the
// engine owns peer handshakes, adaptor-signature exchange and on-chain
// broadcast; the rest of the coordinator only starts protocols, drains its
// event queue, and reacts to outcomes. Internally it is a thin shim over
// internal/engine/transport (libp2p pubsub wire messages), standing in for
// the real rust-dlc / ldk-node engine the original coordinator embeds. It
// holds an internal/engine/signing signer, but performs no signing itself.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/engine/signing"
	"github.com/lnperp/coordinator/internal/engine/transport"
	"github.com/lnperp/coordinator/internal/protocolid"
)

// EventKind enumerates what the engine can report back to the rest of the
// coordinator through its single-slot event channel (the Node Event
// Router's source, spec.md §4.7).
type EventKind string

const (
	EventProtocolCompleted EventKind = "protocol_completed"
	EventProtocolFailed    EventKind = "protocol_failed"
	EventChannelStateChanged EventKind = "channel_state_changed"
	EventPaymentForwarded  EventKind = "payment_forwarded"
)

// Event is the opaque engine's single notification type. ContractID is
// populated for protocol-completion events (Coordinator leaves ChannelID
// empty); RoutingFeeMsat is populated for forwarded-payment events.
type Event struct {
	Kind         EventKind
	ProtocolID   protocolid.ID
	Trader       string
	ContractID   []byte
	ChannelID    []byte
	RoutingFeeMsat int64
}

// Engine is the minimal surface the rest of the coordinator needs from the
// opaque DLC engine. It satisfies intake.Engine (BeginProtocol) and adds
// the message-pump and event-router hooks spec.md §4.5/§4.7 describe.
type Engine interface {
	BeginProtocol(protocolID protocolid.ID, kind domain.ProtocolKind, counterparty string) error
	ProcessIncomingDlcMessages(ctx context.Context) error
	Events() <-chan Event
}

// Coordinator is the production Engine: it tracks active protocols over a
// transport.Transport peer channel and surfaces outcomes on a single-slot
// (overwrite-on-full) event channel per spec.md §4.7. Its
// signing.ThresholdSigner is stored but not called by any method.
type Coordinator struct {
	transport *transport.Transport
	signer    signing.ThresholdSigner
	log       *zap.SugaredLogger

	mu        sync.Mutex
	active    map[protocolid.ID]domain.ProtocolKind
	completed map[protocolid.ID]Event
	events    chan Event
}

func New(tp *transport.Transport, signer signing.ThresholdSigner, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		transport: tp,
		signer:    signer,
		log:       log,
		active:    make(map[protocolid.ID]domain.ProtocolKind),
		completed: make(map[protocolid.ID]Event),
		events:    make(chan Event, 1),
	}
}

// BeginProtocol records the protocol as in-flight and emits its opening
// wire message. Calling it again for the same id re-records it and sends
// the opening message again.
func (c *Coordinator) BeginProtocol(id protocolid.ID, kind domain.ProtocolKind, counterparty string) error {
	c.mu.Lock()
	c.active[id] = kind
	c.mu.Unlock()

	msg := transport.Message{
		Reference: id.Reference(),
		Kind:      kind.String(),
	}
	if err := c.transport.Send(context.Background(), msg); err != nil {
		return fmt.Errorf("engine: begin protocol %s: %w", id, err)
	}
	return nil
}

// ProcessIncomingDlcMessages drains the transport's inbox and treats every
// message whose reference names an active protocol as that protocol's
// completion, with the message payload as its contract id; no signature is
// built or checked. It is meant to be called by the
// Message Pump on its ~200ms cadence, never concurrently with itself.
func (c *Coordinator) ProcessIncomingDlcMessages(ctx context.Context) error {
	for _, msg := range c.transport.DrainInbound() {
		id, err := protocolid.ParseReference(msg.Reference)
		if err != nil {
			c.log.Warnw("engine_inbound_bad_reference", "err", err)
			continue
		}
		c.mu.Lock()
		_, known := c.active[id]
		c.mu.Unlock()
		if !known {
			c.log.Warnw("engine_inbound_unknown_protocol", "protocol_id", id)
			continue
		}
		ev := Event{Kind: EventProtocolCompleted, ProtocolID: id, Trader: msg.Kind, ContractID: msg.Payload}
		c.emit(ev)
		c.mu.Lock()
		delete(c.active, id)
		c.completed[id] = ev
		c.mu.Unlock()
	}
	return nil
}

// Events exposes the single-slot event channel the Node Event Router
// reads from. Overwrite-on-full semantics live in emit, not here.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// ProtocolOutcome reports a protocol's terminal outcome independent of the
// lossy single-slot event channel: the closed-position syncer reconciler
// uses this to recover a completion that was overwritten on the events
// channel before anything read it. The second return value is false if
// the protocol has not (yet, as far as this engine knows) completed.
func (c *Coordinator) ProtocolOutcome(id protocolid.ID) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.completed[id]
	return ev, ok
}

// AckProtocolOutcome drops a recorded outcome once the caller (normally
// the closed-position syncer, after it has called FinishDlcProtocol) no
// longer needs it. Safe to call even if the outcome was never recorded.
func (c *Coordinator) AckProtocolOutcome(id protocolid.ID) {
	c.mu.Lock()
	delete(c.completed, id)
	c.mu.Unlock()
}

// emit implements the lossy single-slot channel spec.md §4.7 calls for:
// if the router hasn't drained the previous event, it is discarded in
// favor of the newer one rather than blocking the engine.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- ev:
		default:
		}
	}
}
