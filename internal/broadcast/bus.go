// Package broadcast is the Position-Update Broadcast Bus: fan-out of
// position-change events to interested consumers (user websocket sessions)
// without ever blocking the executor that publishes them.
//
// The teacher's pkg/api/websocket.go Hub disconnects a client outright when
// its send buffer fills. Design guidance for this system asks for the
// opposite: a bounded ring buffer where a slow subscriber's unread messages
// are overwritten, and the subscriber can see how far it has fallen behind
// and refetch state instead of being dropped from the bus entirely. This
// mirrors Rust's tokio::sync::broadcast, which the original coordinator
// used for the same purpose.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lnperp/coordinator/internal/domain"
)

// NewTrade is the message published after the executor commits a
// trade-bearing protocol finalize. SignedQuantity follows the sign
// convention in spec.md §4.3: positive when the trader sold (coordinator
// is long), negative when the trader bought.
type NewTrade struct {
	Trader            string
	Symbol            domain.ContractSymbol
	SignedQuantity    decimal.Decimal
	AverageEntryPrice decimal.Decimal
	Timestamp         time.Time
}

// Bus is a bounded ring buffer of NewTrade messages shared by every
// subscriber. Publish never blocks: once the ring is full, the oldest
// unread entry is overwritten and any subscriber that had not yet read it
// observes its own Lag grow on next Recv.
type Bus struct {
	mu    sync.Mutex
	cond  *sync.Cond
	ring  []NewTrade
	head  uint64 // sequence number of the oldest entry still in ring
	next  uint64 // sequence number that will be assigned to the next Publish
	cap   uint64
	closed bool
}

// DefaultCapacity matches spec.md §4.8's "capacity ~= 100".
const DefaultCapacity = 100

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{ring: make([]NewTrade, capacity), cap: uint64(capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends msg to the ring and wakes any subscriber waiting on
// Recv. It never blocks on a slow consumer.
func (b *Bus) Publish(msg NewTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ring[b.next%b.cap] = msg
	b.next++
	if b.next-b.head > b.cap {
		b.head = b.next - b.cap
	}
	b.cond.Broadcast()
}

// Close wakes all blocked subscribers so they can observe shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Subscriber reads published messages in publish order, with gaps reported
// as Lag whenever it fell behind far enough that the ring overwrote
// messages it had not yet consumed.
type Subscriber struct {
	bus  *Bus
	next uint64 // next sequence number this subscriber wants to read
}

// Subscribe returns a Subscriber positioned just past the newest entry in
// the ring: it will only observe messages published from this point on.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Subscriber{bus: b, next: b.next}
}

// Recv blocks until a message is available, the bus is closed, or ctx is
// done. lag is the number of messages silently skipped since the
// subscriber's last Recv because the ring overwrote them first.
func (s *Subscriber) Recv(ctx context.Context) (msg NewTrade, lag uint64, ok bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.bus.mu.Lock()
			s.bus.cond.Broadcast()
			s.bus.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for s.next >= s.bus.next && !s.bus.closed {
		if ctx.Err() != nil {
			return NewTrade{}, 0, false
		}
		s.bus.cond.Wait()
	}
	if s.next >= s.bus.next && s.bus.closed {
		return NewTrade{}, 0, false
	}

	if s.next < s.bus.head {
		lag = s.bus.head - s.next
		s.next = s.bus.head
	}
	msg = s.bus.ring[s.next%s.bus.cap]
	s.next++
	return msg, lag, true
}
