package pump

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock lets a test step the pump's ticker deterministically instead
// of waiting out a real 200ms interval.
type fakeClock struct {
	tick chan time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{tick: make(chan time.Time)} }

func (f *fakeClock) After(time.Duration) <-chan time.Time { return f.tick }
func (f *fakeClock) Now() time.Time                       { return time.Now() }
func (f *fakeClock) advance()                             { f.tick <- time.Now() }

type countingEngine struct {
	drains int32
	err    error
}

func (e *countingEngine) ProcessIncomingDlcMessages(ctx context.Context) error {
	atomic.AddInt32(&e.drains, 1)
	return e.err
}

func TestPumpDrainsOnEachTick(t *testing.T) {
	eng := &countingEngine{}
	fc := newFakeClock()
	p := New(eng, DefaultInterval, fc, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	fc.advance()
	fc.advance()
	fc.advance()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&eng.drains) == 3
	}, time.Second, time.Millisecond)
}

func TestPumpStopsOnContextCancel(t *testing.T) {
	eng := &countingEngine{}
	fc := newFakeClock()
	p := New(eng, DefaultInterval, fc, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after context cancel")
	}
}

func TestPumpLogsDrainErrorAndContinues(t *testing.T) {
	eng := &countingEngine{err: context.DeadlineExceeded}
	fc := newFakeClock()
	p := New(eng, DefaultInterval, fc, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	fc.advance()
	fc.advance()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&eng.drains) == 2
	}, time.Second, time.Millisecond)
}
