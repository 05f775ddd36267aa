package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/engine"
	"github.com/lnperp/coordinator/internal/protocolid"
	"github.com/lnperp/coordinator/internal/store"
)

type fakeClock struct{ now time.Time }

func (f fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}
func (f fakeClock) Now() time.Time { return f.now }

type fakeOracle struct {
	attestation domain.OracleAttestation
	err         error
}

func (o fakeOracle) Attest(ctx context.Context, contractID []byte) (domain.OracleAttestation, error) {
	return o.attestation, o.err
}

type fakeIntake struct {
	settled   []string
	rollovers []string
}

func (f *fakeIntake) SettleAtExpiry(trader string, sym domain.ContractSymbol, attestation domain.OracleAttestation) (protocolid.ID, error) {
	f.settled = append(f.settled, trader)
	return protocolid.New(), nil
}

func (f *fakeIntake) StartRollover(trader string, sym domain.ContractSymbol) (protocolid.ID, error) {
	f.rollovers = append(f.rollovers, trader)
	return protocolid.New(), nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExpiredPositionCloserSettlesPastExpiry(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()

	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd,
		State: domain.PositionOpen, Expiry: now.Add(-time.Minute),
	}))
	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: "trader-b", ContractSym: domain.SymbolBtcUsd,
		State: domain.PositionOpen, Expiry: now.Add(time.Hour),
	}))

	fi := &fakeIntake{}
	closer := NewExpiredPositionCloser(st, fi, fakeOracle{attestation: domain.OracleAttestation{Price: decimal.NewFromInt(31000)}}, fakeClock{now: now}, zap.NewNop().Sugar())

	require.NoError(t, closer.Once(context.Background()))
	require.Equal(t, []string{"trader-a"}, fi.settled)
}

func TestRolloverMonitorSkipsAlreadyInFlight(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()

	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd,
		State: domain.PositionOpen, Expiry: now.Add(30 * time.Minute),
	}))

	fi := &fakeIntake{}
	mon := NewRolloverMonitor(st, fi, fakeClock{now: now}, zap.NewNop().Sugar())
	require.NoError(t, mon.Once(context.Background()))
	require.Equal(t, []string{"trader-a"}, fi.rollovers)

	// Start a Rollover protocol for trader-a directly so the next sweep
	// sees it as already in flight.
	require.NoError(t, st.Update(func(tx *store.Tx) error {
		return tx.CreateProtocol(domain.Protocol{
			ID: protocolid.New(), Trader: "trader-a",
			Type: domain.ProtocolType{Kind: domain.KindRollover, Trader: "trader-a", ContractSym: domain.SymbolBtcUsd},
		})
	}))

	fi2 := &fakeIntake{}
	mon2 := NewRolloverMonitor(st, fi2, fakeClock{now: now}, zap.NewNop().Sugar())
	require.NoError(t, mon2.Once(context.Background()))
	require.Empty(t, fi2.rollovers)
}

func TestRolloverMonitorIgnoresPositionsOutsideWindow(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()

	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd,
		State: domain.PositionOpen, Expiry: now.Add(24 * time.Hour),
	}))

	fi := &fakeIntake{}
	mon := NewRolloverMonitor(st, fi, fakeClock{now: now}, zap.NewNop().Sugar())
	require.NoError(t, mon.Once(context.Background()))
	require.Empty(t, fi.rollovers)
}

type fakeMarkSource struct{ price decimal.Decimal }

func (f fakeMarkSource) MarkPrice(ctx context.Context, sym domain.ContractSymbol) (decimal.Decimal, error) {
	return f.price, nil
}

func TestUnrealizedPnLSyncerComputesForOpenPositions(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd,
		State: domain.PositionOpen, Direction: domain.Long,
		AverageEntryPrice: decimal.NewFromInt(30000), Quantity: decimal.NewFromInt(1000),
		TraderMargin: decimal.NewFromInt(500000), CoordinatorMargin: decimal.NewFromInt(500000),
	}))

	cache := NewUnrealizedPnLCache()
	syncer := NewUnrealizedPnLSyncer(st, fakeMarkSource{price: decimal.NewFromInt(31000)}, cache, fakeClock{now: time.Now()}, zap.NewNop().Sugar())
	require.NoError(t, syncer.Once(context.Background()))

	pnl := cache.Get("trader-a", domain.SymbolBtcUsd)
	require.True(t, pnl.IsPositive(), "long position marked up should show positive unrealized pnl, got %s", pnl)
}

func TestClosedPositionSyncerRecoversDroppedOutcome(t *testing.T) {
	st := openTestStore(t)
	protoID := protocolid.New()
	require.NoError(t, st.Update(func(tx *store.Tx) error {
		return tx.CreateProtocol(domain.Protocol{
			ID: protoID, Trader: "trader-a",
			Type: domain.ProtocolType{Kind: domain.KindRollover, Trader: "trader-a", ContractSym: domain.SymbolBtcUsd},
		})
	}))

	outcomes := &fakeOutcomeSource{outcomes: map[protocolid.ID]fakeOutcome{
		protoID: {contractID: []byte("c2"), done: true},
	}}
	finisher := &fakeFinisher{}
	syncer := NewClosedPositionSyncer(st, outcomes, finisher, fakeClock{now: time.Now()}, zap.NewNop().Sugar())

	require.NoError(t, syncer.Once(context.Background()))
	require.Len(t, finisher.finished, 1)
	require.Equal(t, protoID, finisher.finished[0])
	require.True(t, outcomes.acked[protoID])
}

type fakeOutcome struct {
	contractID []byte
	done       bool
}

type fakeOutcomeSource struct {
	outcomes map[protocolid.ID]fakeOutcome
	acked    map[protocolid.ID]bool
}

func (f *fakeOutcomeSource) ProtocolOutcome(id protocolid.ID) (engine.Event, bool) {
	o, ok := f.outcomes[id]
	if !ok {
		return engine.Event{}, false
	}
	return engine.Event{ContractID: o.contractID}, o.done
}

func (f *fakeOutcomeSource) AckProtocolOutcome(id protocolid.ID) {
	if f.acked == nil {
		f.acked = make(map[protocolid.ID]bool)
	}
	f.acked[id] = true
}

type fakeFinisher struct{ finished []protocolid.ID }

func (f *fakeFinisher) FinishDlcProtocol(id protocolid.ID, trader string, contractID, channelID []byte) error {
	f.finished = append(f.finished, id)
	return nil
}
