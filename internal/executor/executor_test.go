package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/broadcast"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
	"github.com/lnperp/coordinator/internal/store"
)

func newTestExecutor(t *testing.T) (*Executor, *store.Store, *broadcast.Bus) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := broadcast.NewBus(10)
	return New(st, bus, zap.NewNop().Sugar()), st, bus
}

func openTradeParams(protoID protocolid.ID, trader string) domain.TradeParams {
	return domain.TradeParams{
		ProtocolID:   protoID,
		Trader:       trader,
		Quantity:     decimal.NewFromInt(1000),
		Leverage:     decimal.NewFromInt(2),
		AveragePrice: decimal.NewFromInt(30000),
		Direction:    domain.Long,
		ContractSym:  domain.SymbolBtcUsd,
	}
}

// scenario 1: Open
func TestOpenScenario(t *testing.T) {
	ex, st, bus := newTestExecutor(t)
	sub := bus.Subscribe()
	trader := "trader-a"

	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: trader, ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed,
	}))

	protoID := protocolid.New()
	tp := openTradeParams(protoID, trader)
	require.NoError(t, ex.StartDlcProtocol(domain.Protocol{
		ID:     protoID,
		Trader: trader,
		Type:   domain.ProtocolType{Kind: domain.KindOpen, TradeParams: tp, ContractSym: domain.SymbolBtcUsd},
	}))

	_, err := st.GetTradeParams(protoID)
	require.NoError(t, err)

	require.NoError(t, ex.FinishDlcProtocol(protoID, trader, []byte("contract-1"), []byte("channel-1")))

	pos, err := st.GetPositionByTrader(trader, domain.SymbolBtcUsd, []domain.PositionState{domain.PositionOpen})
	require.NoError(t, err)
	require.True(t, pos.Quantity.Equal(decimal.NewFromInt(1000)))
	require.True(t, pos.AverageEntryPrice.Equal(decimal.NewFromInt(30000)))

	_, err = st.GetTradeParams(protoID)
	require.Error(t, err, "trade params must be deleted after finalize")

	msg, lag, ok := sub.Recv(context.Background())
	require.True(t, ok)
	require.Zero(t, lag)
	require.True(t, msg.SignedQuantity.Equal(decimal.NewFromInt(-1000)), "Long trader inverts sign: got %s", msg.SignedQuantity)
}

// scenario 4: Failed Open
func TestFailedOpenScenario(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	trader := "trader-a"
	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: trader, ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed,
	}))

	protoID := protocolid.New()
	tp := openTradeParams(protoID, trader)
	require.NoError(t, ex.StartDlcProtocol(domain.Protocol{
		ID:     protoID,
		Trader: trader,
		Type:   domain.ProtocolType{Kind: domain.KindOpen, TradeParams: tp, ContractSym: domain.SymbolBtcUsd},
	}))

	require.NoError(t, ex.FailDlcProtocol(protoID))
	// idempotent
	require.NoError(t, ex.FailDlcProtocol(protoID))

	p, err := st.GetProtocol(protoID)
	require.NoError(t, err)
	require.Equal(t, domain.ProtocolFailed, p.State)

	pos, err := st.GetPositionByTrader(trader, domain.SymbolBtcUsd, []domain.PositionState{domain.PositionProposed})
	require.NoError(t, err, "position remains Proposed: fail does not revert it")
	require.Equal(t, domain.PositionProposed, pos.State)

	_, err = st.GetTradeParams(protoID)
	require.NoError(t, err, "trade params remain for operator triage")
}

// scenario 2: Settle closing a long
func TestSettleScenario(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	trader := "trader-a"

	posID := protocolid.New()
	require.NoError(t, st.CreatePosition(domain.Position{
		ID: posID, Trader: trader, ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed,
	}))
	openProtoID := protocolid.New()
	openTP := openTradeParams(openProtoID, trader)
	require.NoError(t, ex.StartDlcProtocol(domain.Protocol{
		ID: openProtoID, Trader: trader,
		Type: domain.ProtocolType{Kind: domain.KindOpen, TradeParams: openTP, ContractSym: domain.SymbolBtcUsd},
	}))
	require.NoError(t, ex.FinishDlcProtocol(openProtoID, trader, []byte("contract-1"), []byte("channel-1")))

	closingPrice := decimal.NewFromInt(33000)
	require.NoError(t, st.SetPositionClosing(trader, domain.SymbolBtcUsd, closingPrice))

	settleProtoID := protocolid.New()
	settleTP := domain.TradeParams{
		ProtocolID: settleProtoID, Trader: trader,
		Quantity: decimal.NewFromInt(1000), Leverage: decimal.NewFromInt(2),
		AveragePrice: closingPrice, Direction: domain.Short, ContractSym: domain.SymbolBtcUsd,
	}
	require.NoError(t, ex.StartDlcProtocol(domain.Protocol{
		ID: settleProtoID, Trader: trader,
		Type: domain.ProtocolType{Kind: domain.KindSettle, TradeParams: settleTP, ContractSym: domain.SymbolBtcUsd},
	}))
	require.NoError(t, ex.FinishDlcProtocol(settleProtoID, trader, nil, []byte("channel-1")))

	final, err := st.GetPositionByTrader(trader, domain.SymbolBtcUsd, []domain.PositionState{domain.PositionClosed})
	require.NoError(t, err)
	require.NotNil(t, final.PNL)
	require.True(t, final.PNL.IsPositive(), "long closed at a higher price should profit")
}

// scenario 3: Rollover
func TestRolloverScenario(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	trader := "trader-a"

	require.NoError(t, st.CreatePosition(domain.Position{
		ID: protocolid.New(), Trader: trader, ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed,
	}))
	openProtoID := protocolid.New()
	openTP := openTradeParams(openProtoID, trader)
	require.NoError(t, ex.StartDlcProtocol(domain.Protocol{
		ID: openProtoID, Trader: trader,
		Type: domain.ProtocolType{Kind: domain.KindOpen, TradeParams: openTP, ContractSym: domain.SymbolBtcUsd},
	}))
	require.NoError(t, ex.FinishDlcProtocol(openProtoID, trader, []byte("contract-1"), []byte("channel-1")))

	rolloverProtoID := protocolid.New()
	require.NoError(t, ex.StartDlcProtocol(domain.Protocol{
		ID: rolloverProtoID, Trader: trader,
		Type: domain.ProtocolType{Kind: domain.KindRollover, Trader: trader, ContractSym: domain.SymbolBtcUsd},
	}))
	require.NoError(t, ex.FinishDlcProtocol(rolloverProtoID, trader, []byte("contract-2"), []byte("channel-1")))

	pos, err := st.GetPositionByTrader(trader, domain.SymbolBtcUsd, []domain.PositionState{domain.PositionOpen})
	require.NoError(t, err)
	require.Equal(t, []byte("contract-2"), pos.ContractID)
}

func TestFinishDlcProtocolRejectsCloseAndForceClose(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	trader := "trader-a"
	id := protocolid.New()
	require.NoError(t, ex.StartDlcProtocol(domain.Protocol{
		ID: id, Trader: trader,
		Type: domain.ProtocolType{Kind: domain.KindClose, Trader: trader, ContractSym: domain.SymbolBtcUsd},
	}))
	err := ex.FinishDlcProtocol(id, trader, nil, nil)
	require.ErrorIs(t, err, ErrNoFinishPath)
}
