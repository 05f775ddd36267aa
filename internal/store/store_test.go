package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateProtocolRoundTrip(t *testing.T) {
	s := openTestStore(t)
	id := protocolid.New()

	err := s.Update(func(tx *Tx) error {
		return tx.CreateProtocol(domain.Protocol{ID: id, Trader: "trader-a", Type: domain.ProtocolType{Kind: domain.KindOpen}})
	})
	require.NoError(t, err)

	got, err := s.GetProtocol(id)
	require.NoError(t, err)
	require.Equal(t, domain.ProtocolPending, got.State)
	require.Equal(t, "trader-a", got.Trader)
}

func TestCreateProtocolRejectsDuplicateID(t *testing.T) {
	s := openTestStore(t)
	id := protocolid.New()
	mk := func() error {
		return s.Update(func(tx *Tx) error {
			return tx.CreateProtocol(domain.Protocol{ID: id, Trader: "trader-a"})
		})
	}
	require.NoError(t, mk())
	require.ErrorIs(t, mk(), ErrAlreadyExists)
}

func TestCreatePositionEnforcesI2(t *testing.T) {
	s := openTestStore(t)
	pos := domain.Position{ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed}
	require.NoError(t, s.CreatePosition(pos))

	dup := domain.Position{ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed}
	require.ErrorIs(t, s.CreatePosition(dup), ErrAlreadyExists)
}

func TestCreatePositionAllowsNewAfterClosed(t *testing.T) {
	s := openTestStore(t)
	first := domain.Position{ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed}
	require.NoError(t, s.CreatePosition(first))

	pnl := decimal.NewFromInt(100)
	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.SetPositionClosedWithPNL(first.ID, pnl)
	}))

	second := domain.Position{ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed}
	require.NoError(t, s.CreatePosition(second))

	got, err := s.GetPositionByTrader("trader-a", domain.SymbolBtcUsd, []domain.PositionState{domain.PositionProposed})
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
}

func TestUpdateProposedPositionTransitionsAndFailsWithoutProposed(t *testing.T) {
	s := openTestStore(t)
	pos := domain.Position{ID: protocolid.New(), Trader: "trader-a", ContractSym: domain.SymbolBtcUsd, State: domain.PositionProposed}
	require.NoError(t, s.CreatePosition(pos))

	err := s.Update(func(tx *Tx) error {
		_, err := tx.UpdateProposedPosition("trader-a", domain.SymbolBtcUsd, domain.PositionOpen)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetPositionByTrader("trader-a", domain.SymbolBtcUsd, []domain.PositionState{domain.PositionOpen})
	require.NoError(t, err)
	require.Equal(t, domain.PositionOpen, got.State)

	err = s.Update(func(tx *Tx) error {
		_, err := tx.UpdateProposedPosition("trader-a", domain.SymbolBtcUsd, domain.PositionOpen)
		return err
	})
	require.ErrorIs(t, err, ErrInvariant)
}

func TestFinalizeTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	id := protocolid.New()

	err := s.Update(func(tx *Tx) error {
		if err := tx.CreateProtocol(domain.Protocol{ID: id, Trader: "trader-a"}); err != nil {
			return err
		}
		return tx.SetPositionToOpen("trader-a", domain.SymbolBtcUsd, []byte("contract"), id) // no position exists: fails
	})
	require.Error(t, err)

	_, getErr := s.GetProtocol(id)
	require.ErrorIs(t, getErr, ErrNotFound, "protocol write must have rolled back with the rest of the transaction")
}

func TestOrderSaveLoadDelete(t *testing.T) {
	s := openTestStore(t)
	o := domain.Order{ID: "o1", TraderID: "trader-a", Price: decimal.NewFromInt(30000), Quantity: decimal.NewFromInt(10)}
	require.NoError(t, s.SaveOrder(o))

	open, err := s.LoadOpenOrders("trader-a")
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, s.DeleteOrder("trader-a", "o1"))
	open, err = s.LoadOpenOrders("trader-a")
	require.NoError(t, err)
	require.Empty(t, open)
}
