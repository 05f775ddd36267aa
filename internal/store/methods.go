package store

import (
	"github.com/shopspring/decimal"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
)

// ---- Tx: used inside the executor's multi-step finalize transactions ----

func (tx *Tx) CreateProtocol(p domain.Protocol) error { return createProtocol(tx.batch, p) }
func (tx *Tx) GetProtocol(id protocolid.ID) (domain.Protocol, error) {
	return getProtocol(tx.batch, id)
}
func (tx *Tx) SetProtocolSuccess(id protocolid.ID, contractID, channelID []byte) error {
	return setProtocolSuccess(tx.batch, id, contractID, channelID)
}
func (tx *Tx) SetProtocolFailed(id protocolid.ID) error { return setProtocolFailed(tx.batch, id) }

func (tx *Tx) InsertTradeParams(tp domain.TradeParams) error { return insertTradeParams(tx.batch, tp) }
func (tx *Tx) GetTradeParams(id protocolid.ID) (domain.TradeParams, error) {
	return getTradeParams(tx.batch, id)
}
func (tx *Tx) DeleteTradeParams(id protocolid.ID) error { return deleteTradeParams(tx.batch, id) }

func (tx *Tx) GetPositionByTrader(trader string, sym domain.ContractSymbol, allowed []domain.PositionState) (domain.Position, error) {
	return getPositionByTrader(tx.batch, trader, sym, allowed)
}
func (tx *Tx) UpdateProposedPosition(trader string, sym domain.ContractSymbol, newState domain.PositionState) (domain.Position, error) {
	return updateProposedPosition(tx.batch, trader, sym, newState)
}
func (tx *Tx) SetPositionClosedWithPNL(positionID protocolid.ID, pnl decimal.Decimal) error {
	return setPositionClosedWithPNL(tx.batch, positionID, pnl)
}
func (tx *Tx) SetPositionToOpen(trader string, sym domain.ContractSymbol, newContractID []byte, protoID protocolid.ID) error {
	return setPositionToOpen(tx.batch, trader, sym, newContractID, protoID)
}

// SetPosition persists pos as-is. Used by the executor after it has
// computed margin/entry-price fields that the narrower named transitions
// above do not accept, while still composing into the same outer
// transaction as the rest of a finalize path.
func (tx *Tx) SetPosition(pos domain.Position) error { return setJSON(tx.batch, positionKey(pos.ID), pos) }

func (tx *Tx) InsertTrade(t domain.Trade) error { return insertTrade(tx.batch, t) }

// ---- Store: single-operation convenience methods, each its own transaction
// (or, for reads, a direct snapshot read with no transaction at all) ----

func (s *Store) GetProtocol(id protocolid.ID) (domain.Protocol, error) {
	return getProtocol(s.db, id)
}

func (s *Store) GetPositionByTrader(trader string, sym domain.ContractSymbol, allowed []domain.PositionState) (domain.Position, error) {
	return getPositionByTrader(s.db, trader, sym, allowed)
}

func (s *Store) GetTradeParams(id protocolid.ID) (domain.TradeParams, error) {
	return getTradeParams(s.db, id)
}

// CreatePosition creates the initial Proposed position for a trader ahead
// of starting an Open protocol. It enforces invariant I2: it fails if the
// trader already has a non-terminal position for the symbol.
func (s *Store) CreatePosition(pos domain.Position) error {
	return s.Update(func(tx *Tx) error { return createPosition(tx.batch, pos) })
}

// SetPositionClosing transitions an Open position to Closing{closingPrice}
// ahead of starting a Settle protocol, per the intake adapter's rule that
// the position state change happens before the protocol starts.
func (s *Store) SetPositionClosing(trader string, sym domain.ContractSymbol, closingPrice decimal.Decimal) error {
	return s.Update(func(tx *Tx) error { return setPositionClosing(tx.batch, trader, sym, closingPrice) })
}

func (s *Store) RecentTrades(sym domain.ContractSymbol, limit int) ([]domain.Trade, error) {
	return recentTrades(s.db, sym, limit)
}

func (s *Store) SaveOrder(o domain.Order) error {
	return s.Update(func(tx *Tx) error { return saveOrder(tx.batch, o) })
}

func (s *Store) DeleteOrder(trader, orderID string) error {
	return s.Update(func(tx *Tx) error { return deleteOrder(tx.batch, trader, orderID) })
}

func (s *Store) LoadOpenOrders(trader string) ([]domain.Order, error) {
	return loadOpenOrders(s.db, trader)
}

// ListPositions scans every Position row across every trader, optionally
// filtered to the given states (no filter returns all). Reconcilers use
// this instead of the single-trader lookups the executor and intake
// adapter need, since a reconciler's whole job is to sweep every trader.
func (s *Store) ListPositions(states []domain.PositionState) ([]domain.Position, error) {
	return listPositions(s.db, states)
}

// ListPendingProtocols scans every Protocol row still Pending of the given
// kind, across every trader. Used by reconcilers that must avoid starting
// a duplicate protocol (e.g. the rollover monitor) or that recover a
// protocol outcome the lossy engine event channel dropped (the
// closed-position syncer).
func (s *Store) ListPendingProtocols(kind domain.ProtocolKind) ([]domain.Protocol, error) {
	return listPendingProtocols(s.db, kind)
}
