// Package domain holds the persistent data model shared by the store,
// executor, and intake adapter: protocols, pending trade parameters,
// positions, trades, and orders.
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lnperp/coordinator/internal/protocolid"
)

// Direction is a trader's side of a position or order.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Long {
		return "long"
	}
	return "short"
}

// ContractSymbol identifies the traded instrument. The coordinator today
// only quotes one symbol; the type exists so a second symbol is additive,
// not a rewrite.
type ContractSymbol string

const SymbolBtcUsd ContractSymbol = "btcusd"

// ProtocolState is the lifecycle state of a Protocol row.
type ProtocolState int

const (
	ProtocolPending ProtocolState = iota
	ProtocolSuccess
	ProtocolFailed
)

func (s ProtocolState) String() string {
	switch s {
	case ProtocolPending:
		return "pending"
	case ProtocolSuccess:
		return "success"
	case ProtocolFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProtocolKind tags which DLC action a Protocol carries. It is a tagged
// variant: Open/Renew/Settle carry TradeParams, Close/ForceClose/Rollover
// carry only the trader pubkey.
type ProtocolKind int

const (
	KindOpen ProtocolKind = iota
	KindRenew
	KindSettle
	KindClose
	KindForceClose
	KindRollover
)

func (k ProtocolKind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindRenew:
		return "renew"
	case KindSettle:
		return "settle"
	case KindClose:
		return "close"
	case KindForceClose:
		return "force_close"
	case KindRollover:
		return "rollover"
	default:
		return "unknown"
	}
}

// CarriesTradeParams reports whether protocols of this kind own a
// TradeParams row and, on success, produce a Trade row.
func (k ProtocolKind) CarriesTradeParams() bool {
	return k == KindOpen || k == KindRenew || k == KindSettle
}

// ProtocolType is the tagged-variant payload attached to a Protocol: the
// trade-bearing kinds carry TradeParams, the others carry only the trader
// pubkey they act against.
type ProtocolType struct {
	Kind        ProtocolKind
	TradeParams TradeParams    // valid when Kind.CarriesTradeParams()
	Trader      string         // trader pubkey, valid for Close/ForceClose/Rollover
	ContractSym ContractSymbol // the position's symbol, set for every kind
}

// Protocol is one coordinator<->trader DLC round: created Pending, and
// terminating Success or Failed. Never deleted.
type Protocol struct {
	ID         protocolid.ID
	PreviousID *protocolid.ID
	ChannelID  []byte
	ContractID []byte // nil until Success, except Settle which keeps the prior id
	Trader     string
	State      ProtocolState
	Type       ProtocolType
	Timestamp  time.Time
}

// TradeParams are the terms of a trade pending execution by a trade-bearing
// protocol. Quantity is signed by direction at application time; here it is
// stored as an unsigned magnitude alongside the Direction field, matching
// the wire shape the intake adapter receives from the orderbook.
type TradeParams struct {
	ProtocolID    protocolid.ID
	Trader        string
	Quantity      decimal.Decimal
	Leverage      decimal.Decimal
	AveragePrice  decimal.Decimal
	Direction     Direction
	ContractSym   ContractSymbol
	CounterTrader string // trader pubkey on the other side of the match, if known
}

// PositionState is the lifecycle state of a Position.
type PositionState int

const (
	PositionProposed PositionState = iota
	PositionOpen
	PositionClosing
	PositionClosed
	PositionRollover
	PositionFailed
)

func (s PositionState) String() string {
	switch s {
	case PositionProposed:
		return "proposed"
	case PositionOpen:
		return "open"
	case PositionClosing:
		return "closing"
	case PositionClosed:
		return "closed"
	case PositionRollover:
		return "rollover"
	case PositionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsNonTerminal reports whether a position in this state counts against
// invariant I2 (at most one non-terminal position per trader/symbol).
func (s PositionState) IsNonTerminal() bool {
	switch s {
	case PositionProposed, PositionOpen, PositionClosing, PositionRollover:
		return true
	default:
		return false
	}
}

// Position is the coordinator's view of a trader's net leveraged exposure
// in a symbol.
type Position struct {
	ID                protocolid.ID
	Trader            string
	ContractSym       ContractSymbol
	ContractID        []byte
	Direction         Direction
	AverageEntryPrice decimal.Decimal
	Quantity          decimal.Decimal
	TraderMargin      decimal.Decimal
	CoordinatorMargin decimal.Decimal
	State             PositionState
	ClosingPrice      *decimal.Decimal // set while State == PositionClosing
	PNL               *decimal.Decimal // set once State == PositionClosed
	Expiry            time.Time

	// LastProtocolID is the most recent Open/Renew/Rollover protocol that
	// touched this position, threaded into the next Renew or Rollover's
	// Protocol.PreviousID so the chain of DLC contracts backing a single
	// position can be walked back from any point in its history.
	LastProtocolID protocolid.ID
}

// Trade is an append-only record of a single entry or exit event against a
// position, written at each successful trade-bearing protocol finalize.
type Trade struct {
	ProtocolID        protocolid.ID
	PositionID         protocolid.ID
	ContractSym       ContractSymbol
	Trader            string
	Quantity          decimal.Decimal
	TraderLeverage    decimal.Decimal
	CoordinatorMargin decimal.Decimal
	Direction         Direction
	AveragePrice      decimal.Decimal
	Timestamp         time.Time
}

// OrderType distinguishes resting limit orders from immediately-matched
// market orders.
type OrderType int

const (
	OrderMarket OrderType = iota
	OrderLimit
)

func (t OrderType) String() string {
	if t == OrderMarket {
		return "market"
	}
	return "limit"
}

// Order is a resting or just-submitted orderbook entry. Market orders are
// consumed on match; Limit orders persist until fully taken or cancelled.
type Order struct {
	ID        string
	Price     decimal.Decimal
	TraderID  string
	Taken     bool
	Direction Direction
	Quantity  decimal.Decimal
	OrderType OrderType
	Symbol    ContractSymbol
	CreatedAt time.Time
}

// OracleAttestation is the oracle's sworn settlement price for a contract,
// consumed by the expired-position reconciler to synthesize a Settle.
type OracleAttestation struct {
	ContractID []byte
	Price      decimal.Decimal
	Timestamp  time.Time
	OraclePub  []byte
}
