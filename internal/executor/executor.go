// Package executor is the DLC Protocol Executor: the authoritative
// mediator between protocol outcomes arriving from the DLC engine (via the
// Message Pump) and persistent domain state. It starts, fails, and
// finalizes protocols, owning the invariants linking protocol outcome to
// position-state transitions, trade insertion, and margin/P&L computation.
package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/broadcast"
	"github.com/lnperp/coordinator/internal/cfd"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
	"github.com/lnperp/coordinator/internal/store"
)

// ErrNoFinishPath is returned if finish is invoked for a protocol kind that
// never traverses finish (Close/ForceClose) — a caller logic bug, not a
// domain error, but we return it rather than panic per the crash-only
// policy reserved for genuinely unrecoverable states.
var ErrNoFinishPath = errors.New("executor: protocol kind never finishes through this path")

// DefaultCoordinatorLeverage is used when no override is configured: the
// coordinator takes the opposite side of every trade fully collateralized,
// i.e. at 1x.
var DefaultCoordinatorLeverage = decimal.NewFromInt(1)

// Executor mediates protocol start/fail/finish against the DomainStorage
// and publishes post-commit position updates on the Broadcast Bus.
type Executor struct {
	store  *store.Store
	bus    *broadcast.Bus
	log    *zap.SugaredLogger

	// CoordinatorLeverage returns the leverage the coordinator itself
	// takes on the other side of a trader's position. Defaults to a
	// constant 1x; settings can swap in a per-trader policy.
	CoordinatorLeverage func(trader string) decimal.Decimal
}

func New(st *store.Store, bus *broadcast.Bus, log *zap.SugaredLogger) *Executor {
	return &Executor{
		store: st,
		bus:   bus,
		log:   log,
		CoordinatorLeverage: func(string) decimal.Decimal {
			return DefaultCoordinatorLeverage
		},
	}
}

// StartDlcProtocol creates the Protocol row (and, for trade-bearing kinds,
// the pending TradeParams row) inside one transaction. The caller must not
// send any DLC message until this returns successfully.
func (e *Executor) StartDlcProtocol(p domain.Protocol) error {
	if p.ID.IsZero() {
		p.ID = protocolid.New()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	p.State = domain.ProtocolPending

	err := e.store.Update(func(tx *store.Tx) error {
		if err := tx.CreateProtocol(p); err != nil {
			return err
		}
		if p.Type.Kind.CarriesTradeParams() {
			if err := tx.InsertTradeParams(p.Type.TradeParams); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("executor: start protocol %s (%s): %w", p.ID, p.Type.Kind, err)
	}
	return nil
}

// FailDlcProtocol sets the protocol to Failed. It deliberately does not
// touch the associated position — per spec.md §4.3/§9, a separate
// compensating reconciler or operator action resolves the position, which
// combined with invariant I2 can otherwise block future intake for the
// same trader until that happens. Idempotent.
func (e *Executor) FailDlcProtocol(id protocolid.ID) error {
	err := e.store.Update(func(tx *store.Tx) error {
		return tx.SetProtocolFailed(id)
	})
	if err != nil {
		return fmt.Errorf("executor: fail protocol %s: %w", id, err)
	}
	return nil
}

// FinishDlcProtocol transactionally finalizes a protocol outcome,
// dispatching on its stored ProtocolType, then — only after the
// transaction commits — publishes a NewTrade on the bus for trade-bearing
// kinds. contractID is absent (nil) for Settle, which keeps the settled
// contract's existing id.
func (e *Executor) FinishDlcProtocol(id protocolid.ID, trader string, contractID, channelID []byte) error {
	var toPublish *broadcast.NewTrade

	err := e.store.Update(func(tx *store.Tx) error {
		p, err := tx.GetProtocol(id)
		if err != nil {
			return err
		}
		if p.State == domain.ProtocolSuccess {
			// Idempotent: a retried finalize (e.g. the closed-position
			// syncer recovering a dropped engine event) must not
			// double-insert a Trade or re-run a position transition.
			return nil
		}
		if p.State == domain.ProtocolFailed {
			return fmt.Errorf("%w: protocol %s already failed", ErrNoFinishPath, id)
		}

		switch p.Type.Kind {
		case domain.KindOpen, domain.KindRenew:
			msg, err := e.finishOpenOrRenew(tx, p, trader, contractID, channelID)
			if err != nil {
				return err
			}
			toPublish = msg
		case domain.KindSettle:
			msg, err := e.finishSettle(tx, p, trader, channelID)
			if err != nil {
				return err
			}
			toPublish = msg
		case domain.KindRollover:
			if err := e.finishRollover(tx, p, trader, contractID, channelID); err != nil {
				return err
			}
		case domain.KindClose, domain.KindForceClose:
			return fmt.Errorf("%w: protocol %s is %s", ErrNoFinishPath, id, p.Type.Kind)
		default:
			return fmt.Errorf("executor: protocol %s has unrecognized kind %d", id, p.Type.Kind)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("executor: finish protocol %s: %w", id, err)
	}

	if toPublish != nil {
		e.bus.Publish(*toPublish)
	}
	return nil
}

func (e *Executor) finishOpenOrRenew(tx *store.Tx, p domain.Protocol, trader string, contractID, channelID []byte) (*broadcast.NewTrade, error) {
	if len(contractID) == 0 {
		return nil, fmt.Errorf("executor: %s finalize requires a contract id", p.Type.Kind)
	}
	if err := tx.SetProtocolSuccess(p.ID, contractID, channelID); err != nil {
		return nil, err
	}

	tp, err := tx.GetTradeParams(p.ID)
	if err != nil {
		return nil, fmt.Errorf("executor: %s finalize: %w", p.Type.Kind, err)
	}

	// Open moves the position out of Proposed; Renew only ever starts
	// against a position already Open (see intake.startRenew), so it
	// fetches rather than transitions.
	var pos domain.Position
	if p.Type.Kind == domain.KindRenew {
		pos, err = tx.GetPositionByTrader(trader, p.Type.ContractSym, []domain.PositionState{domain.PositionOpen})
	} else {
		pos, err = tx.UpdateProposedPosition(trader, p.Type.ContractSym, domain.PositionOpen)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: %s finalize: %w", p.Type.Kind, err)
	}

	coordinatorLeverage := e.CoordinatorLeverage(trader)
	coordinatorMargin, err := cfd.CalculateMargin(tp.AveragePrice, tp.Quantity, coordinatorLeverage)
	if err != nil {
		return nil, fmt.Errorf("executor: %s finalize: %w", p.Type.Kind, err)
	}
	traderMargin, err := cfd.CalculateMargin(tp.AveragePrice, tp.Quantity, tp.Leverage)
	if err != nil {
		return nil, fmt.Errorf("executor: %s finalize: %w", p.Type.Kind, err)
	}

	if p.Type.Kind == domain.KindRenew && pos.Quantity.IsPositive() {
		// Renew adds exposure in the same direction: fold the new fill
		// into a quantity-weighted average entry price rather than
		// overwriting it, and accumulate margin and quantity.
		totalQty := pos.Quantity.Add(tp.Quantity)
		weighted := pos.AverageEntryPrice.Mul(pos.Quantity).Add(tp.AveragePrice.Mul(tp.Quantity))
		pos.AverageEntryPrice = weighted.Div(totalQty)
		pos.Quantity = totalQty
		pos.TraderMargin = pos.TraderMargin.Add(traderMargin)
		pos.CoordinatorMargin = pos.CoordinatorMargin.Add(coordinatorMargin)
	} else {
		pos.AverageEntryPrice = tp.AveragePrice
		pos.Quantity = tp.Quantity
		pos.TraderMargin = traderMargin
		pos.CoordinatorMargin = coordinatorMargin
		pos.Direction = tp.Direction
	}
	pos.ContractID = contractID
	pos.ContractSym = p.Type.ContractSym
	pos.State = domain.PositionOpen
	pos.LastProtocolID = p.ID

	if err := tx.SetPosition(pos); err != nil {
		return nil, err
	}

	if err := tx.InsertTrade(domain.Trade{
		ProtocolID:        p.ID,
		PositionID:        pos.ID,
		ContractSym:       p.Type.ContractSym,
		Trader:            trader,
		Quantity:          tp.Quantity,
		TraderLeverage:    tp.Leverage,
		CoordinatorMargin: coordinatorMargin,
		Direction:         tp.Direction,
		AveragePrice:      tp.AveragePrice,
		Timestamp:         time.Now(),
	}); err != nil {
		return nil, err
	}

	if err := tx.DeleteTradeParams(p.ID); err != nil {
		return nil, err
	}

	return &broadcast.NewTrade{
		Trader:            trader,
		Symbol:            p.Type.ContractSym,
		SignedQuantity:    signedQuantity(tp.Direction, tp.Quantity),
		AverageEntryPrice: pos.AverageEntryPrice,
		Timestamp:         time.Now(),
	}, nil
}

func (e *Executor) finishSettle(tx *store.Tx, p domain.Protocol, trader string, channelID []byte) (*broadcast.NewTrade, error) {
	pos, err := tx.GetPositionByTrader(trader, p.Type.ContractSym, []domain.PositionState{domain.PositionClosing})
	if err != nil {
		return nil, fmt.Errorf("executor: settle finalize: %w", err)
	}

	tp, err := tx.GetTradeParams(p.ID)
	if err != nil {
		return nil, fmt.Errorf("executor: settle finalize: %w", err)
	}

	// MarginsForSettle is keyed on tp.Direction per spec.md §4.3's margin
	// rule, but CalculatePnL's dir parameter is the position's own side: tp
	// carries the closing trade's (opposing) direction, and the trader's
	// gain/loss tracks their own side of the position, not the trade that
	// closes it.
	marginLong, marginShort := cfd.MarginsForSettle(pos, tp.Direction)
	pnl := cfd.CalculatePnL(pos.AverageEntryPrice, tp.AveragePrice, tp.Quantity, pos.Direction, marginLong, marginShort)

	if err := tx.SetPositionClosedWithPNL(pos.ID, pnl); err != nil {
		return nil, err
	}
	// Settle keeps the settled contract's existing id; Protocol.ContractID
	// is set from the position, not a value supplied by the caller.
	if err := tx.SetProtocolSuccess(p.ID, pos.ContractID, channelID); err != nil {
		return nil, err
	}

	if err := tx.InsertTrade(domain.Trade{
		ProtocolID:        p.ID,
		PositionID:        pos.ID,
		ContractSym:       p.Type.ContractSym,
		Trader:            trader,
		Quantity:          tp.Quantity,
		TraderLeverage:    tp.Leverage,
		CoordinatorMargin: pos.CoordinatorMargin,
		Direction:         tp.Direction,
		AveragePrice:      tp.AveragePrice,
		Timestamp:         time.Now(),
	}); err != nil {
		return nil, err
	}

	if err := tx.DeleteTradeParams(p.ID); err != nil {
		return nil, err
	}

	return &broadcast.NewTrade{
		Trader:            trader,
		Symbol:            p.Type.ContractSym,
		SignedQuantity:    signedQuantity(tp.Direction, tp.Quantity),
		AverageEntryPrice: tp.AveragePrice,
		Timestamp:         time.Now(),
	}, nil
}

func (e *Executor) finishRollover(tx *store.Tx, p domain.Protocol, trader string, newContractID, channelID []byte) error {
	if len(newContractID) == 0 {
		return fmt.Errorf("executor: rollover finalize requires a new contract id")
	}
	if err := tx.SetProtocolSuccess(p.ID, newContractID, channelID); err != nil {
		return err
	}
	if err := tx.SetPositionToOpen(trader, p.Type.ContractSym, newContractID, p.ID); err != nil {
		return fmt.Errorf("executor: rollover finalize: %w", err)
	}
	return nil
}

// signedQuantity implements the §4.3 broadcast sign convention: positive
// when the trader sold (coordinator went long), negative when the trader
// bought. Equivalently, the sign inverts only for Long traders.
func signedQuantity(dir domain.Direction, q decimal.Decimal) decimal.Decimal {
	if dir == domain.Long {
		return q.Neg()
	}
	return q
}
