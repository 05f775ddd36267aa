// Package intake is the Trade Intake & Matching Adapter: it receives
// matched TradeParams from the orderbook (or a reconciler-synthesized
// action), classifies the intended DLC action, prepares domain state ahead
// of the protocol, and starts it through the executor.
package intake

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/executor"
	"github.com/lnperp/coordinator/internal/protocolid"
	"github.com/lnperp/coordinator/internal/store"
)

// Engine is the minimal surface the adapter needs from the opaque DLC
// engine: handing off a freshly-started protocol so it can emit the first
// outbound message. See internal/engine for the full interface.
type Engine interface {
	BeginProtocol(protocolID protocolid.ID, kind domain.ProtocolKind, counterparty string) error
}

// Adapter classifies and starts DLC protocols for matched trade params.
type Adapter struct {
	store    *store.Store
	executor *executor.Executor
	engine   Engine
	log      *zap.SugaredLogger
}

func New(st *store.Store, ex *executor.Executor, eng Engine, log *zap.SugaredLogger) *Adapter {
	return &Adapter{store: st, executor: ex, engine: eng, log: log}
}

// Intake classifies a matched TradeParams and starts the corresponding DLC
// protocol. It returns the protocol id the caller (or a reconciler) can use
// to track progress.
func (a *Adapter) Intake(tp domain.TradeParams) (protocolid.ID, error) {
	current, err := a.store.GetPositionByTrader(tp.Trader, tp.ContractSym, []domain.PositionState{
		domain.PositionProposed, domain.PositionOpen, domain.PositionClosing, domain.PositionRollover,
	})
	hasPosition := err == nil

	switch {
	case !hasPosition:
		return a.startOpen(tp)
	case hasPosition && current.Direction == tp.Direction:
		return a.startRenew(tp, current)
	case hasPosition && current.Direction != tp.Direction:
		return a.startSettle(tp, current)
	default:
		return protocolid.ID{}, fmt.Errorf("intake: trader %s: could not classify protocol type", tp.Trader)
	}
}

func (a *Adapter) startOpen(tp domain.TradeParams) (protocolid.ID, error) {
	posID := protocolid.New()
	if err := a.store.CreatePosition(domain.Position{
		ID:          posID,
		Trader:      tp.Trader,
		ContractSym: tp.ContractSym,
		State:       domain.PositionProposed,
	}); err != nil {
		return protocolid.ID{}, fmt.Errorf("intake: open: %w", err)
	}

	protoID := protocolid.New()
	tp.ProtocolID = protoID
	if err := a.executor.StartDlcProtocol(domain.Protocol{
		ID:     protoID,
		Trader: tp.Trader,
		Type:   domain.ProtocolType{Kind: domain.KindOpen, TradeParams: tp, ContractSym: tp.ContractSym},
	}); err != nil {
		return protocolid.ID{}, err
	}
	return protoID, a.handOff(protoID, domain.KindOpen, tp.Trader)
}

func (a *Adapter) startRenew(tp domain.TradeParams, current domain.Position) (protocolid.ID, error) {
	if current.State != domain.PositionOpen {
		return protocolid.ID{}, fmt.Errorf("intake: renew: trader %s position is %s, not open", tp.Trader, current.State)
	}
	protoID := protocolid.New()
	tp.ProtocolID = protoID
	proto := domain.Protocol{
		ID:     protoID,
		Trader: tp.Trader,
		Type:   domain.ProtocolType{Kind: domain.KindRenew, TradeParams: tp, ContractSym: tp.ContractSym},
	}
	if !current.LastProtocolID.IsZero() {
		prev := current.LastProtocolID
		proto.PreviousID = &prev
	}
	if err := a.executor.StartDlcProtocol(proto); err != nil {
		return protocolid.ID{}, err
	}
	return protoID, a.handOff(protoID, domain.KindRenew, tp.Trader)
}

// startSettle transitions the position to Closing{closingPrice} before
// starting the protocol, per spec.md §4.4's rule for an opposing-direction
// fill that reduces the position to zero.
func (a *Adapter) startSettle(tp domain.TradeParams, current domain.Position) (protocolid.ID, error) {
	if err := a.store.SetPositionClosing(tp.Trader, tp.ContractSym, tp.AveragePrice); err != nil {
		return protocolid.ID{}, fmt.Errorf("intake: settle: %w", err)
	}

	protoID := protocolid.New()
	tp.ProtocolID = protoID
	if err := a.executor.StartDlcProtocol(domain.Protocol{
		ID:     protoID,
		Trader: tp.Trader,
		Type:   domain.ProtocolType{Kind: domain.KindSettle, TradeParams: tp, ContractSym: tp.ContractSym},
	}); err != nil {
		return protocolid.ID{}, err
	}
	return protoID, a.handOff(protoID, domain.KindSettle, tp.Trader)
}

// SettleAtExpiry is called by the expired-position reconciler: it
// synthesizes a counter-order at the oracle attestation price and starts a
// Settle, exactly as if the trader itself had crossed the book.
func (a *Adapter) SettleAtExpiry(trader string, sym domain.ContractSymbol, attestation domain.OracleAttestation) (protocolid.ID, error) {
	current, err := a.store.GetPositionByTrader(trader, sym, []domain.PositionState{domain.PositionOpen})
	if err != nil {
		return protocolid.ID{}, fmt.Errorf("intake: settle at expiry: %w", err)
	}
	counterDirection := domain.Short
	if current.Direction == domain.Short {
		counterDirection = domain.Long
	}
	tp := domain.TradeParams{
		Trader:       trader,
		Quantity:     current.Quantity,
		Leverage:     decimal.NewFromInt(1),
		AveragePrice: attestation.Price,
		Direction:    counterDirection,
		ContractSym:  sym,
	}
	return a.startSettle(tp, current)
}

// StartRollover begins a Rollover protocol for a position approaching
// contract expiry, invoked by the rollover-monitor reconciler.
func (a *Adapter) StartRollover(trader string, sym domain.ContractSymbol) (protocolid.ID, error) {
	protoID := protocolid.New()
	proto := domain.Protocol{
		ID:     protoID,
		Trader: trader,
		Type:   domain.ProtocolType{Kind: domain.KindRollover, Trader: trader, ContractSym: sym},
	}
	if current, err := a.store.GetPositionByTrader(trader, sym, []domain.PositionState{domain.PositionOpen}); err == nil && !current.LastProtocolID.IsZero() {
		prev := current.LastProtocolID
		proto.PreviousID = &prev
	}
	if err := a.executor.StartDlcProtocol(proto); err != nil {
		return protocolid.ID{}, err
	}
	return protoID, a.handOff(protoID, domain.KindRollover, trader)
}

func (a *Adapter) handOff(protoID protocolid.ID, kind domain.ProtocolKind, trader string) error {
	if a.engine == nil {
		return nil
	}
	if err := a.engine.BeginProtocol(protoID, kind, trader); err != nil {
		a.log.Errorw("engine rejected protocol hand-off; failing protocol",
			"protocol_id", protoID, "kind", kind, "trader", trader, "error", err)
		if failErr := a.executor.FailDlcProtocol(protoID); failErr != nil {
			return fmt.Errorf("intake: hand-off failed (%v) and fail_dlc_protocol also failed: %w", err, failErr)
		}
		return fmt.Errorf("intake: engine hand-off: %w", err)
	}
	return nil
}
