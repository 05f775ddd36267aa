package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
)

// readWriter is satisfied by *pebble.DB and an indexed *pebble.Batch; the
// functions below are written once against it and exposed through both Tx
// (batched, committed atomically by Store.Update) and Store (single-op,
// each its own implicit transaction) so callers outside the executor's
// multi-step finalize paths never have to open a transaction by hand.
type readWriter interface {
	reader
	writer
}

// ---- Protocol ----

func createProtocol(rw readWriter, p domain.Protocol) error {
	ok, err := exists(rw, protocolKey(p.ID))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: protocol %s", ErrAlreadyExists, p.ID)
	}
	if p.State == 0 {
		p.State = domain.ProtocolPending
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	return setJSON(rw, protocolKey(p.ID), p)
}

func getProtocol(r reader, id protocolid.ID) (domain.Protocol, error) {
	var p domain.Protocol
	if err := getJSON(r, protocolKey(id), &p); err != nil {
		return domain.Protocol{}, err
	}
	return p, nil
}

func setProtocolSuccess(rw readWriter, id protocolid.ID, contractID, channelID []byte) error {
	p, err := getProtocol(rw, id)
	if err != nil {
		return err
	}
	p.State = domain.ProtocolSuccess
	p.ContractID = contractID
	if channelID != nil {
		p.ChannelID = channelID
	}
	return setJSON(rw, protocolKey(id), p)
}

func setProtocolFailed(rw readWriter, id protocolid.ID) error {
	p, err := getProtocol(rw, id)
	if err != nil {
		return err
	}
	if p.State == domain.ProtocolFailed {
		return nil // idempotent
	}
	p.State = domain.ProtocolFailed
	return setJSON(rw, protocolKey(id), p)
}

// ---- TradeParams ----

func insertTradeParams(rw readWriter, tp domain.TradeParams) error {
	return setJSON(rw, tradeParamsKey(tp.ProtocolID), tp)
}

func getTradeParams(r reader, id protocolid.ID) (domain.TradeParams, error) {
	var tp domain.TradeParams
	if err := getJSON(r, tradeParamsKey(id), &tp); err != nil {
		return domain.TradeParams{}, err
	}
	return tp, nil
}

func deleteTradeParams(rw readWriter, id protocolid.ID) error {
	if err := rw.Delete(tradeParamsKey(id), nil); err != nil {
		return fmt.Errorf("store: delete trade params %s: %w", id, err)
	}
	return nil
}

// ---- Position ----

func getPositionByID(r reader, id protocolid.ID) (domain.Position, error) {
	var pos domain.Position
	if err := getJSON(r, positionKey(id), &pos); err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

func currentPositionID(r reader, trader string, sym domain.ContractSymbol) (protocolid.ID, error) {
	val, closer, err := r.Get(positionCursorKey(trader, sym))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return protocolid.ID{}, ErrNotFound
		}
		return protocolid.ID{}, err
	}
	defer closer.Close()
	return protocolid.ParseID(string(val))
}

func createPosition(rw readWriter, pos domain.Position) error {
	curID, err := currentPositionID(rw, pos.Trader, pos.ContractSym)
	if err == nil {
		cur, err := getPositionByID(rw, curID)
		if err == nil && cur.State.IsNonTerminal() {
			return fmt.Errorf("%w: trader %s already has a non-terminal %s position", ErrAlreadyExists, pos.Trader, pos.ContractSym)
		}
	} else if err != ErrNotFound {
		return err
	}

	if pos.State == 0 {
		pos.State = domain.PositionProposed
	}
	if err := setJSON(rw, positionKey(pos.ID), pos); err != nil {
		return err
	}
	return rw.Set(positionCursorKey(pos.Trader, pos.ContractSym), []byte(pos.ID.String()), nil)
}

func getPositionByTrader(r reader, trader string, sym domain.ContractSymbol, allowed []domain.PositionState) (domain.Position, error) {
	id, err := currentPositionID(r, trader, sym)
	if err != nil {
		return domain.Position{}, err
	}
	pos, err := getPositionByID(r, id)
	if err != nil {
		return domain.Position{}, err
	}
	for _, want := range allowed {
		if pos.State == want {
			return pos, nil
		}
	}
	return domain.Position{}, fmt.Errorf("%w: trader %s position is in state %s, not one of %v", ErrInvariant, trader, pos.State, allowed)
}

func updateProposedPosition(rw readWriter, trader string, sym domain.ContractSymbol, newState domain.PositionState) (domain.Position, error) {
	pos, err := getPositionByTrader(rw, trader, sym, []domain.PositionState{domain.PositionProposed})
	if err != nil {
		return domain.Position{}, err
	}
	pos.State = newState
	return pos, setJSON(rw, positionKey(pos.ID), pos)
}

func setPositionClosing(rw readWriter, trader string, sym domain.ContractSymbol, closingPrice decimal.Decimal) error {
	pos, err := getPositionByTrader(rw, trader, sym, []domain.PositionState{domain.PositionOpen})
	if err != nil {
		return err
	}
	pos.State = domain.PositionClosing
	pos.ClosingPrice = &closingPrice
	return setJSON(rw, positionKey(pos.ID), pos)
}

func setPositionClosedWithPNL(rw readWriter, positionID protocolid.ID, pnl decimal.Decimal) error {
	pos, err := getPositionByID(rw, positionID)
	if err != nil {
		return err
	}
	pos.State = domain.PositionClosed
	pos.PNL = &pnl
	return setJSON(rw, positionKey(pos.ID), pos)
}

func setPositionToOpen(rw readWriter, trader string, sym domain.ContractSymbol, newContractID []byte, protoID protocolid.ID) error {
	id, err := currentPositionID(rw, trader, sym)
	if err != nil {
		return err
	}
	pos, err := getPositionByID(rw, id)
	if err != nil {
		return err
	}
	pos.State = domain.PositionOpen
	pos.ContractID = newContractID
	pos.LastProtocolID = protoID
	return setJSON(rw, positionKey(pos.ID), pos)
}

// allPositionsPrefix is the key prefix shared by every Position row,
// regardless of trader or symbol, so reconcilers can scan across all
// traders rather than only the single-trader lookups the executor needs.
var allPositionsPrefix = []byte("posid:")

func listPositions(r reader, states []domain.PositionState) ([]domain.Position, error) {
	iter, err := r.NewIter(iterOptions(allPositionsPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	allowed := make(map[domain.PositionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}

	var out []domain.Position
	for iter.First(); iter.Valid(); iter.Next() {
		var pos domain.Position
		if err := unmarshalIterValue(iter, &pos); err != nil {
			continue
		}
		if len(allowed) == 0 || allowed[pos.State] {
			out = append(out, pos)
		}
	}
	return out, nil
}

var allProtocolsPrefix = []byte("proto:")

func listPendingProtocols(r reader, kind domain.ProtocolKind) ([]domain.Protocol, error) {
	iter, err := r.NewIter(iterOptions(allProtocolsPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []domain.Protocol
	for iter.First(); iter.Valid(); iter.Next() {
		var p domain.Protocol
		if err := unmarshalIterValue(iter, &p); err != nil {
			continue
		}
		if p.State == domain.ProtocolPending && p.Type.Kind == kind {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---- Trade ----

func insertTrade(rw readWriter, t domain.Trade) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	return setJSON(rw, tradeKey(t.ContractSym, t.Timestamp, t.ProtocolID), t)
}

func recentTrades(r reader, sym domain.ContractSymbol, limit int) ([]domain.Trade, error) {
	iter, err := r.NewIter(iterOptions(tradePrefix(sym)))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []domain.Trade
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var t domain.Trade
		if err := unmarshalIterValue(iter, &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ---- Order ----

func saveOrder(rw readWriter, o domain.Order) error {
	return setJSON(rw, orderKey(o.TraderID, o.ID), o)
}

func deleteOrder(rw readWriter, trader, orderID string) error {
	if err := rw.Delete(orderKey(trader, orderID), nil); err != nil {
		return fmt.Errorf("store: delete order %s: %w", orderID, err)
	}
	return nil
}

func loadOpenOrders(r reader, trader string) ([]domain.Order, error) {
	iter, err := r.NewIter(iterOptions(orderPrefix(trader)))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []domain.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o domain.Order
		if err := unmarshalIterValue(iter, &o); err != nil {
			continue
		}
		if !o.Taken {
			out = append(out, o)
		}
	}
	return out, nil
}
