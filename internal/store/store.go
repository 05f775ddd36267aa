// Package store is the persistent protocol store: durable records of
// in-flight and completed DLC protocols, trade parameters pending
// execution, positions, trades, and orders, composed into single
// all-or-nothing transactions the way the executor's finalize paths need.
//
// It is backed by cockroachdb/pebble, the same KV engine the teacher uses
// for its account/position/order persistence. A pebble IndexedBatch stands
// in for a SQL transaction: writes accumulate in the batch, reads inside
// the same batch see prior writes in that batch (read-your-writes), and
// Commit applies them atomically with fsync.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
)

// ErrNotFound is returned by read operations when the requested row does
// not exist.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned by CreateProtocol when the id is already
// taken, and by CreatePosition when invariant I2 would be violated.
var ErrAlreadyExists = errors.New("store: already exists")

// ErrInvariant flags a violated domain invariant surfaced mid-transaction,
// e.g. update_proposed_position finding no Proposed position.
var ErrInvariant = errors.New("store: invariant violation")

// Store is the DomainStorage the executor and intake adapter depend on.
// Per the re-architecture guidance, it exposes only domain operations —
// no generic "engine storage" parameterization leaks through here; the
// opaque engine's own state lives behind internal/engine instead.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) the pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is the single outer transaction the executor's finalize paths compose
// their reads and writes into. A Tx must not be used after its enclosing
// Update call returns.
type Tx struct {
	batch *pebble.Batch
}

// Update runs fn inside one transaction: every read/write fn performs
// through tx is staged in a pebble IndexedBatch and committed atomically
// once fn returns nil. If fn returns an error the batch is discarded and no
// write is visible — all-or-nothing, matching spec.md §4.2's "single outer
// transaction" requirement. Update never suspends while the batch is open
// beyond the caller's own fn; no I/O other than the final Commit touches
// the network or disk mid-transaction.
func (s *Store) Update(fn func(tx *Tx) error) error {
	b := s.db.NewIndexedBatch()
	tx := &Tx{batch: b}
	if err := fn(tx); err != nil {
		_ = b.Close()
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// ---- key schema ----
//
// proto:<id>                     -> Protocol (JSON)
// tp:<protocol id>                -> TradeParams (JSON)
// posid:<position id>             -> Position (JSON)
// poscur:<trader>:<symbol>        -> position id (raw string), points at the
//                                    most recently created Position for
//                                    that (trader, symbol) pair
// trade:<symbol>:<ts>:<protocol>  -> Trade (JSON), zero-padded ts for order
// order:<trader>:<order id>       -> Order (JSON)

func protocolKey(id protocolid.ID) []byte   { return []byte("proto:" + id.String()) }
func tradeParamsKey(id protocolid.ID) []byte { return []byte("tp:" + id.String()) }
func positionKey(id protocolid.ID) []byte   { return []byte("posid:" + id.String()) }
func positionCursorKey(trader string, sym domain.ContractSymbol) []byte {
	return []byte(fmt.Sprintf("poscur:%s:%s", trader, sym))
}
func tradeKey(sym domain.ContractSymbol, ts time.Time, protoID protocolid.ID) []byte {
	return []byte(fmt.Sprintf("trade:%s:%020d:%s", sym, ts.UnixNano(), protoID))
}
func tradePrefix(sym domain.ContractSymbol) []byte { return []byte(fmt.Sprintf("trade:%s:", sym)) }
func orderKey(trader, orderID string) []byte       { return []byte(fmt.Sprintf("order:%s:%s", trader, orderID)) }
func orderPrefix(trader string) []byte             { return []byte(fmt.Sprintf("order:%s:", trader)) }

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// reader is satisfied by both *pebble.DB and an indexed *pebble.Batch, so
// the get/scan helpers below work identically whether called directly
// against the database (outside a transaction) or against a Tx's batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type writer interface {
	Set(key, value []byte, opts *pebble.WriteOptions) error
	Delete(key []byte, opts *pebble.WriteOptions) error
}

func getJSON(r reader, key []byte, out interface{}) error {
	val, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("store: get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

func setJSON(w writer, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	if err := w.Set(key, data, nil); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func exists(r reader, key []byte) (bool, error) {
	_, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func iterOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)}
}

func unmarshalIterValue(iter *pebble.Iterator, out interface{}) error {
	return json.Unmarshal(iter.Value(), out)
}
