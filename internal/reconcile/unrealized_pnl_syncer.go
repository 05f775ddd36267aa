package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/cfd"
	"github.com/lnperp/coordinator/internal/clock"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/store"
)

// DefaultUnrealizedPnLInterval matches spec.md §4.6's 10 minute cadence.
const DefaultUnrealizedPnLInterval = 10 * time.Minute

// MarkPriceSource supplies the current mark price for a symbol. Real mark
// pricing is sourced from the oracle/on-chain feed, both external
// collaborators per spec.md §1; this is the narrow surface the syncer
// needs from it.
type MarkPriceSource interface {
	MarkPrice(ctx context.Context, sym domain.ContractSymbol) (decimal.Decimal, error)
}

// UnrealizedPnLCache holds the most recently computed mark-to-market P&L
// per (trader, symbol), read through Get; the HTTP surface does not read
// it. It is not part of the persisted domain model — unrealized
// P&L is a derived, continuously-stale quantity recomputed on a timer, not
// a fact about a finalized position, so it never writes to the store.
type UnrealizedPnLCache struct {
	mu    sync.RWMutex
	value map[string]decimal.Decimal
}

func NewUnrealizedPnLCache() *UnrealizedPnLCache {
	return &UnrealizedPnLCache{value: make(map[string]decimal.Decimal)}
}

func (c *UnrealizedPnLCache) set(trader string, sym domain.ContractSymbol, pnl decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value[cacheKey(trader, sym)] = pnl
}

// Get returns the last computed unrealized P&L for (trader, sym), or zero
// if none has been computed yet (e.g. right after startup).
func (c *UnrealizedPnLCache) Get(trader string, sym domain.ContractSymbol) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value[cacheKey(trader, sym)]
}

func cacheKey(trader string, sym domain.ContractSymbol) string {
	return trader + ":" + string(sym)
}

// UnrealizedPnLSyncer recomputes and caches marked-to-market P&L for every
// open position on a fixed cadence (spec.md §4.6).
type UnrealizedPnLSyncer struct {
	store    *store.Store
	marks    MarkPriceSource
	cache    *UnrealizedPnLCache
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewUnrealizedPnLSyncer(st *store.Store, marks MarkPriceSource, cache *UnrealizedPnLCache, clk clock.Clock, log *zap.SugaredLogger) *UnrealizedPnLSyncer {
	return &UnrealizedPnLSyncer{store: st, marks: marks, cache: cache, clock: clk, log: log, interval: DefaultUnrealizedPnLInterval}
}

func (s *UnrealizedPnLSyncer) Run(ctx context.Context) {
	run(ctx, s.clock, s.interval, s.log, "unrealized_pnl_syncer", s.Once)
}

// Once recomputes unrealized P&L for every Open position, using the same
// calculate_pnl formula the executor uses at Settle finalize, evaluated
// against the current mark price instead of a realized exit price.
func (s *UnrealizedPnLSyncer) Once(ctx context.Context) error {
	positions, err := s.store.ListPositions([]domain.PositionState{domain.PositionOpen})
	if err != nil {
		return fmt.Errorf("unrealized_pnl_syncer: list positions: %w", err)
	}

	marked := make(map[domain.ContractSymbol]decimal.Decimal)
	for _, pos := range positions {
		mark, ok := marked[pos.ContractSym]
		if !ok {
			mark, err = s.marks.MarkPrice(ctx, pos.ContractSym)
			if err != nil {
				s.log.Errorw("unrealized_pnl_syncer_mark_price_failed", "symbol", pos.ContractSym, "err", err)
				continue
			}
			marked[pos.ContractSym] = mark
		}

		// MarginsForSettle is keyed on the closing trade's direction (the
		// opposite of the position's own), matching spec.md §4.3's margin
		// rule; CalculatePnL's dir parameter is the position's own side,
		// since the trader's gain/loss tracks their own side of the
		// position, not the trade that would close it.
		closingDir := domain.Short
		if pos.Direction == domain.Short {
			closingDir = domain.Long
		}
		marginLong, marginShort := cfd.MarginsForSettle(pos, closingDir)
		pnl := cfd.CalculatePnL(pos.AverageEntryPrice, mark, pos.Quantity, pos.Direction, marginLong, marginShort)
		s.cache.set(pos.Trader, pos.ContractSym, pnl)
	}
	return nil
}
