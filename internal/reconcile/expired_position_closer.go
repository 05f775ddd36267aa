package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/clock"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/protocolid"
	"github.com/lnperp/coordinator/internal/store"
)

// DefaultExpiredPositionInterval matches spec.md §4.6's 5 minute cadence.
const DefaultExpiredPositionInterval = 5 * time.Minute

// OracleClient supplies the oracle's sworn settlement price for a
// contract. The oracle itself is an external collaborator (spec.md §1);
// this is the narrow surface the expired-position closer needs from it.
type OracleClient interface {
	Attest(ctx context.Context, contractID []byte) (domain.OracleAttestation, error)
}

// Intake is the narrow surface the reconcilers in this package need from
// the trade intake adapter: synthesizing expiry counter-trades and
// starting rollover protocols.
type Intake interface {
	SettleAtExpiry(trader string, sym domain.ContractSymbol, attestation domain.OracleAttestation) (protocolid.ID, error)
	StartRollover(trader string, sym domain.ContractSymbol) (protocolid.ID, error)
}

// ExpiredPositionCloser scans positions whose oracle maturity has passed
// and initiates a Settle against the attested price (spec.md §4.6).
type ExpiredPositionCloser struct {
	store    *store.Store
	intake   Intake
	oracle   OracleClient
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewExpiredPositionCloser(st *store.Store, intake Intake, oracle OracleClient, clk clock.Clock, log *zap.SugaredLogger) *ExpiredPositionCloser {
	return &ExpiredPositionCloser{store: st, intake: intake, oracle: oracle, clock: clk, log: log, interval: DefaultExpiredPositionInterval}
}

func (c *ExpiredPositionCloser) Run(ctx context.Context) {
	run(ctx, c.clock, c.interval, c.log, "expired_position_closer", c.Once)
}

// Once scans every Open position past its expiry and starts a Settle for
// it. Re-running is safe: once a position has left PositionOpen (moved to
// Closing by the Settle it triggers), the next scan simply will not select
// it again.
func (c *ExpiredPositionCloser) Once(ctx context.Context) error {
	positions, err := c.store.ListPositions([]domain.PositionState{domain.PositionOpen})
	if err != nil {
		return fmt.Errorf("expired_position_closer: list positions: %w", err)
	}

	now := c.clock.Now()
	for _, pos := range positions {
		if pos.Expiry.IsZero() || pos.Expiry.After(now) {
			continue
		}
		attestation, err := c.oracle.Attest(ctx, pos.ContractID)
		if err != nil {
			c.log.Errorw("expired_position_closer_attest_failed", "trader", pos.Trader, "symbol", pos.ContractSym, "err", err)
			continue
		}
		if _, err := c.intake.SettleAtExpiry(pos.Trader, pos.ContractSym, attestation); err != nil {
			c.log.Errorw("expired_position_closer_settle_failed", "trader", pos.Trader, "symbol", pos.ContractSym, "err", err)
			continue
		}
		c.log.Infow("expired_position_closer_settled", "trader", pos.Trader, "symbol", pos.ContractSym, "expiry", pos.Expiry)
	}
	return nil
}
