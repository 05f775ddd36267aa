// Package reconcile implements the scheduled background loops spec.md
// §4.6 calls for: a small family of independently-restartable reconcilers,
// each with an explicit cadence, idempotent body, and bounded scope. Every
// reconciler here is safe to re-run after a crash: it re-derives what work
// remains from persisted state rather than tracking its own progress, and
// it never holds a store transaction open across a sleep or network call.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/clock"
)

// run ticks at interval (via clk, so tests can fake the cadence) and calls
// once on every tick until ctx is canceled. Errors are logged and
// swallowed: per spec.md §4.6/§7, no reconciler failure is fatal, and none
// is allowed to block the others.
func run(ctx context.Context, clk clock.Clock, interval time.Duration, log *zap.SugaredLogger, name string, once func(ctx context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
		}
		if err := once(ctx); err != nil {
			log.Errorw(name+"_failed", "err", err)
		}
	}
}
