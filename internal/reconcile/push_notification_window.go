package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/clock"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/store"
)

// DefaultPushNotificationWindowInterval matches spec.md §4.6's 58 minute
// cadence, sized to align with a 60 minute notification window: a 58
// minute tick leaves margin so a position cannot cross the whole window
// between two ticks unnoticed.
const DefaultPushNotificationWindowInterval = 58 * time.Minute

// NotificationWindow is how far ahead of expiry a position becomes
// eligible for an expiring-position notification.
const NotificationWindow = 60 * time.Minute

// Notifier sends the expiring/expired-position notification itself. Push
// delivery is an external collaborator out of spec.md's scope (§1); this
// package only decides when to call it.
type Notifier interface {
	NotifyExpiringPosition(trader string, sym domain.ContractSymbol, expiry time.Time) error
	NotifyExpiredPosition(trader string, sym domain.ContractSymbol, expiry time.Time) error
}

// PushNotificationWindow sends expiring/expired-position notifications
// sized to align with a 60 minute window (spec.md §4.6).
type PushNotificationWindow struct {
	store    *store.Store
	notifier Notifier
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewPushNotificationWindow(st *store.Store, notifier Notifier, clk clock.Clock, log *zap.SugaredLogger) *PushNotificationWindow {
	return &PushNotificationWindow{store: st, notifier: notifier, clock: clk, log: log, interval: DefaultPushNotificationWindowInterval}
}

func (w *PushNotificationWindow) Run(ctx context.Context) {
	run(ctx, w.clock, w.interval, w.log, "push_notification_window", w.Once)
}

func (w *PushNotificationWindow) Once(ctx context.Context) error {
	positions, err := w.store.ListPositions([]domain.PositionState{domain.PositionOpen})
	if err != nil {
		return fmt.Errorf("push_notification_window: list positions: %w", err)
	}
	now := w.clock.Now()
	for _, pos := range positions {
		if pos.Expiry.IsZero() {
			continue
		}
		var err error
		switch {
		case pos.Expiry.Before(now):
			err = w.notifier.NotifyExpiredPosition(pos.Trader, pos.ContractSym, pos.Expiry)
		case pos.Expiry.Before(now.Add(NotificationWindow)):
			err = w.notifier.NotifyExpiringPosition(pos.Trader, pos.ContractSym, pos.Expiry)
		default:
			continue
		}
		if err != nil {
			w.log.Errorw("push_notification_window_send_failed", "trader", pos.Trader, "symbol", pos.ContractSym, "err", err)
		}
	}
	return nil
}
