// Command coordinatord wires the DLC Trade Lifecycle Coordinator's pieces
// together and runs them to completion, mirroring the teacher's
// cmd/node/main.go: load config, build collaborators bottom-up, spawn
// background tasks on a Supervisor, and block on signal.NotifyContext
// until told to shut down.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lnperp/coordinator/internal/broadcast"
	"github.com/lnperp/coordinator/internal/clock"
	"github.com/lnperp/coordinator/internal/domain"
	"github.com/lnperp/coordinator/internal/engine"
	"github.com/lnperp/coordinator/internal/engine/signing"
	"github.com/lnperp/coordinator/internal/engine/transport"
	"github.com/lnperp/coordinator/internal/events"
	"github.com/lnperp/coordinator/internal/executor"
	"github.com/lnperp/coordinator/internal/httpapi"
	"github.com/lnperp/coordinator/internal/intake"
	"github.com/lnperp/coordinator/internal/logging"
	"github.com/lnperp/coordinator/internal/oracle"
	"github.com/lnperp/coordinator/internal/pump"
	"github.com/lnperp/coordinator/internal/reconcile"
	"github.com/lnperp/coordinator/internal/settings"
	"github.com/lnperp/coordinator/internal/store"
)

func main() {
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/coordinatord.log"
	}
	sugar, closeLog, err := logging.NewWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	sugar.Infow("logger_initialized", "log_file", logFile)

	settingsStore := settings.NewStore("", sugar)

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/coordinator.db"
	}
	db, err := store.Open(dbPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := transport.New(ctx, transport.Config{
		ListenAddr: os.Getenv("LISTEN"),
		Bootstrap:  splitNonEmpty(os.Getenv("BOOTSTRAP_PEERS")),
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("transport_init_failed", "err", err)
	}
	defer tp.Close()

	signerSeed := []byte(os.Getenv("COORDINATOR_SIGNER_SEED"))
	if len(signerSeed) == 0 {
		signerSeed = []byte("coordinatord-dev-seed")
	}
	signer := signing.NewCoordinatorSigner(signerSeed)
	eng := engine.New(tp, signer, sugar)

	bus := broadcast.NewBus(broadcast.DefaultCapacity)
	defer bus.Close()

	ex := executor.New(db, bus, sugar)
	adapter := intake.New(db, ex, eng, sugar)

	msgPump := pump.New(eng, pump.DefaultInterval, clock.RealClock{}, sugar)

	feeAccount := &events.RoutingFeeAccount{}
	rolloverMon := reconcile.NewRolloverMonitor(db, adapter, clock.RealClock{}, sugar)
	asyncMon := reconcile.NewAsyncMatchMonitor(db, resendMatch(db, eng, sugar), sugar)

	onChannelState := func(ev engine.Event) {
		rolloverMon.Trigger(ctx, ev.Trader, domain.SymbolBtcUsd)
		asyncMon.Notify(ev.Trader)
	}
	router := events.New(eng, feeAccount, onChannelState, sugar)

	oracleBaseURL := os.Getenv("ORACLE_URL")
	if oracleBaseURL == "" {
		oracleBaseURL = "http://localhost:9100"
	}
	oracleClient := oracle.New(oracleBaseURL)

	expiredCloser := reconcile.NewExpiredPositionCloser(db, adapter, oracleClient, clock.RealClock{}, sugar)
	closedSyncer := reconcile.NewClosedPositionSyncer(db, eng, ex, clock.RealClock{}, sugar)
	pnlCache := reconcile.NewUnrealizedPnLCache()
	pnlSyncer := reconcile.NewUnrealizedPnLSyncer(db, oracleClient, pnlCache, clock.RealClock{}, sugar)
	connKeeper := reconcile.NewConnectionKeeper(tp, clock.RealClock{}, sugar)
	pushWindow := reconcile.NewPushNotificationWindow(db, loggingNotifier{sugar}, clock.RealClock{}, sugar)

	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = ":8080"
	}
	apiServer := httpapi.NewServer(db, bus, sugar)
	httpServer := &http.Server{Addr: apiAddr, Handler: apiServer.Handler()}

	sup := settings.NewSupervisor(sugar, httpServer)
	sup.Spawn(msgPump.Run)
	sup.Spawn(router.Run)
	sup.Spawn(expiredCloser.Run)
	sup.Spawn(closedSyncer.Run)
	sup.Spawn(pnlSyncer.Run)
	sup.Spawn(rolloverMon.Run)
	sup.Spawn(asyncMon.Run)
	sup.Spawn(connKeeper.Run)
	sup.Spawn(pushWindow.Run)
	sup.Spawn(func(taskCtx context.Context) {
		settingsStore.WatchReload(taskCtx, 30*time.Second)
	})

	go func() {
		sugar.Infow("http_server_starting", "addr", apiAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("http_server_failed", "err", err)
		}
	}()

	sugar.Infow("coordinatord_starting", "db_path", dbPath, "listen", os.Getenv("LISTEN"), "api_addr", apiAddr)
	sup.Run(ctx)
	sugar.Infow("coordinatord_stopped")
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// resendMatch builds the async-match monitor's resend callback: on a
// trader's reconnect it re-issues BeginProtocol for every protocol of
// theirs still pending, which sends that protocol's opening message again
// even if the engine already has the handshake in flight.
func resendMatch(db *store.Store, eng *engine.Coordinator, log *zap.SugaredLogger) func(trader string) error {
	kinds := []domain.ProtocolKind{
		domain.KindOpen, domain.KindRenew, domain.KindSettle,
		domain.KindRollover, domain.KindClose, domain.KindForceClose,
	}
	return func(trader string) error {
		for _, kind := range kinds {
			pending, err := db.ListPendingProtocols(kind)
			if err != nil {
				return fmt.Errorf("resend match: list pending %s: %w", kind, err)
			}
			for _, p := range pending {
				if p.Trader != trader {
					continue
				}
				if err := eng.BeginProtocol(p.ID, kind, trader); err != nil {
					log.Errorw("async_match_resend_failed", "trader", trader, "protocol_id", p.ID, "err", err)
				}
			}
		}
		return nil
	}
}

// loggingNotifier is the push-notification window's delivery collaborator.
// Actual push delivery (FCM, APNs, or similar) is an external system
// outside this repository's scope (spec.md §1); this implementation only
// records that a notification was due, which is enough to exercise the
// reconciler's windowing logic end to end.
type loggingNotifier struct {
	log *zap.SugaredLogger
}

func (n loggingNotifier) NotifyExpiringPosition(trader string, sym domain.ContractSymbol, expiry time.Time) error {
	n.log.Infow("position_expiring_notification", "trader", trader, "symbol", sym, "expiry", expiry)
	return nil
}

func (n loggingNotifier) NotifyExpiredPosition(trader string, sym domain.ContractSymbol, expiry time.Time) error {
	n.log.Infow("position_expired_notification", "trader", trader, "symbol", sym, "expiry", expiry)
	return nil
}
