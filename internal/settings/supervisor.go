package settings

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a background loop the Supervisor owns: it must return once ctx is
// canceled. Reconcilers, the Message Pump, and the Node Event Router are
// all Tasks.
type Task func(ctx context.Context)

// HTTPServer is the minimal surface the Supervisor needs to stop the
// orderbook HTTP surface gracefully; *http.Server satisfies it directly.
type HTTPServer interface {
	Shutdown(ctx context.Context) error
}

// Supervisor owns the coordinator's background tasks and drives shutdown
// ordering per spec.md §4.9: the HTTP server is the top-level shutdown
// signal; once it has stopped accepting new requests, the supervisor
// signals every reconciler to exit, waits for them, and only then is it
// safe for the caller to close the database pool (the supervisor does not
// own the store itself — it just guarantees every task has returned before
// its Run call does, so no Executor transaction is still in flight when
// the caller closes the pool).
type Supervisor struct {
	log    *zap.SugaredLogger
	server HTTPServer

	mu    sync.Mutex
	tasks []Task
}

func NewSupervisor(log *zap.SugaredLogger, server HTTPServer) *Supervisor {
	return &Supervisor{log: log, server: server}
}

// Spawn registers a background task to be started by Run and waited on
// during shutdown.
func (sup *Supervisor) Spawn(t Task) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.tasks = append(sup.tasks, t)
}

// Run starts every spawned task and blocks until ctx is canceled (by the
// caller's signal.NotifyContext), at which point it shuts down the HTTP
// server, lets every task observe cancellation and return, and then
// returns itself. No task is canceled mid-transaction: per spec.md §5, an
// Executor transaction that is already open on a worker goroutine runs to
// completion because cancellation only ever affects the task's own next
// select, not a transaction already in progress.
func (sup *Supervisor) Run(ctx context.Context) {
	sup.mu.Lock()
	tasks := append([]Task(nil), sup.tasks...)
	sup.mu.Unlock()

	// Tasks get their own context, canceled only after the HTTP server has
	// shut down, so they outlive the caller's signal by that long.
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer sup.recoverAndAbort()
			t(taskCtx)
		}(t)
	}

	<-ctx.Done()
	sup.log.Infow("supervisor_shutdown_begin")

	if sup.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := sup.server.Shutdown(shutdownCtx); err != nil {
			sup.log.Warnw("http_server_shutdown_error", "err", err)
		}
		cancel()
	}

	cancelTasks()
	wg.Wait()
	sup.log.Infow("supervisor_shutdown_complete")
}

// recoverAndAbort implements the crash-only philosophy of spec.md §6/§7:
// a panicking task logs its backtrace and aborts the process rather than
// being silently swallowed, since all domain state is recoverable from
// disk on restart.
func (sup *Supervisor) recoverAndAbort() {
	if r := recover(); r != nil {
		sup.log.Errorw("task_panic", "recovered", r, "stack", string(debug.Stack()))
		panic(r)
	}
}

// StaticHealthHandler is a trivial liveness endpoint the orderbook HTTP
// surface mounts; it carries no domain knowledge so it lives here rather
// than in internal/httpapi.
func StaticHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
