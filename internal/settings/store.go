package settings

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Store holds the live Settings snapshot behind an atomic pointer: readers
// call Current() and see a consistent value without a lock, writers swap
// in a freshly-loaded snapshot. A reader that calls Current() again sees
// the latest reload; the reconcilers in this module do not call it.
type Store struct {
	envPath string
	current atomic.Pointer[Settings]
	log     *zap.SugaredLogger
}

// NewStore loads envPath (or the default .env search) once and returns a
// Store snapshotting the result.
func NewStore(envPath string, log *zap.SugaredLogger) *Store {
	s := &Store{envPath: envPath, log: log}
	initial := LoadFromEnv(envPath)
	s.current.Store(&initial)
	return s
}

// Current returns the live settings snapshot. Safe for concurrent use.
func (s *Store) Current() Settings {
	return *s.current.Load()
}

// Reload re-reads the environment and swaps in a new snapshot. It never
// blocks a concurrent Current() reader.
func (s *Store) Reload() {
	next := LoadFromEnv(s.envPath)
	s.current.Store(&next)
	if s.log != nil {
		s.log.Infow("settings_reloaded",
			"off_chain_sync_interval", next.OffChainSyncInterval,
			"on_chain_sync_interval", next.OnChainSyncInterval)
	}
}

// WatchReload reloads on a fixed interval and on SIGHUP, until ctx is
// canceled. Each reload replaces the whole snapshot, wallet-client fields
// included.
func (s *Store) WatchReload(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reload()
		case <-sighup:
			s.Reload()
		}
	}
}
