// Package settings holds the coordinator's hot-reloadable configuration
// (spec.md §4.9) and the supervisor that starts, watches, and gracefully
// tears down every background task built on top of it. It generalizes the
// teacher's params/config.go (godotenv + environment variable overrides,
// typed Config struct with a Default()) to the fields spec.md §4.9 names,
// plus a reload loop that swaps in a freshly loaded snapshot. The
// reconcilers and the message pump run on their own fixed intervals and
// do not read this snapshot.
package settings

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the coordinator's runtime configuration. Every duration here
// is a reconciler or sync-loop cadence; WalletClientConcurrency and
// WalletClientStopGap are restart-required per spec.md §4.9. Reload
// swaps them along with every other field.
type Settings struct {
	OffChainSyncInterval                  time.Duration
	OnChainSyncInterval                   time.Duration
	FeeRateSyncInterval                   time.Duration
	DlcManagerPeriodicCheckInterval       time.Duration
	SubChannelManagerPeriodicCheckInterval time.Duration
	ShadowSyncInterval                    time.Duration
	ForwardingFeeProportionalMillionths   int64

	// Restart-required; the supervisor does not read them.
	WalletClientConcurrency int
	WalletClientStopGap     int
}

// Default returns the documented defaults from spec.md §4.9.
func Default() Settings {
	return Settings{
		OffChainSyncInterval:                   5 * time.Second,
		OnChainSyncInterval:                    300 * time.Second,
		FeeRateSyncInterval:                    20 * time.Second,
		DlcManagerPeriodicCheckInterval:        30 * time.Second,
		SubChannelManagerPeriodicCheckInterval: 30 * time.Second,
		ShadowSyncInterval:                     600 * time.Second,
		ForwardingFeeProportionalMillionths:    50,
		WalletClientConcurrency:                4,
		WalletClientStopGap:                    20,
	}
}

// LoadFromEnv loads an .env file (if present, optional) then applies
// environment-variable overrides on top of Default(). Priority: ENV > .env
// file > defaults, matching the teacher's params.LoadFromEnv.
func LoadFromEnv(envPath string) Settings {
	s := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	durationEnv(&s.OffChainSyncInterval, "OFF_CHAIN_SYNC_INTERVAL_MS")
	durationEnv(&s.OnChainSyncInterval, "ON_CHAIN_SYNC_INTERVAL_MS")
	durationEnv(&s.FeeRateSyncInterval, "FEE_RATE_SYNC_INTERVAL_MS")
	durationEnv(&s.DlcManagerPeriodicCheckInterval, "DLC_MANAGER_PERIODIC_CHECK_INTERVAL_MS")
	durationEnv(&s.SubChannelManagerPeriodicCheckInterval, "SUB_CHANNEL_MANAGER_PERIODIC_CHECK_INTERVAL_MS")
	durationEnv(&s.ShadowSyncInterval, "SHADOW_SYNC_INTERVAL_MS")

	if v := os.Getenv("FORWARDING_FEE_PROPORTIONAL_MILLIONTHS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.ForwardingFeeProportionalMillionths = n
		}
	}
	if v := os.Getenv("WALLET_CLIENT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.WalletClientConcurrency = n
		}
	}
	if v := os.Getenv("WALLET_CLIENT_STOP_GAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.WalletClientStopGap = n
		}
	}

	return s
}

func durationEnv(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
	}
}
