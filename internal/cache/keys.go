// Package cache centralises Redis key construction and TTL policy so repo
// implementations never hand-build key strings.
package cache

import (
	"strconv"
	"strings"
	"time"
)

// Namespace is the Redis key prefix for the gridwire application.
const Namespace = "gridwire"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts TTLs expressed in seconds into durations, applying
// defaults for zero values.
func NewTTLSet(short, medium, long int) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(short, 10*time.Second),
		Medium: durationOrDefault(medium, time.Minute),
		Long:   durationOrDefault(long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Strategy Keys ----------------------------------------------------------

// StrategyByPassphraseKey caches passphrase lookups on the webhook hot path.
func StrategyByPassphraseKey(passphrase string) string {
	return formatKey("strategy", "pass", passphrase)
}

// StrategyBySymbolKey caches symbol lookups on the fill-reconciliation path.
func StrategyBySymbolKey(symbol string) string {
	return formatKey("strategy", "symbol", symbol)
}

// StrategyKey addresses one strategy row by id.
func StrategyKey(strategyID int64) string {
	return formatKey("strategy", strconv.FormatInt(strategyID, 10))
}

// --- Ledger Keys ------------------------------------------------------------

// BalanceKey holds the per-strategy balance snapshot.
func BalanceKey(strategyID int64) string {
	return formatKey("balance", strconv.FormatInt(strategyID, 10))
}

// GridSlotsKey holds the ladder snapshot for one grid strategy.
func GridSlotsKey(strategyID int64) string {
	return formatKey("grid", "slots", strconv.FormatInt(strategyID, 10))
}

// --- TTL Helpers ------------------------------------------------------------

// StrategyTTL covers the cached strategy rows. Medium: rate updates
// invalidate explicitly, so staleness only affects reads between events.
func StrategyTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// BalanceTTL covers balance snapshots, which change on every fill.
func BalanceTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// GridSlotsTTL covers ladder snapshots, refreshed on every reset.
func GridSlotsTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// FormatCacheKey is exported for dynamic key construction when patterns are
// not covered by helpers.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}
