// Package repo implements Postgres persistence for strategies, grid ladders
// and the trade ledger, with read-through Redis caching on the hot lookup
// paths.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	keyspace "gridwire-api/internal/cache"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = sqlx.ErrNotFound

// Dependencies bundles the shared infrastructure required by repository
// implementations. Cache is optional; a nil cache degrades to straight DB
// reads.
type Dependencies struct {
	DBConn sqlx.SqlConn
	Cache  cache.Cache
	TTL    keyspace.TTLSet
}

// Set exposes strongly typed repositories to application logic.
type Set struct {
	Strategies StrategiesRepo
	GridSlots  GridSlotsRepo
	Trades     TradesRepo
	Balances   BalancesRepo
	Executions ExecutionsRepo
}

// New constructs the repository set, validating required dependencies.
func New(deps Dependencies) (*Set, error) {
	if deps.DBConn == nil {
		return nil, errors.New("repo: missing DBConn dependency")
	}

	return &Set{
		Strategies: newStrategiesRepo(deps),
		GridSlots:  newGridSlotsRepo(deps),
		Trades:     newTradesRepo(deps),
		Balances:   newBalancesRepo(deps),
		Executions: newExecutionsRepo(deps),
	}, nil
}

// Ledger bundles the repositories the fill reconciler writes to.
type Ledger struct {
	ExecutionsRepo
	TradesRepo
	BalancesRepo
}

// Ledger returns the combined ledger surface.
func (s *Set) Ledger() *Ledger {
	return &Ledger{
		ExecutionsRepo: s.Executions,
		TradesRepo:     s.Trades,
		BalancesRepo:   s.Balances,
	}
}

// RiskStore bundles the repositories the risk controller writes to.
type RiskStore struct {
	TradesRepo
	StrategiesRepo
}

// Risk returns the combined risk-control surface.
func (s *Set) Risk() *RiskStore {
	return &RiskStore{
		TradesRepo:     s.Trades,
		StrategiesRepo: s.Strategies,
	}
}

// cacheHelper wraps the optional go-zero cache with not-found tolerant reads
// and best-effort writes.
type cacheHelper struct {
	cache cache.Cache
	ttl   keyspace.TTLSet
}

func (h cacheHelper) get(ctx context.Context, key string, v any) bool {
	if h.cache == nil {
		return false
	}
	if err := h.cache.GetCtx(ctx, key, v); err != nil {
		if !h.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("cache get %s: %v", key, err)
		}
		return false
	}
	return true
}

func (h cacheHelper) set(ctx context.Context, key string, ttl time.Duration, v any) {
	if h.cache == nil || ttl <= 0 {
		return
	}
	if err := h.cache.SetWithExpireCtx(ctx, key, v, ttl); err != nil {
		logx.WithContext(ctx).Errorf("cache set %s: %v", key, err)
	}
}

func (h cacheHelper) del(ctx context.Context, keys ...string) {
	if h.cache == nil || len(keys) == 0 {
		return
	}
	if err := h.cache.DelCtx(ctx, keys...); err != nil {
		logx.WithContext(ctx).Errorf("cache del %v: %v", keys, err)
	}
}
