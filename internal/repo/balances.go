package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	keyspace "gridwire-api/internal/cache"
	"gridwire-api/pkg/trading"
)

const (
	balanceMaxAttempts = 5
	balanceBaseBackoff = 50 * time.Millisecond
)

// BalancesRepo maintains the per-strategy balance snapshot.
type BalancesRepo interface {
	// ApplyBalanceDelta adds realized PnL (net of commission) to the
	// strategy balance. The row update runs under a row lock and retries
	// with exponential backoff on contention.
	ApplyBalanceDelta(ctx context.Context, strategyID int64, delta float64) error
	// Get returns the current snapshot, or ErrNotFound.
	Get(ctx context.Context, strategyID int64) (*trading.BalanceSnapshot, error)
	// UpsertSnapshot overwrites the snapshot from a fresh exchange read.
	UpsertSnapshot(ctx context.Context, snap *trading.BalanceSnapshot) error
}

type balancesRepo struct {
	conn  sqlx.SqlConn
	cache cacheHelper
}

func newBalancesRepo(deps Dependencies) BalancesRepo {
	return &balancesRepo{
		conn:  deps.DBConn,
		cache: cacheHelper{cache: deps.Cache, ttl: deps.TTL},
	}
}

type balanceRow struct {
	StrategyID      int64   `db:"strategy_id"`
	Balance         float64 `db:"balance"`
	Equity          float64 `db:"equity"`
	AvailableMargin float64 `db:"available_margin"`
	UsedMargin      float64 `db:"used_margin"`
	UnrealizedPnl   float64 `db:"unrealized_pnl"`
	PositionValue   float64 `db:"position_value"`
	PositionAmount  float64 `db:"position_amount"`
	ProfitLoss      float64 `db:"profit_loss"`
}

func (r *balancesRepo) ApplyBalanceDelta(ctx context.Context, strategyID int64, delta float64) error {
	var lastErr error
	for attempt := 0; attempt < balanceMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := balanceBaseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = r.applyDeltaOnce(ctx, strategyID, delta)
		if lastErr == nil {
			r.cache.del(ctx, keyspace.BalanceKey(strategyID))
			return nil
		}
		if lastErr == ErrNotFound || ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("balancesRepo.ApplyBalanceDelta: %d attempts exhausted: %w", balanceMaxAttempts, lastErr)
}

func (r *balancesRepo) applyDeltaOnce(ctx context.Context, strategyID int64, delta float64) error {
	return r.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		var current balanceRow
		err := session.QueryRowCtx(ctx, &current,
			`SELECT strategy_id, balance, equity, available_margin, used_margin,
			        unrealized_pnl, position_value, position_amount, profit_loss
			 FROM public.account_balance WHERE strategy_id = $1 FOR UPDATE`, strategyID)
		if err != nil {
			if err == sqlx.ErrNotFound {
				return ErrNotFound
			}
			return fmt.Errorf("lock balance row: %w", err)
		}
		_, err = session.ExecCtx(ctx,
			`UPDATE public.account_balance
			 SET balance = balance + $2, profit_loss = profit_loss + $2
			 WHERE strategy_id = $1`, strategyID, delta)
		if err != nil {
			return fmt.Errorf("apply delta: %w", err)
		}
		return nil
	})
}

func (r *balancesRepo) Get(ctx context.Context, strategyID int64) (*trading.BalanceSnapshot, error) {
	key := keyspace.BalanceKey(strategyID)
	var cached balanceRow
	if r.cache.get(ctx, key, &cached) {
		return balanceToDomain(cached), nil
	}

	var row balanceRow
	err := r.conn.QueryRowCtx(ctx, &row,
		`SELECT strategy_id, balance, equity, available_margin, used_margin,
		        unrealized_pnl, position_value, position_amount, profit_loss
		 FROM public.account_balance WHERE strategy_id = $1`, strategyID)
	if err != nil {
		if err == sqlx.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("balancesRepo.Get query: %w", err)
	}
	r.cache.set(ctx, key, keyspace.BalanceTTL(r.cache.ttl), row)
	return balanceToDomain(row), nil
}

func (r *balancesRepo) UpsertSnapshot(ctx context.Context, snap *trading.BalanceSnapshot) error {
	if snap == nil {
		return fmt.Errorf("balancesRepo.UpsertSnapshot: nil snapshot")
	}
	query := `
INSERT INTO public.account_balance
    (strategy_id, balance, equity, available_margin, used_margin,
     unrealized_pnl, position_value, position_amount, profit_loss)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (strategy_id) DO UPDATE SET
    balance = EXCLUDED.balance,
    equity = EXCLUDED.equity,
    available_margin = EXCLUDED.available_margin,
    used_margin = EXCLUDED.used_margin,
    unrealized_pnl = EXCLUDED.unrealized_pnl,
    position_value = EXCLUDED.position_value,
    position_amount = EXCLUDED.position_amount,
    profit_loss = EXCLUDED.profit_loss`
	if _, err := r.conn.ExecCtx(ctx, query,
		snap.StrategyID, snap.Balance, snap.Equity, snap.AvailableMargin,
		snap.UsedMargin, snap.UnrealizedPnl, snap.PositionValue,
		snap.PositionAmount, snap.ProfitLoss); err != nil {
		return fmt.Errorf("balancesRepo.UpsertSnapshot exec: %w", err)
	}
	r.cache.del(ctx, keyspace.BalanceKey(snap.StrategyID))
	return nil
}

func balanceToDomain(row balanceRow) *trading.BalanceSnapshot {
	return &trading.BalanceSnapshot{
		StrategyID:      row.StrategyID,
		Balance:         row.Balance,
		Equity:          row.Equity,
		AvailableMargin: row.AvailableMargin,
		UsedMargin:      row.UsedMargin,
		UnrealizedPnl:   row.UnrealizedPnl,
		PositionValue:   row.PositionValue,
		PositionAmount:  row.PositionAmount,
		ProfitLoss:      row.ProfitLoss,
	}
}
