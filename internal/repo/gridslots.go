package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	keyspace "gridwire-api/internal/cache"
	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/trading"
)

// GridSlotsRepo persists the ladder snapshot for grid strategies. Replace and
// MarkFilled back the grid engine; SlotsByStrategy serves reads.
type GridSlotsRepo interface {
	// Replace atomically swaps the strategy's ladder for a new one.
	Replace(ctx context.Context, strategyID int64, slots []trading.GridSlot) error
	// MarkFilled flips the slot whose rung matched a fill: buys open the
	// nearest entry rung, sells close the nearest exit rung.
	MarkFilled(ctx context.Context, strategyID int64, side exchange.Side, price float64) error
	// SlotsByStrategy returns the ladder ordered by grid index.
	SlotsByStrategy(ctx context.Context, strategyID int64) ([]trading.GridSlot, error)
}

type gridSlotsRepo struct {
	conn  sqlx.SqlConn
	cache cacheHelper
}

func newGridSlotsRepo(deps Dependencies) GridSlotsRepo {
	return &gridSlotsRepo{
		conn:  deps.DBConn,
		cache: cacheHelper{cache: deps.Cache, ttl: deps.TTL},
	}
}

type gridSlotRow struct {
	ID           int64   `db:"id"`
	StrategyID   int64   `db:"strategy_id"`
	GridIndex    int     `db:"grid_index"`
	EntryPrice   float64 `db:"entry_price"`
	ExitPrice    float64 `db:"exit_price"`
	Quantity     float64 `db:"quantity"`
	IsOpen       bool    `db:"is_open"`
	TradeGroupID string  `db:"trade_group_id"`
}

func (r *gridSlotsRepo) Replace(ctx context.Context, strategyID int64, slots []trading.GridSlot) error {
	err := r.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		if _, err := session.ExecCtx(ctx,
			`DELETE FROM public.grid_positions WHERE strategy_id = $1`, strategyID); err != nil {
			return fmt.Errorf("delete old slots: %w", err)
		}
		const insert = `
INSERT INTO public.grid_positions
    (strategy_id, grid_index, entry_price, exit_price, quantity, is_open, trade_group_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
		for _, slot := range slots {
			if _, err := session.ExecCtx(ctx, insert,
				strategyID, slot.GridIndex, slot.EntryPrice, slot.ExitPrice,
				slot.Quantity, slot.IsOpen, slot.TradeGroupID); err != nil {
				return fmt.Errorf("insert slot %d: %w", slot.GridIndex, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gridSlotsRepo.Replace: %w", err)
	}
	r.cache.del(ctx, keyspace.GridSlotsKey(strategyID))
	return nil
}

func (r *gridSlotsRepo) MarkFilled(ctx context.Context, strategyID int64, side exchange.Side, price float64) error {
	// The fill price may drift from the stored rung by rounding, so match
	// the nearest rung instead of an exact price.
	var query string
	open := side == exchange.Buy
	if open {
		query = `
UPDATE public.grid_positions SET is_open = TRUE
WHERE id = (
    SELECT id FROM public.grid_positions
    WHERE strategy_id = $1
    ORDER BY ABS(entry_price - $2) LIMIT 1
)`
	} else {
		query = `
UPDATE public.grid_positions SET is_open = FALSE
WHERE id = (
    SELECT id FROM public.grid_positions
    WHERE strategy_id = $1
    ORDER BY ABS(exit_price - $2) LIMIT 1
)`
	}
	result, err := r.conn.ExecCtx(ctx, query, strategyID, price)
	if err != nil {
		return fmt.Errorf("gridSlotsRepo.MarkFilled exec: %w", err)
	}
	if affected := rowsAffected(result); affected == 0 {
		return fmt.Errorf("gridSlotsRepo.MarkFilled: no slot for strategy %d near %v", strategyID, price)
	}
	r.cache.del(ctx, keyspace.GridSlotsKey(strategyID))
	return nil
}

func (r *gridSlotsRepo) SlotsByStrategy(ctx context.Context, strategyID int64) ([]trading.GridSlot, error) {
	key := keyspace.GridSlotsKey(strategyID)
	var cached []gridSlotRow
	if r.cache.get(ctx, key, &cached) {
		return slotRowsToDomain(cached), nil
	}

	query := `
SELECT id, strategy_id, grid_index, entry_price, exit_price, quantity, is_open, trade_group_id
FROM public.grid_positions
WHERE strategy_id = $1
ORDER BY grid_index`
	var rows []gridSlotRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, strategyID); err != nil {
		return nil, fmt.Errorf("gridSlotsRepo.SlotsByStrategy query: %w", err)
	}
	r.cache.set(ctx, key, keyspace.GridSlotsTTL(r.cache.ttl), rows)
	return slotRowsToDomain(rows), nil
}

func slotRowsToDomain(rows []gridSlotRow) []trading.GridSlot {
	result := make([]trading.GridSlot, 0, len(rows))
	for _, row := range rows {
		result = append(result, trading.GridSlot{
			ID:           row.ID,
			StrategyID:   row.StrategyID,
			GridIndex:    row.GridIndex,
			EntryPrice:   row.EntryPrice,
			ExitPrice:    row.ExitPrice,
			Quantity:     row.Quantity,
			IsOpen:       row.IsOpen,
			TradeGroupID: row.TradeGroupID,
		})
	}
	return result
}

func rowsAffected(result sql.Result) int64 {
	if result == nil {
		return 0
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
