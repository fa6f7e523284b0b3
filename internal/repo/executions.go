package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/trading"
)

// ExecutionsRepo records raw exchange fills. InsertExecution is idempotent on
// the exchange execution id so at-least-once stream delivery cannot double
// count a fill.
type ExecutionsRepo interface {
	// InsertExecution writes the fill row and reports whether it was new.
	InsertExecution(ctx context.Context, exec *trading.OrderExecution) (bool, error)
	// ByOrder returns all fills for one order, oldest first.
	ByOrder(ctx context.Context, orderID int64) ([]trading.OrderExecution, error)
}

type executionsRepo struct {
	conn sqlx.SqlConn
}

func newExecutionsRepo(deps Dependencies) ExecutionsRepo {
	return &executionsRepo{conn: deps.DBConn}
}

type executionRow struct {
	ID            int64     `db:"id"`
	ExecutionID   int64     `db:"execution_id"`
	ExecType      string    `db:"exec_type"`
	OrderID       int64     `db:"order_id"`
	ClientOrderID string    `db:"client_order_id"`
	StrategyID    int64     `db:"strategy_id"`
	Symbol        string    `db:"symbol"`
	Side          string    `db:"side"`
	Price         float64   `db:"price"`
	Quantity      float64   `db:"quantity"`
	Commission    float64   `db:"commission"`
	RealizedPnl   float64   `db:"realized_pnl"`
	ExecutedAt    time.Time `db:"executed_at"`
}

func (r *executionsRepo) InsertExecution(ctx context.Context, exec *trading.OrderExecution) (bool, error) {
	if exec == nil {
		return false, fmt.Errorf("executionsRepo.InsertExecution: nil execution")
	}
	// The unique index on execution_id makes the insert a no-op for a
	// replayed fill; RowsAffected distinguishes the two outcomes.
	query := `
INSERT INTO public.order_executions
    (execution_id, exec_type, order_id, client_order_id, strategy_id, symbol,
     side, price, quantity, commission, realized_pnl, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (execution_id) DO NOTHING`
	result, err := r.conn.ExecCtx(ctx, query,
		exec.ExecutionID, string(exec.Type), exec.OrderID, exec.ClientOrderID,
		exec.StrategyID, exec.Symbol, string(exec.Side), exec.Price,
		exec.Quantity, exec.Commission, exec.RealizedPnl, exec.ExecutedAt)
	if err != nil {
		return false, fmt.Errorf("executionsRepo.InsertExecution exec: %w", err)
	}
	return rowsAffected(result) > 0, nil
}

func (r *executionsRepo) ByOrder(ctx context.Context, orderID int64) ([]trading.OrderExecution, error) {
	query := `
SELECT id, execution_id, exec_type, order_id, client_order_id, strategy_id,
       symbol, side, price, quantity, commission, realized_pnl, executed_at
FROM public.order_executions
WHERE order_id = $1
ORDER BY executed_at, id`
	var rows []executionRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, orderID); err != nil {
		return nil, fmt.Errorf("executionsRepo.ByOrder query: %w", err)
	}
	result := make([]trading.OrderExecution, 0, len(rows))
	for _, row := range rows {
		result = append(result, executionToDomain(row))
	}
	return result, nil
}

func executionToDomain(row executionRow) trading.OrderExecution {
	return trading.OrderExecution{
		ID:            row.ID,
		ExecutionID:   row.ExecutionID,
		Type:          trading.ExecutionType(row.ExecType),
		OrderID:       row.OrderID,
		ClientOrderID: row.ClientOrderID,
		StrategyID:    row.StrategyID,
		Symbol:        row.Symbol,
		Side:          exchange.Side(row.Side),
		Price:         row.Price,
		Quantity:      row.Quantity,
		Commission:    row.Commission,
		RealizedPnl:   row.RealizedPnl,
		ExecutedAt:    row.ExecutedAt,
	}
}
