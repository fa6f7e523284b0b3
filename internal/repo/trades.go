package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/trading"
)

// TradesRepo appends to and reads from the trade ledger. The ledger is
// append-only; rows are never updated or deleted.
type TradesRepo interface {
	InsertTrade(ctx context.Context, trade *trading.Trade) error
	// ByGroup returns all legs of one logical execution, oldest first.
	ByGroup(ctx context.Context, tradeGroupID string) ([]trading.Trade, error)
	// RecentByStrategy returns the latest ledger rows, newest first.
	RecentByStrategy(ctx context.Context, strategyID int64, limit int) ([]trading.Trade, error)
}

type tradesRepo struct {
	conn sqlx.SqlConn
}

func newTradesRepo(deps Dependencies) TradesRepo {
	return &tradesRepo{conn: deps.DBConn}
}

type tradeRow struct {
	ID            int64     `db:"id"`
	OrderID       int64     `db:"order_id"`
	StrategyID    int64     `db:"strategy_id"`
	Symbol        string    `db:"symbol"`
	Side          string    `db:"side"`
	TradeType     string    `db:"trade_type"`
	Quantity      float64   `db:"quantity"`
	Price         float64   `db:"price"`
	ProfitLoss    float64   `db:"profit_loss"`
	TradeGroupID  string    `db:"trade_group_id"`
	CorrelationID string    `db:"correlation_id"`
	CreatedAt     time.Time `db:"created_at"`
}

const tradeColumns = `
    id,
    order_id,
    strategy_id,
    symbol,
    side,
    trade_type,
    quantity,
    price,
    profit_loss,
    trade_group_id,
    correlation_id,
    created_at`

func (r *tradesRepo) InsertTrade(ctx context.Context, trade *trading.Trade) error {
	if trade == nil {
		return fmt.Errorf("tradesRepo.InsertTrade: nil trade")
	}
	query := `
INSERT INTO public.trades
    (order_id, strategy_id, symbol, side, trade_type, quantity, price, profit_loss, trade_group_id, correlation_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	createdAt := trade.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := r.conn.ExecCtx(ctx, query,
		trade.OrderID, trade.StrategyID, trade.Symbol, string(trade.Side),
		string(trade.Type), trade.Quantity, trade.Price, trade.ProfitLoss,
		trade.TradeGroupID, trade.CorrelationID, createdAt); err != nil {
		return fmt.Errorf("tradesRepo.InsertTrade exec: %w", err)
	}
	return nil
}

func (r *tradesRepo) ByGroup(ctx context.Context, tradeGroupID string) ([]trading.Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM public.trades WHERE trade_group_id = $1 ORDER BY created_at, id`, tradeColumns)
	var rows []tradeRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, tradeGroupID); err != nil {
		return nil, fmt.Errorf("tradesRepo.ByGroup query: %w", err)
	}
	return tradeRowsToDomain(rows), nil
}

func (r *tradesRepo) RecentByStrategy(ctx context.Context, strategyID int64, limit int) ([]trading.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM public.trades WHERE strategy_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, tradeColumns)
	var rows []tradeRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, strategyID, limit); err != nil {
		return nil, fmt.Errorf("tradesRepo.RecentByStrategy query: %w", err)
	}
	return tradeRowsToDomain(rows), nil
}

func tradeRowsToDomain(rows []tradeRow) []trading.Trade {
	result := make([]trading.Trade, 0, len(rows))
	for _, row := range rows {
		result = append(result, trading.Trade{
			ID:            row.ID,
			OrderID:       row.OrderID,
			StrategyID:    row.StrategyID,
			Symbol:        row.Symbol,
			Side:          exchange.Side(row.Side),
			Type:          trading.TradeType(row.TradeType),
			Quantity:      row.Quantity,
			Price:         row.Price,
			ProfitLoss:    row.ProfitLoss,
			TradeGroupID:  row.TradeGroupID,
			CorrelationID: row.CorrelationID,
			CreatedAt:     row.CreatedAt,
		})
	}
	return result
}
