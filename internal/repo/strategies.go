package repo

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	keyspace "gridwire-api/internal/cache"
	"gridwire-api/pkg/trading"
)

// StrategiesRepo exposes strategy lookups and the mutations the engines
// perform on strategy rows.
type StrategiesRepo interface {
	// FindByPassphrase resolves a webhook passphrase to its strategy.
	// Returns ErrNotFound when no strategy matches.
	FindByPassphrase(ctx context.Context, passphrase string) (*trading.Strategy, error)
	// BySymbol resolves a fill's symbol to its owning strategy.
	BySymbol(ctx context.Context, symbol string) (*trading.Strategy, error)
	// ListActiveByStyle returns all ACTIVE strategies of the given style.
	ListActiveByStyle(ctx context.Context, style trading.StrategyStyle) ([]*trading.Strategy, error)
	// ListAll returns every strategy regardless of status.
	ListAll(ctx context.Context) ([]*trading.Strategy, error)
	// UpdateLeverageRates persists new sizing rates for both directions.
	UpdateLeverageRates(ctx context.Context, strategyID int64, long, short float64) error
	// SetStatus flips a strategy active or inactive.
	SetStatus(ctx context.Context, strategyID int64, status trading.StrategyStatus) error
	// SetTradeGroup stamps the trade group id for the strategy's current
	// logical execution.
	SetTradeGroup(ctx context.Context, strategyID int64, groupID string) error
}

type strategiesRepo struct {
	conn  sqlx.SqlConn
	cache cacheHelper
}

func newStrategiesRepo(deps Dependencies) StrategiesRepo {
	return &strategiesRepo{
		conn:  deps.DBConn,
		cache: cacheHelper{cache: deps.Cache, ttl: deps.TTL},
	}
}

const strategyColumns = `
    id,
    name,
    symbol,
    style,
    credentials_ref,
    passphrase,
    leverage,
    leverage_rate,
    short_leverage_rate,
    reduce_rate,
    recover_rate,
    hold_rate,
    short_hold_rate,
    hold_reduce_rate,
    status,
    trade_group_id,
    grid_count,
    lower_bound,
    upper_bound,
    price_step_rate`

type strategyRow struct {
	ID                int64   `db:"id"`
	Name              string  `db:"name"`
	Symbol            string  `db:"symbol"`
	Style             string  `db:"style"`
	CredentialsRef    string  `db:"credentials_ref"`
	Passphrase        string  `db:"passphrase"`
	Leverage          int     `db:"leverage"`
	LeverageRate      float64 `db:"leverage_rate"`
	ShortLeverageRate float64 `db:"short_leverage_rate"`
	ReduceRate        float64 `db:"reduce_rate"`
	RecoverRate       float64 `db:"recover_rate"`
	HoldRate          float64 `db:"hold_rate"`
	ShortHoldRate     float64 `db:"short_hold_rate"`
	HoldReduceRate    float64 `db:"hold_reduce_rate"`
	Status            string  `db:"status"`
	TradeGroupID      string  `db:"trade_group_id"`
	GridCount         int     `db:"grid_count"`
	LowerBound        float64 `db:"lower_bound"`
	UpperBound        float64 `db:"upper_bound"`
	PriceStepRate     float64 `db:"price_step_rate"`
}

func (row strategyRow) toDomain() *trading.Strategy {
	return &trading.Strategy{
		ID:                row.ID,
		Name:              row.Name,
		Symbol:            row.Symbol,
		Style:             trading.StrategyStyle(row.Style),
		CredentialsRef:    row.CredentialsRef,
		Passphrase:        row.Passphrase,
		Leverage:          row.Leverage,
		LeverageRate:      row.LeverageRate,
		ShortLeverageRate: row.ShortLeverageRate,
		ReduceRate:        row.ReduceRate,
		RecoverRate:       row.RecoverRate,
		HoldRate:          row.HoldRate,
		ShortHoldRate:     row.ShortHoldRate,
		HoldReduceRate:    row.HoldReduceRate,
		Status:            trading.StrategyStatus(row.Status),
		TradeGroupID:      row.TradeGroupID,
		GridCount:         row.GridCount,
		LowerBound:        row.LowerBound,
		UpperBound:        row.UpperBound,
		PriceStepRate:     row.PriceStepRate,
	}
}

func (r *strategiesRepo) FindByPassphrase(ctx context.Context, passphrase string) (*trading.Strategy, error) {
	key := keyspace.StrategyByPassphraseKey(passphrase)
	var cached strategyRow
	if r.cache.get(ctx, key, &cached) {
		return cached.toDomain(), nil
	}

	query := fmt.Sprintf(`SELECT %s FROM public.strategies WHERE passphrase = $1 LIMIT 1`, strategyColumns)
	var row strategyRow
	if err := r.conn.QueryRowCtx(ctx, &row, query, passphrase); err != nil {
		if err == sqlx.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("strategiesRepo.FindByPassphrase query: %w", err)
	}
	r.cache.set(ctx, key, keyspace.StrategyTTL(r.cache.ttl), row)
	return row.toDomain(), nil
}

func (r *strategiesRepo) BySymbol(ctx context.Context, symbol string) (*trading.Strategy, error) {
	key := keyspace.StrategyBySymbolKey(symbol)
	var cached strategyRow
	if r.cache.get(ctx, key, &cached) {
		return cached.toDomain(), nil
	}

	// ACTIVE first so a fill on a freshly deactivated symbol still resolves
	// to the most relevant owner.
	query := fmt.Sprintf(`
SELECT %s FROM public.strategies
WHERE symbol = $1
ORDER BY (status = 'ACTIVE') DESC, id
LIMIT 1`, strategyColumns)
	var row strategyRow
	if err := r.conn.QueryRowCtx(ctx, &row, query, symbol); err != nil {
		if err == sqlx.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("strategiesRepo.BySymbol query: %w", err)
	}
	r.cache.set(ctx, key, keyspace.StrategyTTL(r.cache.ttl), row)
	return row.toDomain(), nil
}

func (r *strategiesRepo) ListActiveByStyle(ctx context.Context, style trading.StrategyStyle) ([]*trading.Strategy, error) {
	query := fmt.Sprintf(`SELECT %s FROM public.strategies WHERE status = 'ACTIVE' AND style = $1 ORDER BY id`, strategyColumns)
	var rows []strategyRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, string(style)); err != nil {
		return nil, fmt.Errorf("strategiesRepo.ListActiveByStyle query: %w", err)
	}
	result := make([]*trading.Strategy, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (r *strategiesRepo) ListAll(ctx context.Context) ([]*trading.Strategy, error) {
	query := fmt.Sprintf(`SELECT %s FROM public.strategies ORDER BY id`, strategyColumns)
	var rows []strategyRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("strategiesRepo.ListAll query: %w", err)
	}
	result := make([]*trading.Strategy, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (r *strategiesRepo) UpdateLeverageRates(ctx context.Context, strategyID int64, long, short float64) error {
	query := `
UPDATE public.strategies
SET leverage_rate = $2, short_leverage_rate = $3
WHERE id = $1
RETURNING passphrase, symbol`
	var ident struct {
		Passphrase string `db:"passphrase"`
		Symbol     string `db:"symbol"`
	}
	if err := r.conn.QueryRowCtx(ctx, &ident, query, strategyID, long, short); err != nil {
		if err == sqlx.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("strategiesRepo.UpdateLeverageRates exec: %w", err)
	}
	r.invalidate(ctx, strategyID, ident.Passphrase, ident.Symbol)
	return nil
}

func (r *strategiesRepo) SetStatus(ctx context.Context, strategyID int64, status trading.StrategyStatus) error {
	query := `UPDATE public.strategies SET status = $2 WHERE id = $1 RETURNING passphrase, symbol`
	var ident struct {
		Passphrase string `db:"passphrase"`
		Symbol     string `db:"symbol"`
	}
	if err := r.conn.QueryRowCtx(ctx, &ident, query, strategyID, string(status)); err != nil {
		if err == sqlx.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("strategiesRepo.SetStatus exec: %w", err)
	}
	r.invalidate(ctx, strategyID, ident.Passphrase, ident.Symbol)
	return nil
}

func (r *strategiesRepo) SetTradeGroup(ctx context.Context, strategyID int64, groupID string) error {
	query := `UPDATE public.strategies SET trade_group_id = $2 WHERE id = $1 RETURNING passphrase, symbol`
	var ident struct {
		Passphrase string `db:"passphrase"`
		Symbol     string `db:"symbol"`
	}
	if err := r.conn.QueryRowCtx(ctx, &ident, query, strategyID, groupID); err != nil {
		if err == sqlx.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("strategiesRepo.SetTradeGroup exec: %w", err)
	}
	r.invalidate(ctx, strategyID, ident.Passphrase, ident.Symbol)
	return nil
}

func (r *strategiesRepo) invalidate(ctx context.Context, strategyID int64, passphrase, symbol string) {
	r.cache.del(ctx,
		keyspace.StrategyKey(strategyID),
		keyspace.StrategyByPassphraseKey(passphrase),
		keyspace.StrategyBySymbolKey(symbol),
	)
}
