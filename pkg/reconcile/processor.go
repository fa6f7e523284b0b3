package reconcile

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/symlock"
	"gridwire-api/pkg/trading"
)

// Store is the ledger surface the processor writes to. InsertExecution must
// be idempotent on the exchange execution id and report whether the row was
// new.
type Store interface {
	InsertExecution(ctx context.Context, exec *trading.OrderExecution) (bool, error)
	InsertTrade(ctx context.Context, trade *trading.Trade) error
	ApplyBalanceDelta(ctx context.Context, strategyID int64, delta float64) error
}

// StrategyResolver maps a fill's symbol to its owning strategy.
type StrategyResolver interface {
	BySymbol(ctx context.Context, symbol string) (*trading.Strategy, error)
}

// GridResetter runs the incremental ladder reset after a grid fill.
type GridResetter interface {
	OnFill(ctx context.Context, strat *trading.Strategy, fill *exchange.FillEvent) error
}

// RiskChecker re-evaluates margin commitment after a fill.
type RiskChecker interface {
	Check(ctx context.Context, strat *trading.Strategy) (bool, error)
}

// Processor folds one fill event into the ledger and triggers the follow-up
// actions. The ledger write is the failure boundary: once the execution row
// committed, a failing grid reset or risk check is logged and never undoes
// it.
type Processor struct {
	store      Store
	strategies StrategyResolver
	grid       GridResetter
	risk       RiskChecker
	locks      *symlock.KeyedMutex
	logger     logx.Logger
}

// NewProcessor builds a fill processor. The keyed mutex serialises ledger
// writes per symbol; it must not be the same instance the grid engine locks,
// or the reset callback would deadlock.
func NewProcessor(store Store, strategies StrategyResolver, grid GridResetter, risk RiskChecker) *Processor {
	return &Processor{
		store:      store,
		strategies: strategies,
		grid:       grid,
		risk:       risk,
		locks:      symlock.New(),
		logger:     logx.WithContext(context.Background()),
	}
}

// Process handles one fill event end to end. Duplicate deliveries are
// detected at the execution-row insert and become no-ops.
func (p *Processor) Process(ctx context.Context, fill *exchange.FillEvent) {
	if fill.LastFilledQty <= 0 {
		return
	}
	strat, err := p.strategies.BySymbol(ctx, fill.Symbol)
	if err != nil {
		p.logger.Errorf("reconcile: no strategy for %s fill %d: %v", fill.Symbol, fill.ExecutionID, err)
		return
	}

	inserted := p.recordLedger(ctx, strat, fill)
	if !inserted {
		return
	}

	// Follow-up actions, each in its own failure boundary.
	if strat.Style == trading.StyleGrid && strat.Status == trading.StatusActive {
		if err := p.grid.OnFill(ctx, strat, fill); err != nil {
			p.logger.Errorf("reconcile: grid reset on %s after fill %d: %v", strat.Symbol, fill.ExecutionID, err)
		}
	}
	if _, err := p.risk.Check(ctx, strat); err != nil {
		p.logger.Errorf("reconcile: risk check on %s after fill %d: %v", strat.Symbol, fill.ExecutionID, err)
	}
}

// recordLedger writes the execution row, the trade row and the balance delta
// under the symbol lock. It reports whether the execution was new.
func (p *Processor) recordLedger(ctx context.Context, strat *trading.Strategy, fill *exchange.FillEvent) bool {
	p.locks.Lock(strat.Symbol)
	defer p.locks.Unlock(strat.Symbol)

	execType := trading.ExecFull
	if fill.Partial() {
		execType = trading.ExecPartial
	}
	row := &trading.OrderExecution{
		ExecutionID:   fill.ExecutionID,
		Type:          execType,
		OrderID:       fill.OrderID,
		ClientOrderID: fill.ClientOrderID,
		StrategyID:    strat.ID,
		Symbol:        fill.Symbol,
		Side:          fill.Side,
		Price:         fill.LastFilledPrice,
		Quantity:      fill.LastFilledQty,
		Commission:    fill.Commission,
		RealizedPnl:   fill.RealizedPnl,
		ExecutedAt:    time.UnixMilli(fill.FillTime),
	}
	inserted, err := p.store.InsertExecution(ctx, row)
	if err != nil {
		p.logger.Errorf("reconcile: execution row %d: %v", fill.ExecutionID, err)
		return false
	}
	if !inserted {
		p.logger.Infof("reconcile: duplicate execution %d on %s ignored", fill.ExecutionID, fill.Symbol)
		return false
	}

	trade := &trading.Trade{
		OrderID:      fill.OrderID,
		StrategyID:   strat.ID,
		Symbol:       fill.Symbol,
		Side:         fill.Side,
		Type:         tradeType(strat, fill),
		Quantity:     fill.LastFilledQty,
		Price:        fill.LastFilledPrice,
		ProfitLoss:   fill.RealizedPnl,
		TradeGroupID: strat.TradeGroupID,
		CreatedAt:    time.Now(),
	}
	if err := p.store.InsertTrade(ctx, trade); err != nil {
		p.logger.Errorf("reconcile: trade row for execution %d: %v", fill.ExecutionID, err)
	}
	if err := p.store.ApplyBalanceDelta(ctx, strat.ID, fill.RealizedPnl-fill.Commission); err != nil {
		p.logger.Errorf("reconcile: balance delta for execution %d: %v", fill.ExecutionID, err)
	}
	return true
}

// tradeType classifies the ledger row from the order type and the fill's
// realized result.
func tradeType(strat *trading.Strategy, fill *exchange.FillEvent) trading.TradeType {
	if strat.Style == trading.StyleGrid {
		return trading.TradeGridFill
	}
	switch fill.OrderType {
	case exchange.StopMarket:
		return trading.TradeStopLoss
	case exchange.TakeProfitMarket:
		return trading.TradeTakeProfit
	}
	if fill.RealizedPnl != 0 {
		return trading.TradeExit
	}
	return trading.TradeEntry
}
