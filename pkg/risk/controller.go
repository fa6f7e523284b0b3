// Package risk guards against margin over-concentration. When the fraction
// of the account committed to one position exceeds the strategy's hold rate,
// part of the position is closed and the direction's leverage rate decays,
// throttling future sizing. Rates recover slowly on a daily schedule.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/trading"
)

// Store persists the consequences of a risk action.
type Store interface {
	InsertTrade(ctx context.Context, trade *trading.Trade) error
	UpdateLeverageRates(ctx context.Context, strategyID int64, long, short float64) error
}

const defaultMarginAsset = "USDT"

// Proposal is a pending deleveraging action.
type Proposal struct {
	Strategy  *trading.Strategy
	Side      exchange.Side
	Quantity  float64
	Price     float64 // mark price at evaluation, for the ledger row
	HoldRatio float64
	Short     bool
}

// Evaluate compares the position's margin commitment against the strategy's
// hold limit and proposes a reduce-only close when it is exceeded. A nil
// proposal means the position is within bounds.
func Evaluate(strat *trading.Strategy, pos *exchange.PositionSnapshot, bal *exchange.Balance) *Proposal {
	if pos == nil || pos.IsFlat() {
		return nil
	}
	denom := math.Max(bal.Balance, bal.AvailableBalance)
	if denom <= 0 {
		return nil
	}
	ratio := pos.Margin / denom
	short := pos.IsShort()
	limit := strat.HoldRate
	if short {
		limit = strat.ShortHoldRate
	}
	if limit <= 0 || ratio <= limit {
		return nil
	}
	side := exchange.Sell
	if short {
		side = exchange.Buy
	}
	return &Proposal{
		Strategy:  strat,
		Side:      side,
		Quantity:  math.Abs(pos.PositionAmt) * strat.HoldReduceRate,
		Price:     pos.MarkPrice,
		HoldRatio: ratio,
		Short:     short,
	}
}

// RecoverRates returns the rates after one recovery step, clamped at 1.0.
func RecoverRates(strat *trading.Strategy) (long, short float64) {
	factor := 1 + strat.RecoverRate
	long = math.Min(strat.LeverageRate*factor, 1.0)
	short = math.Min(strat.ShortLeverageRate*factor, 1.0)
	return long, short
}

// Controller evaluates and applies risk actions against the exchange and the
// ledger.
type Controller struct {
	provider    exchange.Provider
	instruments *precision.Registry
	store       Store
	marginAsset string
	logger      logx.Logger
}

// NewController builds a risk controller.
func NewController(provider exchange.Provider, instruments *precision.Registry, store Store) *Controller {
	return &Controller{
		provider:    provider,
		instruments: instruments,
		store:       store,
		marginAsset: defaultMarginAsset,
		logger:      logx.WithContext(context.Background()),
	}
}

// Check snapshots the position and applies a deleveraging action if the
// margin commitment is over the limit. It reports whether an action fired.
func (c *Controller) Check(ctx context.Context, strat *trading.Strategy) (bool, error) {
	pos, err := c.provider.GetPosition(ctx, strat.Symbol)
	if err != nil {
		return false, fmt.Errorf("risk: position lookup for %s: %w", strat.Symbol, err)
	}
	bal, err := c.provider.GetAvailableBalance(ctx, c.marginAsset)
	if err != nil {
		return false, fmt.Errorf("risk: balance lookup: %w", err)
	}
	proposal := Evaluate(strat, pos, bal)
	if proposal == nil {
		return false, nil
	}
	return true, c.Apply(ctx, proposal)
}

// Apply submits the reduce-only close, records a RISK_CONTROL ledger row and
// decays the direction-matching leverage rate. The decay compounds across
// repeated events, so sizing throttles harder the more often risk fires.
func (c *Controller) Apply(ctx context.Context, p *Proposal) error {
	strat := p.Strategy
	inst, ok := c.instruments.Lookup(strat.Symbol)
	if !ok {
		return fmt.Errorf("risk: unknown instrument %s", strat.Symbol)
	}
	qty := inst.RoundQuantity(p.Quantity)
	if qty <= 0 {
		return fmt.Errorf("risk: close quantity %v rounds to zero for %s", p.Quantity, strat.Symbol)
	}

	acks, err := c.provider.PlaceBatchOrders(ctx, []exchange.OrderSpec{{
		Symbol:     strat.Symbol,
		Side:       p.Side,
		Type:       exchange.Market,
		Quantity:   inst.FormatQuantity(qty),
		ReduceOnly: true,
	}})
	if err != nil {
		return fmt.Errorf("risk: close order on %s: %w", strat.Symbol, err)
	}

	trade := &trading.Trade{
		OrderID:      acks[0].OrderID,
		StrategyID:   strat.ID,
		Symbol:       strat.Symbol,
		Side:         p.Side,
		Type:         trading.TradeRiskControl,
		Quantity:     qty,
		Price:        p.Price,
		TradeGroupID: strat.TradeGroupID,
		CreatedAt:    time.Now(),
	}
	if err := c.store.InsertTrade(ctx, trade); err != nil {
		c.logger.Errorf("risk: ledger row for strategy %d: %v", strat.ID, err)
	}

	long, short := strat.LeverageRate, strat.ShortLeverageRate
	if p.Short {
		short *= strat.ReduceRate
	} else {
		long *= strat.ReduceRate
	}
	if err := c.store.UpdateLeverageRates(ctx, strat.ID, long, short); err != nil {
		return fmt.Errorf("risk: persist leverage rates for strategy %d: %w", strat.ID, err)
	}
	strat.LeverageRate, strat.ShortLeverageRate = long, short
	c.logger.Infof("risk: deleveraged %s by %v (hold ratio %.4f), rates now %.4f/%.4f",
		strat.Symbol, qty, p.HoldRatio, long, short)
	return nil
}

// Recover applies one recovery step to a strategy and persists it. Scheduled
// daily; only active strategies recover, a deactivated strategy keeps its
// reduced rates until it is switched back on.
func (c *Controller) Recover(ctx context.Context, strat *trading.Strategy) error {
	if strat.Status != trading.StatusActive {
		return nil
	}
	long, short := RecoverRates(strat)
	if long == strat.LeverageRate && short == strat.ShortLeverageRate {
		return nil
	}
	if err := c.store.UpdateLeverageRates(ctx, strat.ID, long, short); err != nil {
		return fmt.Errorf("risk: persist recovered rates for strategy %d: %w", strat.ID, err)
	}
	strat.LeverageRate, strat.ShortLeverageRate = long, short
	return nil
}
