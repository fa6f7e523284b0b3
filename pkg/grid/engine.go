package grid

import (
	"context"
	"fmt"
	"math"

	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/symlock"
	"gridwire-api/pkg/trading"
)

// SlotStore persists the ladder slots of a grid strategy.
type SlotStore interface {
	// Replace swaps the full slot set of a strategy in one transaction.
	Replace(ctx context.Context, strategyID int64, slots []trading.GridSlot) error
	// MarkFilled flips the open flag of the slot whose entry (buy) or exit
	// (sell) price matches the fill price.
	MarkFilled(ctx context.Context, strategyID int64, side exchange.Side, price float64) error
}

const defaultMarginAsset = "USDT"

// Engine drives the grid lifecycle for every grid-style strategy. All
// mutating operations on one symbol run under the keyed mutex.
type Engine struct {
	provider    exchange.Provider
	instruments *precision.Registry
	store       SlotStore
	locks       *symlock.KeyedMutex
	marginAsset string
	logger      logx.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithMarginAsset overrides the asset used for balance lookups.
func WithMarginAsset(asset string) EngineOption {
	return func(e *Engine) {
		if asset != "" {
			e.marginAsset = asset
		}
	}
}

// NewEngine builds a grid engine.
func NewEngine(provider exchange.Provider, instruments *precision.Registry, store SlotStore, locks *symlock.KeyedMutex, opts ...EngineOption) *Engine {
	e := &Engine{
		provider:    provider,
		instruments: instruments,
		store:       store,
		locks:       locks,
		marginAsset: defaultMarginAsset,
		logger:      logx.WithContext(context.Background()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Establish tears down any resting ladder and rebuilds it centered on the
// reference price.
func (e *Engine) Establish(ctx context.Context, strat *trading.Strategy, refPrice float64) error {
	e.locks.Lock(strat.Symbol)
	defer e.locks.Unlock(strat.Symbol)
	return e.fullResetLocked(ctx, strat, refPrice)
}

// Teardown cancels the ladder and flattens the accumulated position.
func (e *Engine) Teardown(ctx context.Context, strat *trading.Strategy) error {
	e.locks.Lock(strat.Symbol)
	defer e.locks.Unlock(strat.Symbol)

	if err := e.provider.CancelAllOpenOrders(ctx, strat.Symbol); err != nil {
		return fmt.Errorf("grid: cancel ladder for %s: %w", strat.Symbol, err)
	}
	pos, err := e.provider.GetPosition(ctx, strat.Symbol)
	if err != nil {
		return fmt.Errorf("grid: position lookup for %s: %w", strat.Symbol, err)
	}
	if pos.IsFlat() {
		return nil
	}
	inst, ok := e.instruments.Lookup(strat.Symbol)
	if !ok {
		return fmt.Errorf("grid: unknown instrument %s", strat.Symbol)
	}
	side := exchange.Sell
	if pos.IsShort() {
		side = exchange.Buy
	}
	_, err = e.provider.PlaceBatchOrders(ctx, []exchange.OrderSpec{{
		Symbol:     strat.Symbol,
		Side:       side,
		Type:       exchange.Market,
		Quantity:   inst.FormatQuantity(math.Abs(pos.PositionAmt)),
		ReduceOnly: true,
	}})
	if err != nil {
		return fmt.Errorf("grid: flatten %s: %w", strat.Symbol, err)
	}
	return nil
}

// OnFill runs the incremental reset after one grid rung fills: the fill gets
// a near counter-order one price step away, the ladder extends one rung past
// its previous far edge on the filled side, and the now-stale far rung on the
// counter side is cancelled. The resting count is unchanged.
func (e *Engine) OnFill(ctx context.Context, strat *trading.Strategy, fill *exchange.FillEvent) error {
	e.locks.Lock(strat.Symbol)
	defer e.locks.Unlock(strat.Symbol)

	inst, ok := e.instruments.Lookup(strat.Symbol)
	if !ok {
		return fmt.Errorf("grid: unknown instrument %s", strat.Symbol)
	}
	if err := e.store.MarkFilled(ctx, strat.ID, fill.Side, fill.LastFilledPrice); err != nil {
		e.logger.Errorf("grid: mark slot filled for strategy %d: %v", strat.ID, err)
	}

	open, err := e.provider.GetOpenOrders(ctx, strat.Symbol)
	if err != nil {
		return fmt.Errorf("grid: open orders for %s: %w", strat.Symbol, err)
	}

	base := fill.LastFilledPrice
	step := strat.PriceStepRate
	filledBuy := fill.Side == exchange.Buy

	var nearSide, farSide exchange.Side
	var nearPrice, farPrice float64
	var stale *exchange.Order
	if filledBuy {
		nearSide, farSide = exchange.Sell, exchange.Buy
		nearPrice = base * (1 + step)
		farPrice = farthestPrice(open, exchange.Buy, base) * (1 - step)
		stale = farthestOrder(open, exchange.Sell, base)
	} else {
		nearSide, farSide = exchange.Buy, exchange.Sell
		nearPrice = base * (1 - step)
		farPrice = farthestPrice(open, exchange.Sell, base) * (1 + step)
		stale = farthestOrder(open, exchange.Buy, base)
	}

	if stale != nil {
		if err := e.provider.CancelOrder(ctx, strat.Symbol, stale.OrderID); err != nil {
			e.logger.Errorf("grid: cancel stale order %d on %s: %v", stale.OrderID, strat.Symbol, err)
		}
	}

	wallet, err := e.provider.GetAvailableBalance(ctx, e.marginAsset)
	if err != nil {
		return fmt.Errorf("grid: balance lookup: %w", err)
	}
	pos, err := e.provider.GetPosition(ctx, strat.Symbol)
	if err != nil {
		return fmt.Errorf("grid: position lookup for %s: %w", strat.Symbol, err)
	}

	specs := make([]exchange.OrderSpec, 0, 2)
	nearQty := inst.RoundQuantity(fill.LastFilledQty)
	if nearQty > 0 {
		specs = append(specs, limitSpec(strat.Symbol, nearSide, inst, nearPrice, nearQty))
	} else {
		e.logger.Infof("grid: near rung on %s skipped, quantity rounds to zero", strat.Symbol)
	}
	farQty := slotQuantity(strat, inst, inst.RoundPrice(farPrice), wallet.AvailableBalance, pos.IsShort() && farSide == exchange.Sell)
	if farQty > 0 {
		specs = append(specs, limitSpec(strat.Symbol, farSide, inst, farPrice, farQty))
	} else {
		e.logger.Infof("grid: far rung on %s skipped, quantity rounds to zero", strat.Symbol)
	}
	if len(specs) == 0 {
		return nil
	}
	if _, err := e.provider.PlaceBatchOrders(ctx, specs); err != nil {
		return fmt.Errorf("grid: place reset orders on %s: %w", strat.Symbol, err)
	}
	return nil
}

// fullResetLocked cancels everything resting and rebuilds the ladder from
// the strategy band. Callers hold the symbol lock.
func (e *Engine) fullResetLocked(ctx context.Context, strat *trading.Strategy, refPrice float64) error {
	inst, ok := e.instruments.Lookup(strat.Symbol)
	if !ok {
		return fmt.Errorf("grid: unknown instrument %s", strat.Symbol)
	}
	lower, upper := strat.LowerBound, strat.UpperBound
	if lower <= 0 || upper <= lower {
		half := strat.PriceStepRate * float64(strat.GridCount) / 2
		lower = refPrice * (1 - half)
		upper = refPrice * (1 + half)
	}
	levels, err := GenerateLevels(lower, upper, strat.GridCount, inst)
	if err != nil {
		return err
	}

	if err := e.provider.CancelAllOpenOrders(ctx, strat.Symbol); err != nil {
		return fmt.Errorf("grid: cancel ladder for %s: %w", strat.Symbol, err)
	}

	current := CurrentIndex(levels, refPrice)
	slots := make([]trading.GridSlot, 0, len(levels))
	for i, lv := range levels {
		exit := lv
		if i+1 < len(levels) {
			exit = levels[i+1]
		}
		slots = append(slots, trading.GridSlot{
			StrategyID:   strat.ID,
			GridIndex:    i,
			EntryPrice:   lv,
			ExitPrice:    exit,
			TradeGroupID: strat.TradeGroupID,
		})
	}
	if err := e.store.Replace(ctx, strat.ID, slots); err != nil {
		return fmt.Errorf("grid: persist slots for strategy %d: %w", strat.ID, err)
	}

	wallet, err := e.provider.GetAvailableBalance(ctx, e.marginAsset)
	if err != nil {
		return fmt.Errorf("grid: balance lookup: %w", err)
	}
	pos, err := e.provider.GetPosition(ctx, strat.Symbol)
	if err != nil {
		return fmt.Errorf("grid: position lookup for %s: %w", strat.Symbol, err)
	}
	batches, skipped, err := BuildLadder(LadderInput{
		Strategy:        strat,
		Instrument:      inst,
		Slots:           slots,
		CurrentIndex:    current,
		AvailableMargin: wallet.AvailableBalance,
		Short:           pos.IsShort(),
	})
	if err != nil {
		return err
	}
	if skipped > 0 {
		e.logger.Errorf("grid: %s ladder dropped %d zero-quantity rungs", strat.Symbol, skipped)
	}
	for _, batch := range batches {
		if _, err := e.provider.PlaceBatchOrders(ctx, batch); err != nil {
			return fmt.Errorf("grid: place ladder batch on %s: %w", strat.Symbol, err)
		}
	}
	e.logger.Infof("grid: rebuilt %s ladder, %d levels around %v", strat.Symbol, len(levels), refPrice)
	return nil
}

func limitSpec(symbol string, side exchange.Side, inst precision.Instrument, price, qty float64) exchange.OrderSpec {
	return exchange.OrderSpec{
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.Limit,
		TimeInForce: exchange.GTC,
		Price:       inst.FormatPrice(inst.RoundPrice(price)),
		Quantity:    inst.FormatQuantity(qty),
	}
}

// farthestOrder picks the resting order of the given side farthest from base.
func farthestOrder(orders []exchange.Order, side exchange.Side, base float64) *exchange.Order {
	var best *exchange.Order
	var bestDist float64
	for i := range orders {
		o := &orders[i]
		if o.Side != side {
			continue
		}
		if d := math.Abs(o.Price - base); best == nil || d > bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

// farthestPrice returns the price of the farthest resting order of the side,
// or base when that side is empty.
func farthestPrice(orders []exchange.Order, side exchange.Side, base float64) float64 {
	if o := farthestOrder(orders, side, base); o != nil {
		return o.Price
	}
	return base
}
