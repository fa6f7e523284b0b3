// Package grid maintains a symmetric ladder of resting limit orders around a
// reference price. It owns ladder math, the incremental two-order reset that
// follows each fill, and the watchdog that falls back to a full rebuild when
// the resting-order count drifts.
package grid

import (
	"fmt"
	"math"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/trading"
)

// GenerateLevels interpolates count+1 prices across [lower, upper], each
// snapped to the instrument tick. The result is strictly increasing; bounds
// too narrow for the tick size are rejected.
func GenerateLevels(lower, upper float64, count int, inst precision.Instrument) ([]float64, error) {
	if lower >= upper {
		return nil, fmt.Errorf("grid: lower bound %v must be below upper bound %v", lower, upper)
	}
	if count < 2 {
		return nil, fmt.Errorf("grid: count %d must be at least 2", count)
	}
	step := (upper - lower) / float64(count)
	levels := make([]float64, 0, count+1)
	for i := 0; i <= count; i++ {
		levels = append(levels, inst.RoundPrice(lower+step*float64(i)))
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] <= levels[i-1] {
			return nil, fmt.Errorf("grid: band [%v, %v] too narrow for tick %v at count %d",
				lower, upper, inst.TickSize, count)
		}
	}
	return levels, nil
}

// CurrentIndex returns the ladder index nearest the mark price.
func CurrentIndex(levels []float64, markPrice float64) int {
	best := 0
	for i, lv := range levels {
		if math.Abs(lv-markPrice) < math.Abs(levels[best]-markPrice) {
			best = i
		}
	}
	return best
}

// LadderInput is everything BuildLadder needs to emit a full order set.
type LadderInput struct {
	Strategy        *trading.Strategy
	Instrument      precision.Instrument
	Slots           []trading.GridSlot // ascending by GridIndex
	CurrentIndex    int
	AvailableMargin float64
	// Short marks the existing net position direction; it selects the
	// sizing rate for sell rungs.
	Short bool
}

// BuildLadder emits one limit order per slot except the current index: buys
// at EntryPrice below it, sells at ExitPrice above it. Orders are chunked to
// the exchange batch limit in ascending slot order. Rungs whose quantity
// rounds to zero are skipped, not fatal; the skipped count is reported so
// callers can log the gap.
func BuildLadder(in LadderInput) ([][]exchange.OrderSpec, int, error) {
	strat := in.Strategy
	if len(in.Slots) != strat.GridCount+1 {
		return nil, 0, fmt.Errorf("grid: strategy %d has %d slots, want %d",
			strat.ID, len(in.Slots), strat.GridCount+1)
	}
	if in.CurrentIndex < 0 || in.CurrentIndex >= len(in.Slots) {
		return nil, 0, fmt.Errorf("grid: current index %d out of range", in.CurrentIndex)
	}

	skipped := 0
	var batches [][]exchange.OrderSpec
	batch := make([]exchange.OrderSpec, 0, exchange.BatchLimit)
	for _, slot := range in.Slots {
		if slot.GridIndex == in.CurrentIndex {
			continue
		}
		side, price := exchange.Buy, slot.EntryPrice
		if slot.GridIndex > in.CurrentIndex {
			side, price = exchange.Sell, slot.ExitPrice
		}
		qty := slotQuantity(strat, in.Instrument, price, in.AvailableMargin, in.Short && side == exchange.Sell)
		if qty <= 0 {
			skipped++
			continue
		}
		batch = append(batch, exchange.OrderSpec{
			Symbol:      strat.Symbol,
			Side:        side,
			Type:        exchange.Limit,
			TimeInForce: exchange.GTC,
			Price:       in.Instrument.FormatPrice(price),
			Quantity:    in.Instrument.FormatQuantity(qty),
		})
		if len(batch) == exchange.BatchLimit {
			batches = append(batches, batch)
			batch = make([]exchange.OrderSpec, 0, exchange.BatchLimit)
		}
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches, skipped, nil
}

// slotQuantity sizes one rung: the strategy's available margin is spread
// evenly across rungs, scaled by leverage and the direction rate, then
// floored to the instrument minimum notional.
func slotQuantity(strat *trading.Strategy, inst precision.Instrument, price, available float64, short bool) float64 {
	if price <= 0 || available <= 0 {
		return 0
	}
	margin := available * strat.LeverageRateFor(short) / float64(strat.GridCount)
	qty := margin * float64(strat.Leverage) / price
	if qty*price < inst.MinNotional {
		qty = inst.MinNotional / price
	}
	rounded := inst.RoundQuantity(qty)
	if rounded > 0 && !inst.MeetsMinNotional(price, rounded) {
		rounded = inst.RoundQuantity(rounded + math.Pow10(-inst.QuantityPrecision))
	}
	return rounded
}
