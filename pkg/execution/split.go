package execution

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
)

// SplitQuantity slices a total into parts of equal rounded size; the last
// slice absorbs the rounding remainder. Slices that round to zero are
// dropped, so fewer than parts slices may come back.
func SplitQuantity(total float64, parts int, inst precision.Instrument) []float64 {
	if parts < 1 {
		parts = 1
	}
	slice := inst.RoundQuantity(total / float64(parts))
	out := make([]float64, 0, parts)
	allocated := 0.0
	for i := 0; i < parts-1; i++ {
		if slice <= 0 {
			break
		}
		out = append(out, slice)
		allocated += slice
	}
	if last := inst.RoundQuantity(total - allocated); last > 0 {
		out = append(out, last)
	}
	return out
}

// ExecuteSplitFOK divides the quantity into slices and runs each as an
// independent FOK intent on the worker pool. The aggregate reports a
// volume-weighted average price; when market fallback is enabled, any
// unexecuted remainder completes as a single market order.
func (e *Executor) ExecuteSplitFOK(ctx context.Context, symbol string, side exchange.Side, qty, price float64) (*Result, error) {
	inst, ok := e.instruments.Lookup(symbol)
	if !ok {
		return nil, fmt.Errorf("execution: unknown instrument %s", symbol)
	}
	slices := SplitQuantity(qty, e.cfg.SplitParts, inst)
	if len(slices) == 0 {
		return nil, fmt.Errorf("execution: quantity %v rounds to zero for %s", qty, symbol)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		agg    Result
		expect float64
	)
	for _, slice := range slices {
		expect += slice
		qty := slice
		wg.Add(1)
		submit := func() {
			defer wg.Done()
			res, err := e.ExecuteFOK(ctx, symbol, side, qty, price)
			if err != nil {
				e.logger.Errorf("execution: slice %v %s %s failed: %v", qty, side, symbol, err)
				return
			}
			if !res.Filled {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			agg.AvgPrice = vwap(agg.AvgPrice, agg.ExecutedQty, res.AvgPrice, res.ExecutedQty)
			agg.ExecutedQty += res.ExecutedQty
			agg.Orders = append(agg.Orders, res.Orders...)
		}
		if err := e.pool.Submit(submit); err != nil {
			wg.Done()
			e.logger.Errorf("execution: submit slice on %s: %v", symbol, err)
		}
	}
	wg.Wait()

	remainder := inst.RoundQuantity(expect - agg.ExecutedQty)
	if remainder > 0 && e.cfg.MarketFallback {
		if err := e.marketRemainder(ctx, symbol, side, inst, remainder, &agg); err != nil {
			return &agg, err
		}
	}
	agg.Filled = inst.RoundQuantity(expect-agg.ExecutedQty) <= 0
	return &agg, nil
}

// marketRemainder completes the unfilled remainder at market.
func (e *Executor) marketRemainder(ctx context.Context, symbol string, side exchange.Side, inst precision.Instrument, remainder float64, agg *Result) error {
	acks, err := e.provider.PlaceBatchOrders(ctx, []exchange.OrderSpec{{
		Symbol:   symbol,
		Side:     side,
		Type:     exchange.Market,
		Quantity: inst.FormatQuantity(remainder),
	}})
	if err != nil {
		return fmt.Errorf("execution: market fallback %v %s %s: %w", remainder, side, symbol, err)
	}
	order := acks[0]
	if !order.Status.Terminal() {
		final, perr := e.pollOrder(ctx, symbol, order.OrderID)
		if perr != nil {
			return perr
		}
		order = *final
	}
	if order.ExecutedQty > 0 {
		agg.AvgPrice = vwap(agg.AvgPrice, agg.ExecutedQty, order.AvgPrice, order.ExecutedQty)
		agg.ExecutedQty += order.ExecutedQty
		agg.Orders = append(agg.Orders, order)
	}
	return nil
}

// vwap folds a new fill into a running volume-weighted average.
func vwap(avgA, qtyA, avgB, qtyB float64) float64 {
	total := qtyA + qtyB
	if total <= 0 || math.IsNaN(total) {
		return 0
	}
	return (avgA*qtyA + avgB*qtyB) / total
}
