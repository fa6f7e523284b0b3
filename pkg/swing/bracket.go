// Package swing builds and places bracketed directional positions from entry
// signals: one market entry, a protective stop, and a ladder of graduated
// take-profit legs that partition the run-up to the final target.
package swing

import (
	"fmt"
	"math"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/trading"
)

// Take-profit legs split the total quantity 1:2:3 with the remainder closed
// by the final target, and sit at quarter distances toward it.
var (
	tpWeights   = []float64{1, 2, 3}
	tpFractions = []float64{0.25, 0.5, 0.75}
)

const (
	weightTotal = 11.0
	// sizeHaircut keeps a margin buffer so the entry cannot be rejected
	// for insufficient balance after fees.
	sizeHaircut = 0.95
	// workingType pins stop and take-profit triggers to the mark price.
	workingType = "MARK_PRICE"
)

// BracketInput is everything BuildBracket needs.
type BracketInput struct {
	Strategy        *trading.Strategy
	Instrument      precision.Instrument
	Side            exchange.Side
	Entry           float64
	AvailableMargin float64
	Leverage        int
	// StopLossPct and TakeProfitPct are percentages of the entry price.
	StopLossPct   float64
	TakeProfitPct float64
	// StopOverride is an absolute stop price; non-zero wins over StopLossPct.
	StopOverride float64
}

// Bracket is the complete order set for one swing entry, pre-chunked so a
// protective stop exists from the first batch onward.
type Bracket struct {
	Quantity    float64
	EntryPrice  float64
	StopPrice   float64
	FinalTarget float64
	Targets     []float64 // intermediate take-profits, may be shorter than 3
	Batches     [][]exchange.OrderSpec
	Skipped     int // legs dropped because their quantity rounded to zero
}

// BuildBracket computes the full bracket. The first batch holds the entry,
// the final take-profit and the stop; the second batch holds the
// intermediate take-profit legs.
func BuildBracket(in BracketInput) (*Bracket, error) {
	if in.Entry <= 0 {
		return nil, fmt.Errorf("swing: entry price must be positive")
	}
	if in.Leverage < 1 {
		return nil, fmt.Errorf("swing: leverage %d below 1", in.Leverage)
	}
	if in.StopLossPct <= 0 && in.StopOverride <= 0 {
		return nil, fmt.Errorf("swing: no stop loss given")
	}
	if in.TakeProfitPct <= 0 {
		return nil, fmt.Errorf("swing: no take profit given")
	}

	inst := in.Instrument
	short := in.Side == exchange.Sell
	rate := in.Strategy.LeverageRateFor(short)
	qty := inst.RoundQuantity(in.AvailableMargin * rate * sizeHaircut * float64(in.Leverage) / in.Entry)
	if qty <= 0 {
		return nil, fmt.Errorf("swing: quantity rounds to zero at entry %v", in.Entry)
	}
	if !inst.MeetsMinNotional(in.Entry, qty) {
		return nil, fmt.Errorf("swing: notional %v below minimum %v", in.Entry*qty, inst.MinNotional)
	}

	sign := 1.0
	if short {
		sign = -1
	}
	stop := in.StopOverride
	if stop <= 0 {
		stop = in.Entry * (1 - sign*in.StopLossPct/100)
	}
	stop = inst.RoundPrice(stop)
	final := inst.RoundPrice(in.Entry * (1 + sign*in.TakeProfitPct/100))
	if short && (stop <= in.Entry || final >= in.Entry) {
		return nil, fmt.Errorf("swing: short bracket inverted, stop %v target %v entry %v", stop, final, in.Entry)
	}
	if !short && (stop >= in.Entry || final <= in.Entry) {
		return nil, fmt.Errorf("swing: long bracket inverted, stop %v target %v entry %v", stop, final, in.Entry)
	}

	closeSide := in.Side.Opposite()
	first := []exchange.OrderSpec{
		{
			Symbol:   in.Strategy.Symbol,
			Side:     in.Side,
			Type:     exchange.Market,
			Quantity: inst.FormatQuantity(qty),
		},
		{
			Symbol:        in.Strategy.Symbol,
			Side:          closeSide,
			Type:          exchange.TakeProfitMarket,
			StopPrice:     inst.FormatPrice(final),
			ClosePosition: true,
			PriceProtect:  true,
			WorkingType:   workingType,
		},
		{
			Symbol:        in.Strategy.Symbol,
			Side:          closeSide,
			Type:          exchange.StopMarket,
			StopPrice:     inst.FormatPrice(stop),
			ClosePosition: true,
			PriceProtect:  true,
			WorkingType:   workingType,
		},
	}

	bracket := &Bracket{
		Quantity:    qty,
		EntryPrice:  in.Entry,
		StopPrice:   stop,
		FinalTarget: final,
		Batches:     [][]exchange.OrderSpec{first},
	}

	span := final - in.Entry
	var second []exchange.OrderSpec
	for i, w := range tpWeights {
		legQty := inst.RoundQuantity(qty * w / weightTotal)
		if legQty <= 0 {
			bracket.Skipped++
			continue
		}
		target := inst.RoundPrice(in.Entry + span*tpFractions[i])
		if math.Abs(target-in.Entry) < inst.TickSize {
			bracket.Skipped++
			continue
		}
		bracket.Targets = append(bracket.Targets, target)
		second = append(second, exchange.OrderSpec{
			Symbol:       in.Strategy.Symbol,
			Side:         closeSide,
			Type:         exchange.TakeProfitMarket,
			StopPrice:    inst.FormatPrice(target),
			Quantity:     inst.FormatQuantity(legQty),
			ReduceOnly:   true,
			PriceProtect: true,
			WorkingType:  workingType,
		})
	}
	if len(second) > 0 {
		bracket.Batches = append(bracket.Batches, second)
	}
	return bracket, nil
}
