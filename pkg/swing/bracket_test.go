package swing

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/trading"
)

func testInstrument() precision.Instrument {
	return precision.Instrument{
		Symbol:            "BTCUSDT",
		TickSize:          0.01,
		PricePrecision:    2,
		QuantityPrecision: 3,
		MinNotional:       5,
	}
}

func swingStrategy() *trading.Strategy {
	return &trading.Strategy{
		ID:                3,
		Symbol:            "BTCUSDT",
		Style:             trading.StyleSwing,
		Leverage:          10,
		LeverageRate:      1.0,
		ShortLeverageRate: 1.0,
		Status:            trading.StatusActive,
	}
}

func longInput() BracketInput {
	return BracketInput{
		Strategy:        swingStrategy(),
		Instrument:      testInstrument(),
		Side:            exchange.Buy,
		Entry:           100,
		AvailableMargin: 1000,
		Leverage:        10,
		StopLossPct:     2,
		TakeProfitPct:   8,
	}
}

func TestBuildBracketLong(t *testing.T) {
	b, err := BuildBracket(longInput())
	require.NoError(t, err)

	// 1000 * 1.0 * 0.95 * 10 / 100 = 95.
	assert.InDelta(t, 95, b.Quantity, 1e-9)
	assert.InDelta(t, 98, b.StopPrice, 1e-9)
	assert.InDelta(t, 108, b.FinalTarget, 1e-9)
	require.Len(t, b.Targets, 3)
	assert.InDelta(t, 102, b.Targets[0], 1e-9)
	assert.InDelta(t, 104, b.Targets[1], 1e-9)
	assert.InDelta(t, 106, b.Targets[2], 1e-9)

	require.Len(t, b.Batches, 2)
	first, second := b.Batches[0], b.Batches[1]
	require.Len(t, first, 3)
	assert.Equal(t, exchange.Market, first[0].Type)
	assert.Equal(t, exchange.Buy, first[0].Side)
	assert.Equal(t, exchange.TakeProfitMarket, first[1].Type)
	assert.True(t, first[1].ClosePosition)
	assert.Equal(t, exchange.StopMarket, first[2].Type)
	assert.True(t, first[2].ClosePosition)
	for _, spec := range first[1:] {
		assert.Equal(t, exchange.Sell, spec.Side)
		assert.True(t, spec.PriceProtect)
		assert.Equal(t, "MARK_PRICE", spec.WorkingType)
	}

	require.Len(t, second, 3)
	var legTotal float64
	for i, spec := range second {
		assert.Equal(t, exchange.TakeProfitMarket, spec.Type)
		assert.Equal(t, exchange.Sell, spec.Side)
		assert.True(t, spec.ReduceOnly)
		qty, err := strconv.ParseFloat(spec.Quantity, 64)
		require.NoError(t, err)
		legTotal += qty
		expected := 95 * tpWeights[i] / weightTotal
		assert.InDelta(t, expected, qty, 0.001)
	}
	// The final close-position target absorbs everything the graduated legs
	// leave behind, so legs must stay strictly below the total.
	assert.Less(t, legTotal, b.Quantity)
}

func TestBuildBracketShort(t *testing.T) {
	in := longInput()
	in.Side = exchange.Sell

	b, err := BuildBracket(in)
	require.NoError(t, err)
	assert.InDelta(t, 102, b.StopPrice, 1e-9)
	assert.InDelta(t, 92, b.FinalTarget, 1e-9)
	require.Len(t, b.Targets, 3)
	assert.InDelta(t, 98, b.Targets[0], 1e-9)
	assert.InDelta(t, 96, b.Targets[1], 1e-9)
	assert.InDelta(t, 94, b.Targets[2], 1e-9)
	assert.Equal(t, exchange.Sell, b.Batches[0][0].Side)
	assert.Equal(t, exchange.Buy, b.Batches[0][2].Side)
}

func TestBuildBracketStopOverride(t *testing.T) {
	in := longInput()
	in.StopOverride = 97.5

	b, err := BuildBracket(in)
	require.NoError(t, err)
	assert.InDelta(t, 97.5, b.StopPrice, 1e-9)
}

func TestBuildBracketSkipsZeroQuantityLegs(t *testing.T) {
	in := longInput()
	// Sized so the smaller graduated legs round to zero at 3 decimals while
	// the total still clears min notional.
	in.Entry = 50000
	in.AvailableMargin = 53
	in.Leverage = 5

	b, err := BuildBracket(in)
	require.NoError(t, err)
	assert.Greater(t, b.Skipped, 0)
	assert.Less(t, len(b.Targets), 3)
}

func TestBuildBracketRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BracketInput)
	}{
		{"zero entry", func(in *BracketInput) { in.Entry = 0 }},
		{"no stop", func(in *BracketInput) { in.StopLossPct = 0 }},
		{"no target", func(in *BracketInput) { in.TakeProfitPct = 0 }},
		{"zero leverage", func(in *BracketInput) { in.Leverage = 0 }},
		{"no margin", func(in *BracketInput) { in.AvailableMargin = 0 }},
		{"below min notional", func(in *BracketInput) { in.AvailableMargin = 0.04 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := longInput()
			tc.mutate(&in)
			_, err := BuildBracket(in)
			assert.Error(t, err)
		})
	}
}
