package execution

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/exchange/sim"
	"gridwire-api/pkg/precision"
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

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.PollTimeout = 50 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newFixture(t *testing.T, cfg Config) (*Executor, *sim.Provider) {
	t.Helper()
	provider := sim.New()
	provider.AddInstrument(testInstrument())
	provider.SetMarkPrice("BTCUSDT", 100)
	provider.SetBalance(100000)
	registry, err := precision.NewRegistry([]precision.Instrument{testInstrument()})
	require.NoError(t, err)
	exec, err := NewExecutor(provider, registry, cfg)
	require.NoError(t, err)
	t.Cleanup(exec.Close)
	return exec, provider
}

func TestAdjustedPriceScenario(t *testing.T) {
	got := AdjustedPrice(100, exchange.Buy, 2, 0.00005, 0.0005)
	assert.InDelta(t, 100.01, got, 1e-9)

	got = AdjustedPrice(100, exchange.Sell, 2, 0.00005, 0.0005)
	assert.InDelta(t, 99.99, got, 1e-9)
}

func TestAdjustedPriceMonotonicAndClamped(t *testing.T) {
	const step, max = 0.00005, 0.0005
	prev := 0.0
	for attempt := 1; attempt <= 25; attempt++ {
		px := AdjustedPrice(100, exchange.Buy, attempt, step, max)
		adj := px/100 - 1
		assert.GreaterOrEqual(t, adj, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, adj, max+1e-12, "attempt %d", attempt)
		prev = adj
	}
	assert.InDelta(t, 100*(1+max), AdjustedPrice(100, exchange.Buy, 25, step, max), 1e-9)
}

func TestExecuteFOKFillsFirstAttempt(t *testing.T) {
	exec, provider := newFixture(t, testConfig())

	res, err := exec.ExecuteFOK(context.Background(), "BTCUSDT", exchange.Buy, 1, 100)
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.InDelta(t, 1, res.ExecutedQty, 1e-9)
	assert.Equal(t, 1, provider.BatchCalls)
}

func TestExecuteFOKRetriesWithNudgedPrice(t *testing.T) {
	exec, provider := newFixture(t, testConfig())

	var attempts int
	var prices []float64
	provider.SetFOKPolicy(func(spec exchange.OrderSpec, _ float64) bool {
		attempts++
		px, err := strconv.ParseFloat(spec.Price, 64)
		require.NoError(t, err)
		prices = append(prices, px)
		return attempts == 3
	})

	res, err := exec.ExecuteFOK(context.Background(), "BTCUSDT", exchange.Buy, 1, 100)
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.Equal(t, 3, provider.BatchCalls)
	require.Len(t, prices, 3)
	for i := 1; i < len(prices); i++ {
		assert.GreaterOrEqual(t, prices[i], prices[i-1], "buy retries only get more aggressive")
	}
}

func TestExecuteFOKExhaustsRetries(t *testing.T) {
	exec, provider := newFixture(t, testConfig())
	provider.SetFOKPolicy(func(exchange.OrderSpec, float64) bool { return false })

	res, err := exec.ExecuteFOK(context.Background(), "BTCUSDT", exchange.Buy, 1, 100)
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Zero(t, res.ExecutedQty)
	assert.Equal(t, DefaultConfig().MaxRetries, provider.BatchCalls)
}

func TestExecuteFOKRejectsZeroQuantity(t *testing.T) {
	exec, _ := newFixture(t, testConfig())
	_, err := exec.ExecuteFOK(context.Background(), "BTCUSDT", exchange.Buy, 0.0000001, 100)
	assert.Error(t, err)
}

func TestSplitQuantityLastAbsorbsRemainder(t *testing.T) {
	inst := testInstrument()
	slices := SplitQuantity(1.0, 3, inst)
	require.Len(t, slices, 3)
	assert.InDelta(t, 0.333, slices[0], 1e-9)
	assert.InDelta(t, 0.333, slices[1], 1e-9)
	assert.InDelta(t, 0.334, slices[2], 1e-9)

	total := 0.0
	for _, s := range slices {
		total += s
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestExecuteSplitFOKAllSlicesFill(t *testing.T) {
	exec, _ := newFixture(t, testConfig())

	res, err := exec.ExecuteSplitFOK(context.Background(), "BTCUSDT", exchange.Buy, 3, 100)
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.InDelta(t, 3, res.ExecutedQty, 1e-9)
	assert.Len(t, res.Orders, 3)
	assert.InDelta(t, 100.01, res.AvgPrice, 0.02, "VWAP stays near the limit price")
}

func TestExecuteSplitFOKMarketFallback(t *testing.T) {
	exec, provider := newFixture(t, testConfig())
	provider.SetFOKPolicy(func(exchange.OrderSpec, float64) bool { return false })

	res, err := exec.ExecuteSplitFOK(context.Background(), "BTCUSDT", exchange.Buy, 3, 100)
	require.NoError(t, err)
	assert.True(t, res.Filled, "market fallback must complete the intent")
	assert.InDelta(t, 3, res.ExecutedQty, 1e-9)
	require.NotEmpty(t, res.Orders)
	last := res.Orders[len(res.Orders)-1]
	assert.Equal(t, exchange.Market, last.Type)
}

func TestExecuteSplitFOKNoFallback(t *testing.T) {
	cfg := testConfig()
	cfg.MarketFallback = false
	exec, provider := newFixture(t, cfg)
	provider.SetFOKPolicy(func(exchange.OrderSpec, float64) bool { return false })

	res, err := exec.ExecuteSplitFOK(context.Background(), "BTCUSDT", exchange.Buy, 3, 100)
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Zero(t, res.ExecutedQty)
}
