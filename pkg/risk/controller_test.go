package risk

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/trading"
)

type memStore struct {
	mu     sync.Mutex
	trades []trading.Trade
	long   float64
	short  float64
}

func (m *memStore) InsertTrade(_ context.Context, trade *trading.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, *trade)
	return nil
}

func (m *memStore) UpdateLeverageRates(_ context.Context, _ int64, long, short float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.long, m.short = long, short
	return nil
}

func riskStrategy() *trading.Strategy {
	return &trading.Strategy{
		ID:                9,
		Symbol:            "BTCUSDT",
		Style:             trading.StyleSwing,
		LeverageRate:      1.0,
		ShortLeverageRate: 1.0,
		ReduceRate:        0.8,
		RecoverRate:       0.1,
		HoldRate:          0.30,
		ShortHoldRate:     0.30,
		HoldReduceRate:    0.5,
		Status:            trading.StatusActive,
	}
}

func TestEvaluateShortOverLimit(t *testing.T) {
	strat := riskStrategy()
	pos := &exchange.PositionSnapshot{
		Symbol:      "BTCUSDT",
		PositionAmt: -5,
		MarkPrice:   100,
		Margin:      32,
	}
	bal := &exchange.Balance{Balance: 100, AvailableBalance: 90}

	p := Evaluate(strat, pos, bal)
	require.NotNil(t, p, "hold ratio 0.32 exceeds limit 0.30")
	assert.Equal(t, exchange.Buy, p.Side)
	assert.InDelta(t, 2.5, p.Quantity, 1e-9)
	assert.True(t, p.Short)
	assert.InDelta(t, 0.32, p.HoldRatio, 1e-9)
}

func TestEvaluateWithinLimit(t *testing.T) {
	strat := riskStrategy()
	pos := &exchange.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: 5, Margin: 29}
	bal := &exchange.Balance{Balance: 100, AvailableBalance: 100}

	assert.Nil(t, Evaluate(strat, pos, bal))
}

func TestEvaluateFlatOrBroke(t *testing.T) {
	strat := riskStrategy()
	assert.Nil(t, Evaluate(strat, &exchange.PositionSnapshot{}, &exchange.Balance{Balance: 100}))
	assert.Nil(t, Evaluate(strat, &exchange.PositionSnapshot{PositionAmt: 5, Margin: 50}, &exchange.Balance{}))
}

func TestApplyDecaysDirectionRate(t *testing.T) {
	provider := newSimWithShortPosition(t)
	store := &memStore{}
	registry, err := precision.NewRegistry([]precision.Instrument{btcInstrument()})
	require.NoError(t, err)
	ctrl := NewController(provider, registry, store)
	strat := riskStrategy()

	p := &Proposal{
		Strategy: strat,
		Side:     exchange.Buy,
		Quantity: 2.5,
		Price:    100,
		Short:    true,
	}
	require.NoError(t, ctrl.Apply(context.Background(), p))

	require.Len(t, store.trades, 1)
	assert.Equal(t, trading.TradeRiskControl, store.trades[0].Type)
	assert.InDelta(t, 0.8, store.short, 1e-9, "short rate decays by reduceRate")
	assert.InDelta(t, 1.0, store.long, 1e-9, "long rate untouched")
	assert.InDelta(t, 0.8, strat.ShortLeverageRate, 1e-9)

	// Repeated events compound.
	p.Quantity = 1
	require.NoError(t, ctrl.Apply(context.Background(), p))
	assert.InDelta(t, 0.64, strat.ShortLeverageRate, 1e-9)
}

func TestRecoverRatesClampedAtOne(t *testing.T) {
	strat := riskStrategy()
	strat.LeverageRate = 0.5
	strat.ShortLeverageRate = 0.98

	long, short := RecoverRates(strat)
	assert.InDelta(t, 0.55, long, 1e-9)
	assert.InDelta(t, 1.0, short, 1e-9)

	strat.LeverageRate, strat.ShortLeverageRate = long, short
	for i := 0; i < 50; i++ {
		long, short = RecoverRates(strat)
		strat.LeverageRate, strat.ShortLeverageRate = long, short
	}
	assert.LessOrEqual(t, strat.LeverageRate, 1.0)
	assert.LessOrEqual(t, strat.ShortLeverageRate, 1.0)
	assert.InDelta(t, 1.0, strat.LeverageRate, 1e-9, "rates converge to full sizing")
}

func TestRecoverSkipsInactiveStrategy(t *testing.T) {
	provider := newSimWithShortPosition(t)
	store := &memStore{long: -1, short: -1}
	registry, err := precision.NewRegistry([]precision.Instrument{btcInstrument()})
	require.NoError(t, err)
	ctrl := NewController(provider, registry, store)

	strat := riskStrategy()
	strat.Status = trading.StatusInactive
	strat.LeverageRate = 0.5
	strat.ShortLeverageRate = 0.5

	require.NoError(t, ctrl.Recover(context.Background(), strat))

	assert.InDelta(t, 0.5, strat.LeverageRate, 1e-9, "reduced rates persist while deactivated")
	assert.InDelta(t, 0.5, strat.ShortLeverageRate, 1e-9)
	assert.InDelta(t, -1, store.long, 1e-9, "no rate write happened")

	strat.Status = trading.StatusActive
	require.NoError(t, ctrl.Recover(context.Background(), strat))
	assert.InDelta(t, 0.55, strat.LeverageRate, 1e-9)
}

func TestCheckFiresOnOverCommit(t *testing.T) {
	provider := newSimWithShortPosition(t)
	store := &memStore{}
	registry, err := precision.NewRegistry([]precision.Instrument{btcInstrument()})
	require.NoError(t, err)
	ctrl := NewController(provider, registry, store)
	strat := riskStrategy()
	// The sim reports initial margin = notional / leverage; with a 5 BTC
	// short at 100 and the default leverage the commitment is well over 30%
	// of the configured balance.
	fired, err := ctrl.Check(context.Background(), strat)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Len(t, store.trades, 1)

	qty, _ := provider.Position("BTCUSDT")
	assert.InDelta(t, -2.5, qty, 1e-9, "half the short was bought back")
}
