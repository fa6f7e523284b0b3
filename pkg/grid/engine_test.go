package grid

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/exchange/sim"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/symlock"
	"gridwire-api/pkg/trading"
)

type memSlotStore struct {
	mu     sync.Mutex
	slots  map[int64][]trading.GridSlot
	filled int
}

func newMemSlotStore() *memSlotStore {
	return &memSlotStore{slots: make(map[int64][]trading.GridSlot)}
}

func (m *memSlotStore) Replace(_ context.Context, strategyID int64, slots []trading.GridSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[strategyID] = append([]trading.GridSlot(nil), slots...)
	return nil
}

func (m *memSlotStore) MarkFilled(_ context.Context, strategyID int64, side exchange.Side, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filled++
	return nil
}

func newGridFixture(t *testing.T) (*Engine, *sim.Provider, *memSlotStore, *symlock.KeyedMutex) {
	t.Helper()
	provider := sim.New()
	provider.AddInstrument(testInstrument())
	provider.SetMarkPrice("BTCUSDT", 100)
	provider.SetBalance(10000)
	store := newMemSlotStore()
	locks := symlock.New()
	insts, err := provider.GetInstruments(context.Background())
	require.NoError(t, err)
	registry, err := precision.NewRegistry(insts)
	require.NoError(t, err)
	engine := NewEngine(provider, registry, store, locks)
	return engine, provider, store, locks
}

func TestEstablishRestsFullLadder(t *testing.T) {
	engine, provider, store, _ := newGridFixture(t)
	strat := gridStrategy()

	require.NoError(t, engine.Establish(context.Background(), strat, 100))

	open, err := provider.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, strat.GridCount)
	assert.Len(t, store.slots[strat.ID], strat.GridCount+1)
}

func TestEstablishDerivesBandFromReference(t *testing.T) {
	engine, provider, _, _ := newGridFixture(t)
	strat := gridStrategy()
	strat.LowerBound, strat.UpperBound = 0, 0

	require.NoError(t, engine.Establish(context.Background(), strat, 100))

	open, err := provider.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, strat.GridCount)
}

func TestOnFillKeepsRestingCount(t *testing.T) {
	engine, provider, store, _ := newGridFixture(t)
	strat := gridStrategy()
	ctx := context.Background()
	require.NoError(t, engine.Establish(ctx, strat, 100))

	open, err := provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	var nearestBuy *exchange.Order
	for i := range open {
		o := &open[i]
		if o.Side != exchange.Buy {
			continue
		}
		if nearestBuy == nil || o.Price > nearestBuy.Price {
			nearestBuy = o
		}
	}
	require.NotNil(t, nearestBuy)
	require.NoError(t, provider.TriggerResting(nearestBuy.OrderID))
	fill := <-provider.Fills()

	require.NoError(t, engine.OnFill(ctx, strat, &fill))

	open, err = provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, strat.GridCount, "incremental reset must restore the resting count")
	assert.Equal(t, 1, store.filled)
}

func TestTeardownFlattens(t *testing.T) {
	engine, provider, _, _ := newGridFixture(t)
	strat := gridStrategy()
	ctx := context.Background()
	require.NoError(t, engine.Establish(ctx, strat, 100))

	// Fill one buy rung so a position exists.
	open, err := provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	for i := range open {
		if open[i].Side == exchange.Buy {
			require.NoError(t, provider.TriggerResting(open[i].OrderID))
			break
		}
	}
	<-provider.Fills()
	qty, _ := provider.Position("BTCUSDT")
	require.NotZero(t, qty)

	require.NoError(t, engine.Teardown(ctx, strat))

	open, err = provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
	qty, _ = provider.Position("BTCUSDT")
	assert.Zero(t, qty)
}

func TestWatchdogHealsDeviation(t *testing.T) {
	engine, provider, _, _ := newGridFixture(t)
	strat := gridStrategy()
	ctx := context.Background()
	require.NoError(t, engine.Establish(ctx, strat, 100))

	open, err := provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, provider.CancelOrder(ctx, "BTCUSDT", open[0].OrderID))

	wd := NewWatchdog(engine, 0)
	require.NoError(t, wd.Check(ctx, strat))

	open, err = provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, strat.GridCount)
}

func TestWatchdogSkipsBusySymbol(t *testing.T) {
	engine, provider, _, locks := newGridFixture(t)
	strat := gridStrategy()
	ctx := context.Background()
	require.NoError(t, engine.Establish(ctx, strat, 100))

	open, err := provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, provider.CancelOrder(ctx, "BTCUSDT", open[0].OrderID))

	locks.Lock("BTCUSDT")
	defer locks.Unlock("BTCUSDT")

	wd := NewWatchdog(engine, 0)
	require.NoError(t, wd.Check(ctx, strat))

	open, err = provider.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, strat.GridCount-1, "busy symbol must be left alone")
}
