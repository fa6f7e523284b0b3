package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/trading"
)

type memLedger struct {
	mu         sync.Mutex
	executions map[int64]trading.OrderExecution
	trades     []trading.Trade
	balance    float64
	execErr    error
}

func newMemLedger() *memLedger {
	return &memLedger{executions: make(map[int64]trading.OrderExecution)}
}

func (m *memLedger) InsertExecution(_ context.Context, exec *trading.OrderExecution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.execErr != nil {
		return false, m.execErr
	}
	if _, dup := m.executions[exec.ExecutionID]; dup {
		return false, nil
	}
	m.executions[exec.ExecutionID] = *exec
	return true, nil
}

func (m *memLedger) InsertTrade(_ context.Context, trade *trading.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, *trade)
	return nil
}

func (m *memLedger) ApplyBalanceDelta(_ context.Context, _ int64, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance += delta
	return nil
}

type staticResolver struct{ strat *trading.Strategy }

func (r *staticResolver) BySymbol(context.Context, string) (*trading.Strategy, error) {
	return r.strat, nil
}

type countingGrid struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *countingGrid) OnFill(context.Context, *trading.Strategy, *exchange.FillEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.err
}

type countingRisk struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRisk) Check(context.Context, *trading.Strategy) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return false, nil
}

func gridFill() *exchange.FillEvent {
	return &exchange.FillEvent{
		EventType:       "ORDER_TRADE_UPDATE",
		Symbol:          "BTCUSDT",
		OrderID:         41,
		ExecutionID:     9001,
		Side:            exchange.Sell,
		OrderType:       exchange.Limit,
		Status:          exchange.StatusFilled,
		LastFilledQty:   0.5,
		CumFilledQty:    0.5,
		LastFilledPrice: 101,
		Commission:      0.02,
		RealizedPnl:     0.5,
		FillTime:        1724800000000,
	}
}

func gridStrat() *trading.Strategy {
	return &trading.Strategy{
		ID:     5,
		Symbol: "BTCUSDT",
		Style:  trading.StyleGrid,
		Status: trading.StatusActive,
	}
}

func TestProcessRecordsLedgerAndCascades(t *testing.T) {
	ledger := newMemLedger()
	gridEng := &countingGrid{}
	riskCtl := &countingRisk{}
	p := NewProcessor(ledger, &staticResolver{strat: gridStrat()}, gridEng, riskCtl)

	p.Process(context.Background(), gridFill())

	require.Len(t, ledger.executions, 1)
	row := ledger.executions[9001]
	assert.Equal(t, trading.ExecFull, row.Type)
	assert.InDelta(t, 0.5, row.Quantity, 1e-9)

	require.Len(t, ledger.trades, 1)
	assert.Equal(t, trading.TradeGridFill, ledger.trades[0].Type)
	assert.InDelta(t, 0.48, ledger.balance, 1e-9, "balance moves by realizedPnl - commission")
	assert.Equal(t, 1, gridEng.calls)
	assert.Equal(t, 1, riskCtl.calls)
}

func TestProcessDuplicateExecutionIsNoop(t *testing.T) {
	ledger := newMemLedger()
	gridEng := &countingGrid{}
	riskCtl := &countingRisk{}
	p := NewProcessor(ledger, &staticResolver{strat: gridStrat()}, gridEng, riskCtl)

	p.Process(context.Background(), gridFill())
	p.Process(context.Background(), gridFill())

	assert.Len(t, ledger.executions, 1)
	assert.Len(t, ledger.trades, 1)
	assert.InDelta(t, 0.48, ledger.balance, 1e-9)
	assert.Equal(t, 1, gridEng.calls, "duplicate delivery must not re-trigger the grid")
	assert.Equal(t, 1, riskCtl.calls)
}

func TestProcessGridFailureDoesNotBlockRisk(t *testing.T) {
	ledger := newMemLedger()
	gridEng := &countingGrid{err: assert.AnError}
	riskCtl := &countingRisk{}
	p := NewProcessor(ledger, &staticResolver{strat: gridStrat()}, gridEng, riskCtl)

	p.Process(context.Background(), gridFill())

	assert.Len(t, ledger.executions, 1, "ledger write committed before the grid failed")
	assert.Equal(t, 1, riskCtl.calls, "risk check still runs after a grid failure")
}

func TestProcessSkipsSwingGridReset(t *testing.T) {
	strat := gridStrat()
	strat.Style = trading.StyleSwing
	ledger := newMemLedger()
	gridEng := &countingGrid{}
	p := NewProcessor(ledger, &staticResolver{strat: strat}, gridEng, &countingRisk{})

	fill := gridFill()
	fill.OrderType = exchange.StopMarket
	p.Process(context.Background(), fill)

	assert.Zero(t, gridEng.calls)
	require.Len(t, ledger.trades, 1)
	assert.Equal(t, trading.TradeStopLoss, ledger.trades[0].Type)
}

func TestProcessIgnoresZeroQuantity(t *testing.T) {
	ledger := newMemLedger()
	p := NewProcessor(ledger, &staticResolver{strat: gridStrat()}, &countingGrid{}, &countingRisk{})

	fill := gridFill()
	fill.LastFilledQty = 0
	p.Process(context.Background(), fill)

	assert.Empty(t, ledger.executions)
}

func TestTradeTypeClassification(t *testing.T) {
	swing := &trading.Strategy{Style: trading.StyleSwing}

	assert.Equal(t, trading.TradeTakeProfit, tradeType(swing, &exchange.FillEvent{OrderType: exchange.TakeProfitMarket}))
	assert.Equal(t, trading.TradeStopLoss, tradeType(swing, &exchange.FillEvent{OrderType: exchange.StopMarket}))
	assert.Equal(t, trading.TradeExit, tradeType(swing, &exchange.FillEvent{OrderType: exchange.Market, RealizedPnl: 3}))
	assert.Equal(t, trading.TradeEntry, tradeType(swing, &exchange.FillEvent{OrderType: exchange.Market}))
	assert.Equal(t, trading.TradeGridFill, tradeType(&trading.Strategy{Style: trading.StyleGrid}, &exchange.FillEvent{OrderType: exchange.Limit}))
}
