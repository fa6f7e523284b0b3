// Package sim provides a paper-trading exchange used by engine tests. It
// keeps positions, balances and resting orders in memory, fills market and
// FOK orders synchronously, and emits fill events on a channel so the
// reconciliation path can be exercised without a live venue.
package sim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
)

const defaultBalance = 100000.0

// FOKPolicy decides whether a FOK order fills. The default fills everything.
type FOKPolicy func(spec exchange.OrderSpec, markPrice float64) bool

// Provider is an in-memory exchange.Provider implementation.
type Provider struct {
	mu sync.Mutex

	instruments map[string]precision.Instrument
	markPx      map[string]float64
	leverage    map[string]int

	nextOrderID int64
	nextExecID  int64
	resting     map[int64]*exchange.Order
	positions   map[string]*positionState

	balance   float64
	fokPolicy FOKPolicy

	fills chan exchange.FillEvent

	// Call counters for assertions.
	BatchCalls     int
	CancelAllCalls int
	CancelCalls    int
}

type positionState struct {
	Qty   float64 // positive long, negative short
	Entry float64
}

// New constructs a simulator with the default balance.
func New() *Provider {
	return &Provider{
		instruments: make(map[string]precision.Instrument),
		markPx:      make(map[string]float64),
		leverage:    make(map[string]int),
		nextOrderID: 1,
		nextExecID:  1,
		resting:     make(map[int64]*exchange.Order),
		positions:   make(map[string]*positionState),
		balance:     defaultBalance,
		fills:       make(chan exchange.FillEvent, 256),
	}
}

func canonical(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// AddInstrument registers instrument metadata served by GetInstruments.
func (p *Provider) AddInstrument(inst precision.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments[canonical(inst.Symbol)] = inst
	if _, ok := p.markPx[canonical(inst.Symbol)]; !ok {
		p.markPx[canonical(inst.Symbol)] = 100
	}
}

// SetMarkPrice updates the reference price for a symbol.
func (p *Provider) SetMarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markPx[canonical(symbol)] = price
}

// SetBalance overrides the available balance.
func (p *Provider) SetBalance(balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = balance
}

// SetFOKPolicy overrides the fill decision for FOK orders.
func (p *Provider) SetFOKPolicy(policy FOKPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fokPolicy = policy
}

// Fills exposes the emitted fill events.
func (p *Provider) Fills() <-chan exchange.FillEvent { return p.fills }

// Position returns the current simulated position for assertions.
func (p *Provider) Position(symbol string) (qty, entry float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st := p.positions[canonical(symbol)]; st != nil {
		return st.Qty, st.Entry
	}
	return 0, 0
}

// GetInstruments implements exchange.Provider.
func (p *Provider) GetInstruments(ctx context.Context) ([]precision.Instrument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]precision.Instrument, 0, len(p.instruments))
	for _, inst := range p.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetMarkPrice implements exchange.Provider.
func (p *Provider) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.markPx[canonical(symbol)]
	if !ok {
		return 0, fmt.Errorf("sim: no mark price for %s", symbol)
	}
	return price, nil
}

// GetAvailableBalance implements exchange.Provider.
func (p *Provider) GetAvailableBalance(ctx context.Context, asset string) (*exchange.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &exchange.Balance{Asset: asset, Balance: p.balance, AvailableBalance: p.balance}, nil
}

// SetLeverage implements exchange.Provider.
func (p *Provider) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("sim: invalid leverage %d", leverage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[canonical(symbol)] = leverage
	return nil
}

// GetPosition implements exchange.Provider.
func (p *Provider) GetPosition(ctx context.Context, symbol string) (*exchange.PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := canonical(symbol)
	snap := &exchange.PositionSnapshot{Symbol: key, MarkPrice: p.markPx[key], Leverage: p.leverage[key]}
	if st := p.positions[key]; st != nil {
		snap.PositionAmt = st.Qty
		snap.EntryPrice = st.Entry
		snap.UnrealizedPnl = st.Qty * (snap.MarkPrice - st.Entry)
		if snap.Leverage > 0 {
			snap.Margin = math.Abs(st.Qty) * snap.MarkPrice / float64(snap.Leverage)
		} else {
			snap.Margin = math.Abs(st.Qty) * snap.MarkPrice
		}
	}
	return snap, nil
}

// PlaceBatchOrders implements exchange.Provider. Market orders fill at the
// mark price, FOK limits fill entirely or expire per the configured policy,
// and all other orders rest in the book until cancelled or triggered.
func (p *Provider) PlaceBatchOrders(ctx context.Context, orders []exchange.OrderSpec) ([]exchange.Order, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("sim: empty order batch")
	}
	if len(orders) > exchange.BatchLimit {
		return nil, fmt.Errorf("sim: batch of %d exceeds limit %d", len(orders), exchange.BatchLimit)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.BatchCalls++

	acks := make([]exchange.Order, 0, len(orders))
	for _, spec := range orders {
		ack, err := p.placeLocked(spec)
		if err != nil {
			return acks, err
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

func (p *Provider) placeLocked(spec exchange.OrderSpec) (exchange.Order, error) {
	key := canonical(spec.Symbol)
	mark := p.markPx[key]

	order := exchange.Order{
		Symbol:        key,
		OrderID:       p.nextOrderID,
		ClientOrderID: spec.ClientOrderID,
		Side:          spec.Side,
		Type:          spec.Type,
		Status:        exchange.StatusNew,
		Price:         parseDecimal(spec.Price),
		OrigQty:       parseDecimal(spec.Quantity),
		ReduceOnly:    spec.ReduceOnly || spec.ClosePosition,
	}
	p.nextOrderID++

	switch spec.Type {
	case exchange.Market:
		if mark <= 0 {
			return order, fmt.Errorf("sim: no mark price for %s", key)
		}
		p.fillLocked(&order, mark)
	case exchange.Limit:
		if spec.TimeInForce == exchange.FOK {
			allowed := true
			if p.fokPolicy != nil {
				allowed = p.fokPolicy(spec, mark)
			}
			if allowed {
				p.fillLocked(&order, order.Price)
			} else {
				order.Status = exchange.StatusExpired
			}
		} else {
			cp := order
			p.resting[order.OrderID] = &cp
		}
	default:
		// Stop and take-profit orders rest until triggered by tests.
		cp := order
		p.resting[order.OrderID] = &cp
	}
	return order, nil
}

// TriggerResting fills a resting order at its own price and removes it from
// the book. Used by tests to emulate exchange-side triggers.
func (p *Provider) TriggerResting(orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.resting[orderID]
	if !ok {
		return fmt.Errorf("sim: order %d not resting", orderID)
	}
	delete(p.resting, orderID)
	price := order.Price
	if price <= 0 {
		price = p.markPx[order.Symbol]
	}
	p.fillLocked(order, price)
	return nil
}

func (p *Provider) fillLocked(order *exchange.Order, price float64) {
	qty := order.OrigQty
	realized := p.applyPositionLocked(order.Symbol, price, qty, order.Side == exchange.Buy, order.ReduceOnly)
	p.balance += realized

	order.Status = exchange.StatusFilled
	order.ExecutedQty = qty
	order.AvgPrice = price

	ev := exchange.FillEvent{
		EventType:       "ORDER_TRADE_UPDATE",
		Symbol:          order.Symbol,
		OrderID:         order.OrderID,
		ClientOrderID:   order.ClientOrderID,
		ExecutionID:     p.nextExecID,
		Side:            order.Side,
		OrderType:       order.Type,
		Status:          exchange.StatusFilled,
		Price:           order.Price,
		Quantity:        qty,
		LastFilledQty:   qty,
		CumFilledQty:    qty,
		LastFilledPrice: price,
		RealizedPnl:     realized,
	}
	p.nextExecID++
	select {
	case p.fills <- ev:
	default:
	}
}

func (p *Provider) applyPositionLocked(symbol string, price, size float64, isBuy, reduceOnly bool) float64 {
	st := p.positions[symbol]
	if st == nil {
		if reduceOnly {
			return 0
		}
		st = &positionState{}
		p.positions[symbol] = st
	}

	delta := size
	if !isBuy {
		delta = -size
	}
	if reduceOnly {
		if st.Qty*delta >= 0 {
			return 0
		}
		if math.Abs(delta) > math.Abs(st.Qty) {
			delta = -st.Qty
		}
	}

	oldQty := st.Qty
	newQty := oldQty + delta

	realized := 0.0
	if oldQty != 0 && oldQty*delta < 0 {
		closeQty := math.Min(math.Abs(oldQty), math.Abs(delta))
		dir := 1.0
		if oldQty < 0 {
			dir = -1.0
		}
		realized = closeQty * (price - st.Entry) * dir
	}

	switch {
	case oldQty == 0:
		st.Entry = price
	case oldQty*delta > 0:
		st.Entry = ((oldQty * st.Entry) + (delta * price)) / newQty
	case oldQty*newQty < 0:
		st.Entry = price
	}

	st.Qty = newQty
	if math.Abs(st.Qty) < 1e-10 {
		delete(p.positions, symbol)
	}
	return realized
}

// CancelOrder implements exchange.Provider.
func (p *Provider) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CancelCalls++
	if _, ok := p.resting[orderID]; !ok {
		return fmt.Errorf("sim: order %d not found", orderID)
	}
	delete(p.resting, orderID)
	return nil
}

// CancelAllOpenOrders implements exchange.Provider.
func (p *Provider) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CancelAllCalls++
	key := canonical(symbol)
	for id, order := range p.resting {
		if order.Symbol == key {
			delete(p.resting, id)
		}
	}
	return nil
}

// GetOrder implements exchange.Provider.
func (p *Provider) GetOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if order, ok := p.resting[orderID]; ok {
		cp := *order
		return &cp, nil
	}
	return nil, fmt.Errorf("sim: order %d not found", orderID)
}

// GetOpenOrders implements exchange.Provider.
func (p *Provider) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := canonical(symbol)
	out := make([]exchange.Order, 0, len(p.resting))
	for _, order := range p.resting {
		if order.Symbol == key {
			out = append(out, *order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
