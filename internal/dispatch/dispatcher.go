// Package dispatch routes sequenced signals to the engine matching the
// owning strategy's style and records the outcome.
package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/internal/repo"
	"gridwire-api/pkg/grid"
	"gridwire-api/pkg/journal"
	"gridwire-api/pkg/notify"
	"gridwire-api/pkg/signal"
	"gridwire-api/pkg/swing"
	"gridwire-api/pkg/trading"
)

// Dispatcher implements the sequencer handler. Each signal runs to
// completion before the next one on the same lane is taken.
type Dispatcher struct {
	grid       *grid.Engine
	swing      *swing.Engine
	strategies repo.StrategiesRepo
	journal    *journal.Writer
	notifier   *notify.Client
	logger     logx.Logger
}

// New constructs a dispatcher. The journal writer and notifier may be nil.
func New(gridEngine *grid.Engine, swingEngine *swing.Engine, strategies repo.StrategiesRepo, jw *journal.Writer, notifier *notify.Client) *Dispatcher {
	return &Dispatcher{
		grid:       gridEngine,
		swing:      swingEngine,
		strategies: strategies,
		journal:    jw,
		notifier:   notifier,
		logger:     logx.WithContext(context.Background()),
	}
}

// Handle executes one sequenced signal.
func (d *Dispatcher) Handle(ctx context.Context, env *signal.Envelope) error {
	strat := env.Strategy
	rec := &journal.SignalRecord{
		Timestamp:     env.ReceivedAt,
		CorrelationID: env.CorrelationID,
		StrategyID:    strat.ID,
		Symbol:        env.Signal.Symbol(),
	}

	var err error
	switch sig := env.Signal.(type) {
	case *signal.EntrySignal:
		rec.SignalType = "entry"
		rec.Side = string(sig.Side)
		rec.Entry = sig.Entry
		err = d.handleEntry(ctx, strat, sig, rec)
	case *signal.ExitSignal:
		rec.SignalType = "exit"
		err = d.handleExit(ctx, strat, sig.Deactivate, rec)
	case *signal.CloseAllSignal:
		rec.SignalType = "close_all"
		err = d.handleExit(ctx, strat, true, rec)
	case *signal.GridEntrySignal:
		rec.SignalType = "grid_entry"
		rec.Entry = sig.Entry
		err = d.handleGridEntry(ctx, strat, sig)
	case *signal.GridExitSignal:
		rec.SignalType = "grid_exit"
		err = d.handleGridExit(ctx, strat)
	default:
		err = fmt.Errorf("dispatch: unhandled signal type %T", env.Signal)
	}

	rec.Success = err == nil
	if err != nil {
		rec.ErrorMessage = err.Error()
	}
	d.writeJournal(rec)
	return err
}

func (d *Dispatcher) handleEntry(ctx context.Context, strat *trading.Strategy, sig *signal.EntrySignal, rec *journal.SignalRecord) error {
	if strat.Style == trading.StyleGrid {
		// An entry on a grid strategy re-centers the ladder at the
		// signalled price.
		return d.handleGridEntry(ctx, strat, &signal.GridEntrySignal{Ticker: sig.Ticker, Entry: sig.Entry})
	}

	if err := d.stampTradeGroup(ctx, strat); err != nil {
		return err
	}
	bracket, err := d.swing.Open(ctx, strat, sig)
	if err != nil {
		return err
	}
	rec.Quantity = bracket.Quantity
	for _, batch := range bracket.Batches {
		for _, spec := range batch {
			rec.Orders = append(rec.Orders, journal.OrderRecord{
				Type:  string(spec.Type),
				Side:  string(spec.Side),
				Price: parseWirePrice(spec.Price),
			})
		}
	}
	d.notify(ctx, notify.Event{
		Symbol: strat.Symbol,
		Side:   string(sig.Side),
		Type:   "ENTRY",
		Msg:    fmt.Sprintf("opened %s bracket qty %v", strat.Symbol, bracket.Quantity),
		Entry:  bracket.EntryPrice,
	})
	return nil
}

func (d *Dispatcher) handleExit(ctx context.Context, strat *trading.Strategy, deactivate bool, rec *journal.SignalRecord) error {
	result, err := d.swing.Close(ctx, strat)
	if err != nil {
		return err
	}
	rec.Quantity = result.ExecutedQty
	if deactivate {
		if err := d.strategies.SetStatus(ctx, strat.ID, trading.StatusInactive); err != nil {
			return err
		}
		strat.Status = trading.StatusInactive
	}
	d.notify(ctx, notify.Event{
		Symbol: strat.Symbol,
		Type:   "EXIT",
		Msg:    fmt.Sprintf("closed %s qty %v avg %v", strat.Symbol, result.ExecutedQty, result.AvgPrice),
	})
	return nil
}

func (d *Dispatcher) handleGridEntry(ctx context.Context, strat *trading.Strategy, sig *signal.GridEntrySignal) error {
	if err := d.stampTradeGroup(ctx, strat); err != nil {
		return err
	}
	if err := d.grid.Establish(ctx, strat, sig.Entry); err != nil {
		return err
	}
	d.notify(ctx, notify.Event{
		Symbol: strat.Symbol,
		Type:   "GRID_ENTRY",
		Msg:    fmt.Sprintf("grid established on %s around %v", strat.Symbol, sig.Entry),
		Entry:  sig.Entry,
	})
	return nil
}

func (d *Dispatcher) handleGridExit(ctx context.Context, strat *trading.Strategy) error {
	if err := d.grid.Teardown(ctx, strat); err != nil {
		return err
	}
	if err := d.strategies.SetStatus(ctx, strat.ID, trading.StatusInactive); err != nil {
		return err
	}
	strat.Status = trading.StatusInactive
	d.notify(ctx, notify.Event{
		Symbol: strat.Symbol,
		Type:   "GRID_EXIT",
		Msg:    fmt.Sprintf("grid torn down on %s", strat.Symbol),
	})
	return nil
}

// stampTradeGroup assigns a fresh group id before any orders go out, so all
// legs of the execution share it even if a later step fails.
func (d *Dispatcher) stampTradeGroup(ctx context.Context, strat *trading.Strategy) error {
	groupID := uuid.NewString()
	if err := d.strategies.SetTradeGroup(ctx, strat.ID, groupID); err != nil {
		return fmt.Errorf("dispatch: stamp trade group: %w", err)
	}
	strat.TradeGroupID = groupID
	return nil
}

func (d *Dispatcher) writeJournal(rec *journal.SignalRecord) {
	if d.journal == nil {
		return
	}
	if _, err := d.journal.WriteSignal(rec); err != nil {
		d.logger.Errorf("dispatch: journal write: %v", err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, ev notify.Event) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(ctx, ev)
}

func parseWirePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
