// Package trading defines the domain records shared by the engine packages
// and the persistence layer: strategies, grid slots, ledger rows and balance
// snapshots.
package trading

import (
	"time"

	"gridwire-api/pkg/exchange"
)

// StrategyStatus is the lifecycle state of a strategy.
type StrategyStatus string

const (
	StatusActive   StrategyStatus = "ACTIVE"
	StatusInactive StrategyStatus = "INACTIVE"
)

// StrategyStyle selects the execution engine for a strategy.
type StrategyStyle string

const (
	StyleSwing StrategyStyle = "swing"
	StyleGrid  StrategyStyle = "grid"
)

// Strategy owns one open logical position lifecycle at a time per symbol.
// LeverageRate and ShortLeverageRate scale intended order size relative to
// available balance; they decay toward zero on risk events and recover
// toward 1.0 over time, never exceeding 1.0.
type Strategy struct {
	ID                int64
	Name              string
	Symbol            string
	Style             StrategyStyle
	CredentialsRef    string
	Passphrase        string
	Leverage          int
	LeverageRate      float64
	ShortLeverageRate float64
	ReduceRate        float64
	RecoverRate       float64
	HoldRate          float64
	ShortHoldRate     float64
	HoldReduceRate    float64
	Status            StrategyStatus
	TradeGroupID      string

	// Grid parameters, meaningful only for StyleGrid.
	GridCount     int
	LowerBound    float64
	UpperBound    float64
	PriceStepRate float64
}

// LeverageRateFor returns the direction-appropriate sizing rate.
func (s *Strategy) LeverageRateFor(short bool) float64 {
	if short {
		return s.ShortLeverageRate
	}
	return s.LeverageRate
}

// GridSlot is one rung of a strategy's price ladder. A strategy owns
// GridCount+1 slots spanning its price band; exactly one slot is the current
// index and is never an order target.
type GridSlot struct {
	ID           int64
	StrategyID   int64
	GridIndex    int
	EntryPrice   float64
	ExitPrice    float64
	Quantity     float64
	IsOpen       bool
	TradeGroupID string
}

// BalanceSnapshot is the per-strategy account view maintained by risk
// snapshots, realized PnL application and fill reconciliation. Quantity and
// price fields keep at least 8 decimal digits to avoid truncation drift.
type BalanceSnapshot struct {
	StrategyID      int64
	Balance         float64
	Equity          float64
	AvailableMargin float64
	UsedMargin      float64
	UnrealizedPnl   float64
	PositionValue   float64
	PositionAmount  float64
	ProfitLoss      float64
}

// TradeType tags ledger rows by intent.
type TradeType string

const (
	TradeEntry       TradeType = "ENTRY"
	TradeExit        TradeType = "EXIT"
	TradeStopLoss    TradeType = "STOP_LOSS"
	TradeTakeProfit  TradeType = "TAKE_PROFIT"
	TradeGridFill    TradeType = "GRID_FILL"
	TradeRiskControl TradeType = "RISK_CONTROL"
)

// Trade is one append-only ledger row. TradeGroupID links all legs of one
// logical execution and is generated once per execution attempt.
type Trade struct {
	ID            int64
	OrderID       int64
	StrategyID    int64
	Symbol        string
	Side          exchange.Side
	Type          TradeType
	Quantity      float64
	Price         float64
	ProfitLoss    float64
	TradeGroupID  string
	CorrelationID string
	CreatedAt     time.Time
}

// ExecutionType distinguishes partial from final fills.
type ExecutionType string

const (
	ExecPartial ExecutionType = "PARTIAL"
	ExecFull    ExecutionType = "FULL"
)

// OrderExecution is the raw fill record, one row per exchange fill event.
// ExecutionID is unique so reconciliation stays idempotent under
// at-least-once delivery.
type OrderExecution struct {
	ID            int64
	ExecutionID   int64
	Type          ExecutionType
	OrderID       int64
	ClientOrderID string
	StrategyID    int64
	Symbol        string
	Side          exchange.Side
	Price         float64
	Quantity      float64
	Commission    float64
	RealizedPnl   float64
	ExecutedAt    time.Time
}
