package signal

import "gridwire-api/pkg/exchange"

// Class partitions signals by dispatch priority. Close intents always take
// the high-priority lane.
type Class string

const (
	// ClassEntry opens or extends exposure. Low priority.
	ClassEntry Class = "entry"
	// ClassExit reduces or closes exposure. High priority.
	ClassExit Class = "exit"
)

// Signal is one validated webhook intent. The concrete type carries the
// variant-specific fields.
type Signal interface {
	Class() Class
	Symbol() string
}

// EntrySignal requests a leveraged swing entry with a full bracket.
type EntrySignal struct {
	Ticker        string
	Side          exchange.Side
	Entry         float64
	PositionSize  float64
	Leverage      int
	StopLossPct   float64
	TakeProfitPct float64
	// StopLossOverride is an absolute stop price from the message field.
	// Zero means derive the stop from StopLossPct.
	StopLossOverride float64
}

func (s *EntrySignal) Class() Class   { return ClassEntry }
func (s *EntrySignal) Symbol() string { return s.Ticker }

// ExitSignal requests closing the open position on the symbol. Deactivate
// additionally marks the strategy inactive, used when a sender reports a
// flat target size.
type ExitSignal struct {
	Ticker     string
	Deactivate bool
}

func (s *ExitSignal) Class() Class   { return ClassExit }
func (s *ExitSignal) Symbol() string { return s.Ticker }

// CloseAllSignal requests closing the position and cancelling every resting
// order on the symbol.
type CloseAllSignal struct {
	Ticker string
}

func (s *CloseAllSignal) Class() Class   { return ClassExit }
func (s *CloseAllSignal) Symbol() string { return s.Ticker }

// GridEntrySignal establishes or re-centers a grid around the given price.
type GridEntrySignal struct {
	Ticker string
	Entry  float64
}

func (s *GridEntrySignal) Class() Class   { return ClassEntry }
func (s *GridEntrySignal) Symbol() string { return s.Ticker }

/// GridExitSignal tears down the grid: cancels the ladder and closes the
// accumulated position.
type GridExitSignal struct {
	Ticker string
}

func (s *GridExitSignal) Class() Class   { return ClassExit }
func (s *GridExitSignal) Symbol() string { return s.Ticker }
