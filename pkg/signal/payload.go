// Package signal ingests webhook trading signals: it validates the raw JSON
// payload once at the boundary, converts it into a typed signal variant, and
// sequences accepted signals through priority queues so close intents are
// never delayed behind new entries.
package signal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gridwire-api/pkg/exchange"
)

// FlexFloat accepts both JSON numbers and numeric strings. Webhook senders
// template these fields and are inconsistent about quoting.
type FlexFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("signal: invalid number %q", s)
	}
	*f = FlexFloat(v)
	return nil
}

// FlexInt accepts both JSON integers and numeric strings.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("signal: invalid integer %q", s)
	}
	*f = FlexInt(v)
	return nil
}

// SideParams carries the per-direction bracket parameters of a payload.
type SideParams struct {
	Times      FlexInt   `json:"times"`
	StopLoss   FlexFloat `json:"stopLoss"`
	TakeProfit FlexFloat `json:"takeProfit"`
}

// StrategyParams groups long and short bracket parameters.
type StrategyParams struct {
	Long  SideParams `json:"long"`
	Short SideParams `json:"short"`
}

// Payload is the raw webhook document. Authentication happens against
// Passphrase before any field is trusted.
type Payload struct {
	Passphrase   string         `json:"passphrase"`
	Ticker       string         `json:"ticker"`
	Order        string         `json:"order"` // "buy" or "sell"
	PositionSize FlexFloat      `json:"position_size"`
	Entry        FlexFloat      `json:"entry"`
	Message      string         `json:"message"` // embedded JSON, may be empty
	Strategy     StrategyParams `json:"strategy"`
}

// message is the embedded JSON document inside Payload.Message.
type message struct {
	Type     string    `json:"type"`
	Leverage FlexInt   `json:"lev"`
	StopLoss FlexFloat `json:"sl"`
}

// ParsePayload decodes and minimally validates the raw webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("signal: malformed payload: %w", err)
	}
	if strings.TrimSpace(p.Ticker) == "" {
		return nil, fmt.Errorf("signal: payload missing ticker")
	}
	return &p, nil
}

// Side maps the payload order field to an exchange side.
func (p *Payload) Side() exchange.Side {
	if strings.EqualFold(p.Order, "sell") {
		return exchange.Sell
	}
	return exchange.Buy
}

// ParseSignal converts the payload into its typed variant. Anything that
// does not match a known shape is rejected here, before it can enter the
// execution pipeline.
func (p *Payload) ParseSignal() (Signal, error) {
	var msg message
	if strings.TrimSpace(p.Message) != "" {
		if err := json.Unmarshal([]byte(p.Message), &msg); err != nil {
			return nil, fmt.Errorf("signal: malformed message field: %w", err)
		}
	}

	ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))
	switch msg.Type {
	case "close_all":
		return &CloseAllSignal{Ticker: ticker}, nil
	case "long_exit", "short_exit":
		return &ExitSignal{Ticker: ticker}, nil
	case "grid_exit":
		return &GridExitSignal{Ticker: ticker}, nil
	case "grid_entry":
		if p.Entry <= 0 {
			return nil, fmt.Errorf("signal: grid entry requires positive entry price")
		}
		return &GridEntrySignal{Ticker: ticker, Entry: float64(p.Entry)}, nil
	case "", "long_entry", "short_entry":
		// Position size zero means flatten, regardless of declared type.
		if p.PositionSize == 0 {
			return &ExitSignal{Ticker: ticker, Deactivate: true}, nil
		}
		if p.Entry <= 0 {
			return nil, fmt.Errorf("signal: entry requires positive entry price")
		}
		side := p.Side()
		params := p.Strategy.Long
		if side == exchange.Sell {
			params = p.Strategy.Short
		}
		entry := &EntrySignal{
			Ticker:        ticker,
			Side:          side,
			Entry:         float64(p.Entry),
			PositionSize:  float64(p.PositionSize),
			Leverage:      int(params.Times),
			StopLossPct:   float64(params.StopLoss),
			TakeProfitPct: float64(params.TakeProfit),
		}
		// Message fields override the declared bracket parameters.
		if msg.Leverage > 0 {
			entry.Leverage = int(msg.Leverage)
		}
		if msg.StopLoss > 0 {
			entry.StopLossOverride = float64(msg.StopLoss)
		}
		if entry.Leverage <= 0 {
			return nil, fmt.Errorf("signal: entry requires positive leverage")
		}
		return entry, nil
	default:
		return nil, fmt.Errorf("signal: unknown message type %q", msg.Type)
	}
}
