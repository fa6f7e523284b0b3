// Package precision holds per-instrument tick size and decimal constraints.
// The registry is populated once at startup from exchange metadata and is
// read-only afterwards, so concurrent reads need no synchronisation.
package precision

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Instrument describes the exchange-side constraints for one trading symbol.
// Every price and quantity sent to the exchange must be rounded to these
// constraints before submission.
type Instrument struct {
	Symbol            string
	TickSize          float64
	PricePrecision    int
	QuantityPrecision int
	MinNotional       float64
}

// Registry resolves instruments by symbol. Construct with NewRegistry and do
// not mutate afterwards.
type Registry struct {
	instruments map[string]Instrument
}

// NewRegistry builds a registry from the provided instrument list.
func NewRegistry(instruments []Instrument) (*Registry, error) {
	m := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		key := canonical(inst.Symbol)
		if key == "" {
			return nil, fmt.Errorf("precision: instrument with empty symbol")
		}
		if inst.TickSize <= 0 {
			return nil, fmt.Errorf("precision: instrument %s has non-positive tick size", inst.Symbol)
		}
		if inst.PricePrecision < 0 || inst.QuantityPrecision < 0 {
			return nil, fmt.Errorf("precision: instrument %s has negative precision", inst.Symbol)
		}
		m[key] = inst
	}
	return &Registry{instruments: m}, nil
}

// Lookup returns the instrument for symbol.
func (r *Registry) Lookup(symbol string) (Instrument, bool) {
	if r == nil {
		return Instrument{}, false
	}
	inst, ok := r.instruments[canonical(symbol)]
	return inst, ok
}

// Symbols returns the set of known symbols.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.instruments))
	for s := range r.instruments {
		out = append(out, s)
	}
	return out
}

// RoundPrice snaps a price to the instrument tick size and rounds the result
// to the price precision.
func (i Instrument) RoundPrice(price float64) float64 {
	if i.TickSize > 0 {
		price = math.Round(price/i.TickSize) * i.TickSize
	}
	return roundTo(price, i.PricePrecision)
}

// RoundQuantity floors a quantity to the instrument quantity precision.
// Flooring is deliberate: rounding up could exceed the available margin.
func (i Instrument) RoundQuantity(qty float64) float64 {
	pow := math.Pow10(i.QuantityPrecision)
	return math.Floor(qty*pow) / pow
}

// FormatPrice renders a rounded price as a fixed-point string for the wire.
func (i Instrument) FormatPrice(price float64) string {
	return strconv.FormatFloat(i.RoundPrice(price), 'f', i.PricePrecision, 64)
}

// FormatQuantity renders a floored quantity as a fixed-point string.
func (i Instrument) FormatQuantity(qty float64) string {
	return strconv.FormatFloat(i.RoundQuantity(qty), 'f', i.QuantityPrecision, 64)
}

// MeetsMinNotional reports whether qty at price clears the minimum order value.
func (i Instrument) MeetsMinNotional(price, qty float64) bool {
	if i.MinNotional <= 0 {
		return qty > 0
	}
	return price*qty >= i.MinNotional
}

func roundTo(v float64, digits int) float64 {
	pow := math.Pow10(digits)
	return math.Round(v*pow) / pow
}

func canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
