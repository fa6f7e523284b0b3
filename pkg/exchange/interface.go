package exchange

import (
	"context"

	"gridwire-api/pkg/precision"
)

// BatchLimit is the maximum number of orders accepted by a single batch call.
const BatchLimit = 5

// Provider exposes trading capabilities in an exchange-agnostic fashion.
type Provider interface {
	// Order management. PlaceBatchOrders accepts at most BatchLimit specs.
	PlaceBatchOrders(ctx context.Context, orders []OrderSpec) ([]Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// Position and account information.
	GetPosition(ctx context.Context, symbol string) (*PositionSnapshot, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetAvailableBalance(ctx context.Context, asset string) (*Balance, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Instrument metadata for the precision registry.
	GetInstruments(ctx context.Context) ([]precision.Instrument, error)
}

// StreamProvider is implemented by providers that expose a private fill-event
// stream. ListenKey obtains a stream session key and KeepAliveListenKey
// extends it; the reconciliation listener owns the keepalive schedule.
type StreamProvider interface {
	ListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, key string) error
	StreamURL(key string) string
}
