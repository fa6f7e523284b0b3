package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/exchange/sim"
	"gridwire-api/pkg/precision"
)

func btcInstrument() precision.Instrument {
	return precision.Instrument{
		Symbol:            "BTCUSDT",
		TickSize:          0.01,
		PricePrecision:    2,
		QuantityPrecision: 3,
		MinNotional:       5,
	}
}

// newSimWithShortPosition seeds a simulator holding a 5 BTC short at 100.
func newSimWithShortPosition(t *testing.T) *sim.Provider {
	t.Helper()
	provider := sim.New()
	provider.AddInstrument(btcInstrument())
	provider.SetMarkPrice("BTCUSDT", 100)
	provider.SetBalance(1000)
	_, err := provider.PlaceBatchOrders(context.Background(), []exchange.OrderSpec{{
		Symbol:   "BTCUSDT",
		Side:     exchange.Sell,
		Type:     exchange.Market,
		Quantity: "5",
	}})
	require.NoError(t, err)
	return provider
}
