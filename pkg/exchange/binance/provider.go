package binance

import (
	"net/http"

	"gridwire-api/pkg/exchange"
)

func init() {
	exchange.RegisterProvider("binance", func(name string, cfg *exchange.ProviderConfig) (exchange.Provider, error) {
		opts := []ClientOption{WithTestnet(cfg.Testnet)}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		if cfg.RequestsPerSecond > 0 {
			opts = append(opts, WithRateLimit(cfg.RequestsPerSecond))
		}
		return NewClient(cfg.APIKey, cfg.APISecret, opts...)
	})
}
