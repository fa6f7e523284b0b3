package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
)

// GetPosition returns the net position for symbol, or a flat snapshot when
// the exchange reports none.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*exchange.PositionSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnrealizedProfit string `json:"unRealizedProfit"`
		IsolatedMargin   string `json:"isolatedMargin"`
		InitialMargin    string `json:"initialMargin"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: parse position risk: %w", err)
	}
	for _, p := range raw {
		if p.Symbol != symbol {
			continue
		}
		margin := parseFloat(p.IsolatedMargin)
		if margin == 0 {
			margin = parseFloat(p.InitialMargin)
		}
		lev, _ := strconv.Atoi(p.Leverage)
		return &exchange.PositionSnapshot{
			Symbol:        p.Symbol,
			PositionAmt:   parseFloat(p.PositionAmt),
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnl: parseFloat(p.UnrealizedProfit),
			Margin:        margin,
			Leverage:      lev,
		}, nil
	}
	return &exchange.PositionSnapshot{Symbol: symbol}, nil
}

// GetMarkPrice returns the current mark price for symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false)
	if err != nil {
		return 0, err
	}
	var raw struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("binance: parse mark price: %w", err)
	}
	price := parseFloat(raw.MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("binance: non-positive mark price for %s", symbol)
	}
	return price, nil
}

// GetAvailableBalance returns the futures wallet balance for asset.
func (c *Client) GetAvailableBalance(ctx context.Context, asset string) (*exchange.Balance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: parse balances: %w", err)
	}
	for _, b := range raw {
		if b.Asset == asset {
			return &exchange.Balance{
				Asset:            b.Asset,
				Balance:          parseFloat(b.Balance),
				AvailableBalance: parseFloat(b.AvailableBalance),
			}, nil
		}
	}
	return nil, fmt.Errorf("binance: asset %s not found in balances", asset)
}

// SetLeverage sets the initial leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("binance: leverage must be at least 1, got %d", leverage)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, true)
	return err
}

// GetInstruments loads tick size and precision constraints for every trading
// symbol from exchangeInfo. Called once at startup to seed the registry.
func (c *Client) GetInstruments(ctx context.Context) ([]precision.Instrument, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			Status            string `json:"status"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: parse exchange info: %w", err)
	}

	out := make([]precision.Instrument, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		inst := precision.Instrument{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				inst.TickSize = parseFloat(f.TickSize)
			case "MIN_NOTIONAL":
				inst.MinNotional = parseFloat(f.Notional)
			}
		}
		if inst.TickSize <= 0 {
			inst.TickSize = math.Pow10(-inst.PricePrecision)
		}
		out = append(out, inst)
	}
	return out, nil
}
