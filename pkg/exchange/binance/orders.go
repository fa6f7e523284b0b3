package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"gridwire-api/pkg/exchange"
)

// orderPayload is the JSON shape of one order inside a batchOrders call.
// Boolean flags travel as strings on this endpoint.
type orderPayload struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Type             string `json:"type"`
	Quantity         string `json:"quantity,omitempty"`
	Price            string `json:"price,omitempty"`
	StopPrice        string `json:"stopPrice,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	ReduceOnly       string `json:"reduceOnly,omitempty"`
	ClosePosition    string `json:"closePosition,omitempty"`
	PriceProtect     string `json:"priceProtect,omitempty"`
	WorkingType      string `json:"workingType,omitempty"`
	NewClientOrderID string `json:"newClientOrderId,omitempty"`
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`

	// Populated on per-order failures inside a batch response.
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func convertSpec(spec exchange.OrderSpec) orderPayload {
	p := orderPayload{
		Symbol:           spec.Symbol,
		Side:             string(spec.Side),
		Type:             string(spec.Type),
		Quantity:         spec.Quantity,
		Price:            spec.Price,
		StopPrice:        spec.StopPrice,
		TimeInForce:      string(spec.TimeInForce),
		WorkingType:      spec.WorkingType,
		NewClientOrderID: spec.ClientOrderID,
	}
	if spec.ReduceOnly {
		p.ReduceOnly = "true"
	}
	if spec.ClosePosition {
		p.ClosePosition = "true"
		p.Quantity = "0"
	}
	if spec.PriceProtect {
		p.PriceProtect = "true"
	}
	return p
}

func convertResponse(r orderResponse) exchange.Order {
	return exchange.Order{
		Symbol:        r.Symbol,
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Side:          exchange.Side(r.Side),
		Type:          exchange.OrderType(r.Type),
		Status:        exchange.OrderStatus(r.Status),
		Price:         parseFloat(r.Price),
		OrigQty:       parseFloat(r.OrigQty),
		ExecutedQty:   parseFloat(r.ExecutedQty),
		AvgPrice:      parseFloat(r.AvgPrice),
		ReduceOnly:    r.ReduceOnly,
		UpdateTime:    r.UpdateTime,
	}
}

// PlaceBatchOrders submits up to exchange.BatchLimit orders in one call.
// A partial outcome is possible: the exchange acknowledges some orders and
// rejects others inside the same response. Rejected entries are reported as
// an error after the accepted ones are returned.
func (c *Client) PlaceBatchOrders(ctx context.Context, orders []exchange.OrderSpec) ([]exchange.Order, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("binance: empty order batch")
	}
	if len(orders) > exchange.BatchLimit {
		return nil, fmt.Errorf("binance: batch of %d exceeds limit %d", len(orders), exchange.BatchLimit)
	}

	payloads := make([]orderPayload, len(orders))
	for i, spec := range orders {
		payloads[i] = convertSpec(spec)
	}
	encoded, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("binance: encode batch: %w", err)
	}

	params := url.Values{}
	params.Set("batchOrders", string(encoded))
	body, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/batchOrders", params, true)
	if err != nil {
		return nil, err
	}

	var raw []orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: parse batch response: %w", err)
	}

	acks := make([]exchange.Order, 0, len(raw))
	var firstReject error
	for i, r := range raw {
		if r.Code != 0 {
			if firstReject == nil {
				firstReject = fmt.Errorf("binance: batch order %d rejected: %w", i,
					&APIError{HTTPStatus: http.StatusOK, Code: r.Code, Message: r.Message})
			}
			continue
		}
		acks = append(acks, convertResponse(r))
	}
	return acks, firstReject
}

// CancelOrder cancels a single resting order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, err := c.doRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, true)
	return err
}

// CancelAllOpenOrders cancels every resting order for the symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := c.doRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true)
	return err
}

// GetOrder queries the current state of one order.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var raw orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: parse order: %w", err)
	}
	order := convertResponse(raw)
	return &order, nil
}

// GetOpenOrders returns all resting orders for the symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, err
	}
	var raw []orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: parse open orders: %w", err)
	}
	out := make([]exchange.Order, len(raw))
	for i, r := range raw {
		out[i] = convertResponse(r)
	}
	return out, nil
}
