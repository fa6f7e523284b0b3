package binance

import (
	"encoding/json"
	"fmt"

	"gridwire-api/pkg/exchange"
)

// userDataEvent is the envelope of a user-data stream message. Only
// ORDER_TRADE_UPDATE events carry fills; everything else is ignored.
type userDataEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Order     orderTradeEvent `json:"o"`
}

type orderTradeEvent struct {
	Symbol          string `json:"s"`
	ClientOrderID   string `json:"c"`
	Side            string `json:"S"`
	OrderType       string `json:"o"`
	OrigQty         string `json:"q"`
	OrigPrice       string `json:"p"`
	ExecType        string `json:"x"`
	Status          string `json:"X"`
	OrderID         int64  `json:"i"`
	LastFilledQty   string `json:"l"`
	CumFilledQty    string `json:"z"`
	LastFilledPrice string `json:"L"`
	CommissionAsset string `json:"N"`
	Commission      string `json:"n"`
	TradeTime       int64  `json:"T"`
	TradeID         int64  `json:"t"`
	RealizedPnl     string `json:"rp"`
}

// ParseFillEvent decodes one stream message. It returns (nil, nil) for
// messages that are not executions, so callers can skip them cheaply.
func ParseFillEvent(msg []byte) (*exchange.FillEvent, error) {
	var ev userDataEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return nil, fmt.Errorf("binance: parse stream event: %w", err)
	}
	if ev.EventType != "ORDER_TRADE_UPDATE" || ev.Order.ExecType != "TRADE" {
		return nil, nil
	}
	o := ev.Order
	return &exchange.FillEvent{
		EventType:       ev.EventType,
		Symbol:          o.Symbol,
		OrderID:         o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		ExecutionID:     o.TradeID,
		Side:            exchange.Side(o.Side),
		OrderType:       exchange.OrderType(o.OrderType),
		Status:          exchange.OrderStatus(o.Status),
		Price:           parseFloat(o.OrigPrice),
		Quantity:        parseFloat(o.OrigQty),
		LastFilledQty:   parseFloat(o.LastFilledQty),
		CumFilledQty:    parseFloat(o.CumFilledQty),
		LastFilledPrice: parseFloat(o.LastFilledPrice),
		Commission:      parseFloat(o.Commission),
		CommissionAsset: o.CommissionAsset,
		RealizedPnl:     parseFloat(o.RealizedPnl),
		EventTime:       ev.EventTime,
		FillTime:        o.TradeTime,
	}, nil
}
