package exchange

// Core trading domain types shared across exchange implementations.
// These structures follow the Binance USD-M futures payloads while remaining
// exchange-agnostic so additional venues can be added behind the same
// interface later.

// Side is the order side as understood by the exchange.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the order types the engine submits.
type OrderType string

const (
	Limit            OrderType = "LIMIT"
	Market           OrderType = "MARKET"
	StopMarket       OrderType = "STOP_MARKET"
	TakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce values used by limit orders.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	FOK TimeInForce = "FOK"
)

// OrderStatus values reported by the exchange.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further fills can occur for this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// OrderSpec is one order intent submitted to the exchange. Prices and
// quantities are pre-rounded fixed-point strings; the precision registry is
// the only producer of these values.
type OrderSpec struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      string
	Price         string
	StopPrice     string
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClosePosition bool
	PriceProtect  bool
	WorkingType   string // e.g. MARK_PRICE
	ClientOrderID string
}

// Order is the exchange's view of a submitted order, returned both from
// placement acknowledgements and open-order/status queries.
type Order struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Side          Side
	Type          OrderType
	Status        OrderStatus
	Price         float64
	OrigQty       float64
	ExecutedQty   float64
	AvgPrice      float64
	ReduceOnly    bool
	UpdateTime    int64
}

// PositionSnapshot captures the net position for one symbol.
type PositionSnapshot struct {
	Symbol        string
	PositionAmt   float64 // positive long, negative short
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnl float64
	Margin        float64 // isolated or initial margin, venue-dependent
	Leverage      int
}

// IsShort reports whether the net position is short.
func (p PositionSnapshot) IsShort() bool { return p.PositionAmt < 0 }

// IsFlat reports whether there is no open position.
func (p PositionSnapshot) IsFlat() bool { return p.PositionAmt == 0 }

// Balance is a single-asset futures wallet balance.
type Balance struct {
	Asset            string
	Balance          float64
	AvailableBalance float64
}

// FillEvent is one execution report from the private fill stream. ExecutionID
// is unique per fill on the exchange side and keys idempotent reconciliation.
type FillEvent struct {
	EventType       string
	Symbol          string
	OrderID         int64
	ClientOrderID   string
	ExecutionID     int64
	Side            Side
	OrderType       OrderType
	Status          OrderStatus
	Price           float64 // order price
	Quantity        float64 // original order quantity
	LastFilledQty   float64
	CumFilledQty    float64
	LastFilledPrice float64
	Commission      float64
	CommissionAsset string
	RealizedPnl     float64
	EventTime       int64
	FillTime        int64
}

// Partial reports whether the fill left the order partially filled.
func (f FillEvent) Partial() bool { return f.Status == StatusPartiallyFilled }
