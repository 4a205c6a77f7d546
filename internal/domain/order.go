package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the order's pricing instruction.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order remains workable.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// Strategy is the execution strategy a parent order is decomposed under.
type Strategy string

const (
	StrategyMarket  Strategy = "market"
	StrategyLimit   Strategy = "limit"
	StrategyTWAP    Strategy = "twap"
	StrategyVWAP    Strategy = "vwap"
	StrategyIceberg Strategy = "iceberg"
	StrategyPOV     Strategy = "pov"
)

// OrderStatus is a state in the order lifecycle state machine (§4.H).
type OrderStatus string

const (
	OrderPending          OrderStatus = "PENDING"
	OrderSubmitted        OrderStatus = "SUBMITTED"
	OrderPartiallyFilled  OrderStatus = "PARTIALLY_FILLED"
	OrderCancelling       OrderStatus = "CANCELLING"
	OrderFilled           OrderStatus = "FILLED"
	OrderCancelled        OrderStatus = "CANCELLED"
	OrderRejected         OrderStatus = "REJECTED"
	OrderExpired          OrderStatus = "EXPIRED"
	OrderError            OrderStatus = "ERROR"
)

// Terminal reports whether status is an absorbing state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired, OrderError:
		return true
	}
	return false
}

// StrategyParams bundles the optional tuning knobs for non-trivial strategies.
// Only the fields relevant to Strategy are populated; zero values mean "use default".
type StrategyParams struct {
	Duration     time.Duration     `json:"duration,omitempty"`
	Interval     time.Duration     `json:"interval,omitempty"`
	DisplaySize  decimal.Decimal   `json:"display_size,omitempty"`
	POVTarget    float64           `json:"pov_target,omitempty"`
	VolumeProfile []float64        `json:"volume_profile,omitempty"`
}

// Order is the central trading entity tracked by the Order State Machine.
type Order struct {
	ID              string          `json:"id"`
	ParentID        *string         `json:"parent_id,omitempty"`
	PortfolioID     string          `json:"portfolio_id"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Type            OrderType       `json:"type"`
	Qty             decimal.Decimal `json:"qty"`
	LimitPrice      *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"`
	TIF             TimeInForce     `json:"tif"`
	Strategy        Strategy        `json:"strategy"`
	StrategyParams  StrategyParams  `json:"strategy_params"`
	Status          OrderStatus     `json:"status"`
	FilledQty       decimal.Decimal `json:"filled_qty"`
	AvgFillPrice    *decimal.Decimal `json:"avg_fill_price,omitempty"`
	BrokerID        *string         `json:"broker_id,omitempty"`
	BrokerOrderID   *string         `json:"broker_order_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	TerminalAt      *time.Time      `json:"terminal_at,omitempty"`
	Error           *string         `json:"error,omitempty"`
}

// Remaining returns qty - filled_qty.
func (o Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// Execution (Fill) is an immutable record of a partial or complete fill.
type Execution struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Ts            time.Time       `json:"ts"`
	Venue         *string         `json:"venue,omitempty"`
	BrokerExecID  string          `json:"broker_exec_id"`
	Fees          *decimal.Decimal `json:"fees,omitempty"`
	Commission    *decimal.Decimal `json:"commission,omitempty"`
}

// BrokerEventType is the canonical broker event the adapter translates into.
type BrokerEventType string

const (
	BrokerEventAck       BrokerEventType = "Ack"
	BrokerEventFill      BrokerEventType = "Fill"
	BrokerEventCancelled BrokerEventType = "Cancelled"
	BrokerEventRejected  BrokerEventType = "Rejected"
	BrokerEventExpired   BrokerEventType = "Expired"
	BrokerEventError     BrokerEventType = "Error"
)

// BrokerEvent is a normalized broker callback/poll/stream event.
type BrokerEvent struct {
	Type          BrokerEventType
	BrokerOrderID string
	BrokerExecID  string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	Ts            time.Time
	Reason        string
}
