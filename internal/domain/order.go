package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderState tracks the lifecycle of an order.
type OrderState uint8

const (
	OrderStateUnknown OrderState = iota
	OrderStatePending             // intent authorized, not yet sent
	OrderStateSubmitted           // sent to broker, awaiting ack
	OrderStateAcknowledged        // venue order id assigned
	OrderStatePartiallyFilled
	OrderStateFilled    // terminal
	OrderStateCancelled // terminal
	OrderStateRejected  // terminal
	OrderStateFailed    // terminal, retry budget exhausted
)

// String returns the state name for logs and persistence.
func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "PENDING"
	case OrderStateSubmitted:
		return "SUBMITTED"
	case OrderStateAcknowledged:
		return "ACKNOWLEDGED"
	case OrderStatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateRejected:
		return "REJECTED"
	case OrderStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderState reverses String(). Unknown names map to OrderStateUnknown.
func ParseOrderState(s string) OrderState {
	switch s {
	case "PENDING":
		return OrderStatePending
	case "SUBMITTED":
		return OrderStateSubmitted
	case "ACKNOWLEDGED":
		return OrderStateAcknowledged
	case "PARTIALLY_FILLED":
		return OrderStatePartiallyFilled
	case "FILLED":
		return OrderStateFilled
	case "CANCELLED":
		return OrderStateCancelled
	case "REJECTED":
		return OrderStateRejected
	case "FAILED":
		return OrderStateFailed
	default:
		return OrderStateUnknown
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateFailed:
		return true
	default:
		return false
	}
}

// Order is one trading intent and its lifecycle state.
type Order struct {
	ID           string          `json:"id"` // system-generated, unique
	Contract     ContractID      `json:"contract"`
	Side         OrderSide       `json:"side"`
	Quantity     int64           `json:"quantity"` // contracts, always positive
	FilledQty    int64           `json:"filled_qty"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	State        OrderState      `json:"state"`
	VenueOrderID string          `json:"venue_order_id"` // empty until acked
	SubmittedAt  time.Time       `json:"submitted_at"`
	CreatedAt    time.Time       `json:"created_at"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQty
}

// IsOpen reports whether the order is still active (non-terminal).
func (o *Order) IsOpen() bool {
	return !o.State.IsTerminal()
}

// Notional returns the order's limit notional value.
func (o *Order) Notional() decimal.Decimal {
	return o.LimitPrice.Mul(decimal.NewFromInt(o.Quantity))
}
