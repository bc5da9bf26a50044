package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BrokerEventType tags the variant of a broker event.
type BrokerEventType uint8

const (
	BrokerEventUnknown BrokerEventType = iota
	BrokerEventAck
	BrokerEventPartialFill
	BrokerEventFill
	BrokerEventReject
	BrokerEventCancelAck
)

// String returns the event type name for logs.
func (t BrokerEventType) String() string {
	switch t {
	case BrokerEventAck:
		return "ACK"
	case BrokerEventPartialFill:
		return "PARTIAL_FILL"
	case BrokerEventFill:
		return "FILL"
	case BrokerEventReject:
		return "REJECT"
	case BrokerEventCancelAck:
		return "CANCEL_ACK"
	default:
		return "UNKNOWN"
	}
}

// BrokerEvent is a tagged variant carrying one asynchronous broker report.
// Events for one order carry monotonically increasing sequence numbers; the
// reconciler reorders on Sequence before application.
type BrokerEvent struct {
	Type         BrokerEventType `json:"type"`
	OrderID      string          `json:"order_id"`
	VenueOrderID string          `json:"venue_order_id"`
	Quantity     int64           `json:"quantity"` // filled quantity for fill variants
	Price        decimal.Decimal `json:"price"`
	Reason       string          `json:"reason"` // reject reason
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
}
