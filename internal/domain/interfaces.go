package domain

import "context"

// Scorer is the external policy model consulted for trade signals. It is a
// pure request/response capability; the gate owns timeout and fallback.
type Scorer interface {
	Score(ctx context.Context, analytics Analytics) (Signal, error)
}

// Broker abstracts the brokerage venue for order execution.
type Broker interface {
	// Submit dispatches an order and returns the venue order id. Errors are
	// classified transient/permanent via BrokerError.
	Submit(ctx context.Context, order *Order) (string, error)

	// Cancel requests cancellation of an acknowledged order.
	Cancel(ctx context.Context, venueOrderID string) error

	// Events streams asynchronous ack/fill/reject reports.
	Events() <-chan BrokerEvent

	// OpenOrders returns the broker's view of live orders, keyed by venue
	// order id. Used for startup reconciliation.
	OpenOrders(ctx context.Context) (map[string]BrokerOrderStatus, error)
}

// BrokerOrderStatus is the broker-side snapshot of one order, consumed
// during startup reconciliation. Broker-reported state wins over local state.
type BrokerOrderStatus struct {
	VenueOrderID string
	State        OrderState
	FilledQty    int64
}

// Store is the external persistent store. Writes are idempotent upserts
// keyed by order id / contract key so retried writes cannot duplicate state.
type Store interface {
	UpsertOrder(order *Order) error
	UpsertPosition(position *Position) error
	OpenOrders() ([]*Order, error)
	Positions() ([]*Position, error)
}
