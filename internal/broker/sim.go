package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"option_bot/internal/domain"
)

// SimBroker is the in-process simulated venue. Submitted orders are acked
// and filled at their limit price after a configurable delay, with per-order
// event sequence numbers. Failure behavior can be scripted per order id,
// which the live venue obviously does not offer.
type SimBroker struct {
	mu           sync.Mutex
	events       chan domain.BrokerEvent
	orders       map[string]*simOrder // by venue order id
	nextVenue    int
	fillDelay    time.Duration
	partials     int // fills delivered per order (1 = single full fill)
	transient    map[string]int
	permanent    map[string]bool
	transientAll int
	permanentAll bool
	rejectAll    bool
	duplicates   bool
	closed       bool
}

type simOrder struct {
	order   domain.Order
	venueID string
	seq     uint64
	filled  int64
	state   domain.OrderState
}

// SimOption configures scripted behavior.
type SimOption func(*SimBroker)

// WithFillDelay delays fills after acknowledgment.
func WithFillDelay(d time.Duration) SimOption {
	return func(s *SimBroker) { s.fillDelay = d }
}

// WithPartialFills splits each fill into n partial events.
func WithPartialFills(n int) SimOption {
	return func(s *SimBroker) {
		if n > 0 {
			s.partials = n
		}
	}
}

// WithTransientFailures makes the first n submits of the given order fail
// with a retriable error.
func WithTransientFailures(orderID string, n int) SimOption {
	return func(s *SimBroker) { s.transient[orderID] = n }
}

// WithPermanentFailure makes every submit of the given order fail with a
// non-retriable error.
func WithPermanentFailure(orderID string) SimOption {
	return func(s *SimBroker) { s.permanent[orderID] = true }
}

// WithGlobalTransientFailures makes the next n submits fail with a
// retriable error, whatever the order.
func WithGlobalTransientFailures(n int) SimOption {
	return func(s *SimBroker) { s.transientAll = n }
}

// WithGlobalPermanentFailure makes every submit fail with a non-retriable
// error.
func WithGlobalPermanentFailure() SimOption {
	return func(s *SimBroker) { s.permanentAll = true }
}

// WithRejectAll makes the venue reject every order asynchronously after ack.
func WithRejectAll() SimOption {
	return func(s *SimBroker) { s.rejectAll = true }
}

// WithDuplicateEvents makes the venue deliver every event twice.
func WithDuplicateEvents() SimOption {
	return func(s *SimBroker) { s.duplicates = true }
}

// NewSimBroker creates a simulated broker.
func NewSimBroker(opts ...SimOption) *SimBroker {
	s := &SimBroker{
		events:    make(chan domain.BrokerEvent, 256),
		orders:    make(map[string]*simOrder),
		partials:  1,
		transient: make(map[string]int),
		permanent: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit accepts an order and schedules its async lifecycle events.
func (s *SimBroker) Submit(ctx context.Context, order *domain.Order) (string, error) {
	select {
	case <-ctx.Done():
		return "", domain.NewTransientBrokerError("submit", ctx.Err())
	default:
	}

	s.mu.Lock()
	if s.transientAll > 0 {
		s.transientAll--
		s.mu.Unlock()
		return "", domain.NewTransientBrokerError("submit", fmt.Errorf("venue unavailable"))
	}
	if remaining := s.transient[order.ID]; remaining > 0 {
		s.transient[order.ID] = remaining - 1
		s.mu.Unlock()
		return "", domain.NewTransientBrokerError("submit", fmt.Errorf("venue unavailable"))
	}
	if s.permanentAll || s.permanent[order.ID] {
		s.mu.Unlock()
		return "", domain.NewPermanentBrokerError("submit", fmt.Errorf("order validation failed"))
	}

	s.nextVenue++
	venueID := fmt.Sprintf("sim-%06d", s.nextVenue)
	so := &simOrder{
		order:   *order,
		venueID: venueID,
		state:   domain.OrderStateAcknowledged,
	}
	s.orders[venueID] = so
	s.mu.Unlock()

	go s.playLifecycle(so)
	return venueID, nil
}

func (s *SimBroker) playLifecycle(so *simOrder) {
	s.emit(so, domain.BrokerEvent{
		Type:         domain.BrokerEventAck,
		OrderID:      so.order.ID,
		VenueOrderID: so.venueID,
	})

	if s.rejectAll {
		s.mu.Lock()
		so.state = domain.OrderStateRejected
		s.mu.Unlock()
		s.emit(so, domain.BrokerEvent{
			Type:         domain.BrokerEventReject,
			OrderID:      so.order.ID,
			VenueOrderID: so.venueID,
			Reason:       "rejected by venue",
		})
		return
	}

	if s.fillDelay > 0 {
		time.Sleep(s.fillDelay)
	}

	total := so.order.Quantity
	chunk := total / int64(s.partials)
	if chunk < 1 {
		chunk = 1
	}
	for filled := int64(0); filled < total; {
		qty := chunk
		if filled+qty > total || total-filled-qty < chunk {
			qty = total - filled
		}
		filled += qty

		evType := domain.BrokerEventPartialFill
		state := domain.OrderStatePartiallyFilled
		if filled == total {
			evType = domain.BrokerEventFill
			state = domain.OrderStateFilled
		}

		s.mu.Lock()
		so.filled = filled
		so.state = state
		s.mu.Unlock()

		s.emit(so, domain.BrokerEvent{
			Type:         evType,
			OrderID:      so.order.ID,
			VenueOrderID: so.venueID,
			Quantity:     qty,
			Price:        so.order.LimitPrice,
		})
	}
}

func (s *SimBroker) emit(so *simOrder, ev domain.BrokerEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	so.seq++
	ev.Sequence = so.seq
	ev.Timestamp = time.Now().UTC()
	dup := s.duplicates
	s.mu.Unlock()

	s.events <- ev
	if dup {
		s.events <- ev
	}
}

// Cancel asynchronously cancels an acknowledged order.
func (s *SimBroker) Cancel(ctx context.Context, venueOrderID string) error {
	s.mu.Lock()
	so, ok := s.orders[venueOrderID]
	if !ok {
		s.mu.Unlock()
		return domain.NewPermanentBrokerError("cancel", domain.ErrUnknownOrder)
	}
	if so.state.IsTerminal() {
		s.mu.Unlock()
		return domain.NewPermanentBrokerError("cancel", fmt.Errorf("order already %s", so.state))
	}
	so.state = domain.OrderStateCancelled
	s.mu.Unlock()

	s.emit(so, domain.BrokerEvent{
		Type:         domain.BrokerEventCancelAck,
		OrderID:      so.order.ID,
		VenueOrderID: venueOrderID,
	})
	return nil
}

// Events streams the venue's asynchronous reports.
func (s *SimBroker) Events() <-chan domain.BrokerEvent {
	return s.events
}

// OpenOrders returns the venue's view of every remembered order, terminal
// ones included, so restart reconciliation can converge on missed fills.
func (s *SimBroker) OpenOrders(ctx context.Context) (map[string]domain.BrokerOrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.BrokerOrderStatus)
	for venueID, so := range s.orders {
		out[venueID] = domain.BrokerOrderStatus{
			VenueOrderID: venueID,
			State:        so.state,
			FilledQty:    so.filled,
		}
	}
	return out, nil
}

// Seed installs an order directly in the venue book, for restart scenarios
// where the venue remembers orders this process has forgotten about.
func (s *SimBroker) Seed(order domain.Order, venueID string, state domain.OrderState, filled int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[venueID] = &simOrder{
		order:   order,
		venueID: venueID,
		state:   state,
		filled:  filled,
	}
}

// Close shuts the event stream.
func (s *SimBroker) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
