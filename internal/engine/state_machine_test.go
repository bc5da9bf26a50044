package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory domain.Store for engine tests.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	positions map[string]domain.Position
	failNext  error

	// failStateErr fails the next upsert of an order in failState.
	failState    domain.OrderState
	failStateErr error
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]domain.Order),
		positions: make(map[string]domain.Position),
	}
}

func (s *memStore) UpsertOrder(order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if s.failStateErr != nil && order.State == s.failState {
		err := s.failStateErr
		s.failStateErr = nil
		return err
	}
	s.orders[order.ID] = *order
	return nil
}

func (s *memStore) UpsertPosition(position *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[position.Contract.Key()] = *position
	return nil
}

func (s *memStore) OpenOrders() ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.IsOpen() {
			cp := o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Positions() ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if !p.IsFlat() {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) persistedOrder(t *testing.T, id string) domain.Order {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		t.Fatalf("order %s not persisted", id)
	}
	return o
}

func testContract() domain.ContractID {
	return domain.ContractID{
		Underlying: "SPY",
		Strike:     decimal.NewFromInt(480),
		Expiry:     time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC),
		Right:      domain.RightCall,
	}
}

func pendingOrder(id string, qty int64) *domain.Order {
	return &domain.Order{
		ID:         id,
		Contract:   testContract(),
		Side:       domain.SideBuy,
		Quantity:   qty,
		LimitPrice: decimal.NewFromFloat(3.50),
		State:      domain.OrderStatePending,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to domain.OrderState }{
		{domain.OrderStatePending, domain.OrderStateSubmitted},
		{domain.OrderStateSubmitted, domain.OrderStateAcknowledged},
		{domain.OrderStateSubmitted, domain.OrderStateFilled},
		{domain.OrderStateAcknowledged, domain.OrderStatePartiallyFilled},
		{domain.OrderStatePartiallyFilled, domain.OrderStateFilled},
		{domain.OrderStatePartiallyFilled, domain.OrderStateCancelled},
		{domain.OrderStatePending, domain.OrderStateFailed},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to domain.OrderState }{
		{domain.OrderStateFilled, domain.OrderStateCancelled},
		{domain.OrderStateCancelled, domain.OrderStateSubmitted},
		{domain.OrderStateRejected, domain.OrderStateAcknowledged},
		{domain.OrderStateFailed, domain.OrderStateSubmitted},
		{domain.OrderStatePending, domain.OrderStateAcknowledged},
		{domain.OrderStateAcknowledged, domain.OrderStateSubmitted},
	}
	for _, tc := range forbidden {
		if canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be forbidden", tc.from, tc.to)
		}
	}
}

func TestBook_CreateOrderSingleOpenPerContract(t *testing.T) {
	book := NewBook(newMemStore(), nil)

	if err := book.CreateOrder(pendingOrder("ord-1", 10)); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	err := book.CreateOrder(pendingOrder("ord-2", 5))
	if !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Errorf("second open order should be rejected, got %v", err)
	}

	// Terminal orders free the slot.
	if err := book.Mutate("ord-1", func(o *domain.Order) error {
		o.State = domain.OrderStateFailed
		return nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if err := book.CreateOrder(pendingOrder("ord-2", 5)); err != nil {
		t.Errorf("slot should be free after terminal order, got %v", err)
	}
}

func TestBook_CreateOrderRollsBackOnPersistFailure(t *testing.T) {
	store := newMemStore()
	book := NewBook(store, nil)

	store.failNext = errors.New("disk full")
	if err := book.CreateOrder(pendingOrder("ord-1", 10)); err == nil {
		t.Fatal("expected persistence error")
	}

	// The failed insert must not leave a phantom order holding the slot.
	if _, ok := book.Order("ord-1"); ok {
		t.Error("failed create left the order in the book")
	}
	if err := book.CreateOrder(pendingOrder("ord-2", 10)); err != nil {
		t.Errorf("contract should accept a new order after the failure, got %v", err)
	}
}

func TestBook_MutateRejectsInvalidTransition(t *testing.T) {
	book := NewBook(newMemStore(), nil)
	if err := book.CreateOrder(pendingOrder("ord-1", 10)); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	err := book.Mutate("ord-1", func(o *domain.Order) error {
		o.State = domain.OrderStateAcknowledged // skips SUBMITTED
		return nil
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	order, _ := book.Order("ord-1")
	if order.State != domain.OrderStatePending {
		t.Errorf("failed mutate must not change state, got %s", order.State)
	}
}

func submitOrder(t *testing.T, book *Book, id string, qty int64) {
	t.Helper()
	if err := book.CreateOrder(pendingOrder(id, qty)); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if err := book.Mutate(id, func(o *domain.Order) error {
		o.State = domain.OrderStateSubmitted
		return nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
}

func TestBook_ApplyEventFillUpdatesOrderAndPosition(t *testing.T) {
	store := newMemStore()
	book := NewBook(store, nil)
	submitOrder(t, book, "ord-1", 10)

	at := time.Now().UTC()
	fillPrice := decimal.NewFromFloat(3.48)

	if err := book.ApplyEvent(domain.BrokerEvent{
		Type:         domain.BrokerEventPartialFill,
		OrderID:      "ord-1",
		VenueOrderID: "venue-1",
		Quantity:     4,
		Price:        fillPrice,
		Sequence:     1,
		Timestamp:    at,
	}); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	order, _ := book.Order("ord-1")
	if order.State != domain.OrderStatePartiallyFilled || order.FilledQty != 4 {
		t.Errorf("order = %s/%d, want PARTIALLY_FILLED/4", order.State, order.FilledQty)
	}

	position := book.Position(testContract().Key())
	if position.Quantity != 4 {
		t.Errorf("position qty = %d, want 4", position.Quantity)
	}
	if !position.AveragePrice.Equal(fillPrice) {
		t.Errorf("avg price = %s, want %s", position.AveragePrice, fillPrice)
	}

	if err := book.ApplyEvent(domain.BrokerEvent{
		Type:      domain.BrokerEventFill,
		OrderID:   "ord-1",
		Quantity:  6,
		Price:     fillPrice,
		Sequence:  2,
		Timestamp: at,
	}); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	order, _ = book.Order("ord-1")
	if order.State != domain.OrderStateFilled || order.FilledQty != 10 {
		t.Errorf("order = %s/%d, want FILLED/10", order.State, order.FilledQty)
	}

	// Both sides of the fill are persisted.
	persisted := store.persistedOrder(t, "ord-1")
	if persisted.State != domain.OrderStateFilled {
		t.Errorf("persisted state = %s, want FILLED", persisted.State)
	}
	store.mu.Lock()
	pos, ok := store.positions[testContract().Key()]
	store.mu.Unlock()
	if !ok || pos.Quantity != 10 {
		t.Errorf("persisted position = %+v", pos)
	}
}

func TestBook_ApplyEventOverfillRejected(t *testing.T) {
	book := NewBook(newMemStore(), nil)
	submitOrder(t, book, "ord-1", 10)

	err := book.ApplyEvent(domain.BrokerEvent{
		Type:      domain.BrokerEventFill,
		OrderID:   "ord-1",
		Quantity:  11,
		Price:     decimal.NewFromFloat(3.50),
		Timestamp: time.Now(),
	})
	if !errors.Is(err, domain.ErrInvalidFill) {
		t.Errorf("expected ErrInvalidFill, got %v", err)
	}

	position := book.Position(testContract().Key())
	if !position.IsFlat() {
		t.Error("rejected fill must not touch the position")
	}
}

func TestBook_TerminalOrdersAreImmutable(t *testing.T) {
	book := NewBook(newMemStore(), nil)
	submitOrder(t, book, "ord-1", 10)

	fill := domain.BrokerEvent{
		Type:      domain.BrokerEventFill,
		OrderID:   "ord-1",
		Quantity:  10,
		Price:     decimal.NewFromFloat(3.50),
		Timestamp: time.Now(),
	}
	if err := book.ApplyEvent(fill); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	// A replayed fill on the terminal order is dropped without error and
	// without touching state.
	if err := book.ApplyEvent(fill); err != nil {
		t.Errorf("late event on terminal order should be dropped silently, got %v", err)
	}

	order, _ := book.Order("ord-1")
	if order.FilledQty != 10 {
		t.Errorf("filled qty = %d, want 10", order.FilledQty)
	}
	position := book.Position(testContract().Key())
	if position.Quantity != 10 {
		t.Errorf("position qty = %d, want 10", position.Quantity)
	}
}

func TestBook_ApplyEventUnknownOrder(t *testing.T) {
	book := NewBook(newMemStore(), nil)

	err := book.ApplyEvent(domain.BrokerEvent{
		Type:    domain.BrokerEventAck,
		OrderID: "ghost",
	})
	if !errors.Is(err, domain.ErrUnknownOrder) {
		t.Errorf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestBook_OnFlatFiresWhenPositionCloses(t *testing.T) {
	var flatSymbol string
	book := NewBook(newMemStore(), func(symbol string, at time.Time) {
		flatSymbol = symbol
	})

	submitOrder(t, book, "ord-open", 10)
	if err := book.ApplyEvent(domain.BrokerEvent{
		Type: domain.BrokerEventFill, OrderID: "ord-open",
		Quantity: 10, Price: decimal.NewFromFloat(3.50), Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if flatSymbol != "" {
		t.Fatal("onFlat must not fire on open")
	}

	// Close the position with a sell.
	closeOrder := pendingOrder("ord-close", 10)
	closeOrder.Side = domain.SideSell
	if err := book.CreateOrder(closeOrder); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if err := book.Mutate("ord-close", func(o *domain.Order) error {
		o.State = domain.OrderStateSubmitted
		return nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if err := book.ApplyEvent(domain.BrokerEvent{
		Type: domain.BrokerEventFill, OrderID: "ord-close",
		Quantity: 10, Price: decimal.NewFromFloat(3.60), Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	if flatSymbol != "SPY" {
		t.Errorf("onFlat symbol = %q, want SPY", flatSymbol)
	}
}

func TestBook_RestoreSeedsState(t *testing.T) {
	store := newMemStore()
	book := NewBook(store, nil)

	orders := []*domain.Order{
		{
			ID:           "ord-1",
			Contract:     testContract(),
			Side:         domain.SideBuy,
			Quantity:     10,
			State:        domain.OrderStateAcknowledged,
			VenueOrderID: "venue-1",
			LimitPrice:   decimal.NewFromFloat(3.50),
		},
	}
	positions := []*domain.Position{
		{
			Symbol:       "SPY",
			Contract:     testContract(),
			Quantity:     5,
			AveragePrice: decimal.NewFromFloat(3.40),
		},
	}

	book.Restore(orders, positions)

	order, ok := book.Order("ord-1")
	if !ok || order.State != domain.OrderStateAcknowledged {
		t.Errorf("restored order = %+v", order)
	}
	position := book.Position(testContract().Key())
	if position.Quantity != 5 {
		t.Errorf("restored position qty = %d, want 5", position.Quantity)
	}
	if got := book.OpenOrders("SPY"); len(got) != 1 {
		t.Errorf("open orders = %d, want 1", len(got))
	}
}
