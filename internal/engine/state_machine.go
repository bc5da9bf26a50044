package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"option_bot/internal/domain"
	"option_bot/internal/infra"

	"github.com/shopspring/decimal"
)

// validTransitions is the order lifecycle. Terminal states have no entries:
// once filled, cancelled, rejected or failed an order is immutable.
var validTransitions = map[domain.OrderState][]domain.OrderState{
	domain.OrderStatePending: {
		domain.OrderStateSubmitted,
		domain.OrderStateRejected,
		domain.OrderStateFailed,
		domain.OrderStateCancelled,
	},
	domain.OrderStateSubmitted: {
		domain.OrderStateAcknowledged,
		domain.OrderStatePartiallyFilled,
		domain.OrderStateFilled,
		domain.OrderStateRejected,
		domain.OrderStateCancelled,
		domain.OrderStateFailed,
	},
	domain.OrderStateAcknowledged: {
		domain.OrderStatePartiallyFilled,
		domain.OrderStateFilled,
		domain.OrderStateRejected,
		domain.OrderStateCancelled,
	},
	domain.OrderStatePartiallyFilled: {
		domain.OrderStatePartiallyFilled,
		domain.OrderStateFilled,
		domain.OrderStateRejected,
		domain.OrderStateCancelled,
	},
}

func canTransition(from, to domain.OrderState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// contractBook holds all mutable state for one contract. Every read and
// write goes through its mutex so the quote pipeline and the reconciler
// never observe a half-applied update.
type contractBook struct {
	mu       sync.Mutex
	position domain.Position
	orders   map[string]*domain.Order
}

// Book is the authoritative in-memory order and position state, backed by
// the persistent store. Order and position writes for one fill happen under
// a single contract lock so restarts never see one without the other.
type Book struct {
	store domain.Store

	mu        sync.RWMutex
	contracts map[string]*contractBook
	orderKeys map[string]string // order id -> contract key

	// onFlat fires when a position returns to zero, for cooldown tracking.
	onFlat func(symbol string, at time.Time)
}

// NewBook creates an empty book over the given store.
func NewBook(store domain.Store, onFlat func(symbol string, at time.Time)) *Book {
	return &Book{
		store:     store,
		contracts: make(map[string]*contractBook),
		orderKeys: make(map[string]string),
		onFlat:    onFlat,
	}
}

// Restore seeds the book from persisted state at startup.
func (b *Book) Restore(orders []*domain.Order, positions []*domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := int32(0)
	for _, pos := range positions {
		cb := b.contractLocked(pos.Contract.Key())
		cb.position = *pos
	}
	for _, order := range orders {
		key := order.Contract.Key()
		cb := b.contractLocked(key)
		cp := *order
		cb.orders[order.ID] = &cp
		b.orderKeys[order.ID] = key
		if cp.IsOpen() {
			open++
		}
	}
	infra.GlobalMetrics.SetOpenOrders(open)
}

func (b *Book) contractLocked(key string) *contractBook {
	cb, ok := b.contracts[key]
	if !ok {
		cb = &contractBook{orders: make(map[string]*domain.Order)}
		b.contracts[key] = cb
	}
	return cb
}

func (b *Book) contract(key string) *contractBook {
	b.mu.RLock()
	cb, ok := b.contracts[key]
	b.mu.RUnlock()
	if ok {
		return cb
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contractLocked(key)
}

// Position returns a copy of the contract's position.
func (b *Book) Position(key string) domain.Position {
	cb := b.contract(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.position
}

// Positions returns copies of all non-flat positions.
func (b *Book) Positions() []domain.Position {
	b.mu.RLock()
	books := make([]*contractBook, 0, len(b.contracts))
	for _, cb := range b.contracts {
		books = append(books, cb)
	}
	b.mu.RUnlock()

	var out []domain.Position
	for _, cb := range books {
		cb.mu.Lock()
		if !cb.position.IsFlat() {
			out = append(out, cb.position)
		}
		cb.mu.Unlock()
	}
	return out
}

// OpenOrders returns copies of all non-terminal orders for one underlying.
func (b *Book) OpenOrders(symbol string) []*domain.Order {
	b.mu.RLock()
	books := make([]*contractBook, 0, len(b.contracts))
	for _, cb := range b.contracts {
		books = append(books, cb)
	}
	b.mu.RUnlock()

	var open []*domain.Order
	for _, cb := range books {
		cb.mu.Lock()
		for _, o := range cb.orders {
			if o.Contract.Underlying == symbol && o.IsOpen() {
				cp := *o
				open = append(open, &cp)
			}
		}
		cb.mu.Unlock()
	}
	return open
}

// AllOpenOrders returns copies of every non-terminal order across all
// contracts.
func (b *Book) AllOpenOrders() []*domain.Order {
	b.mu.RLock()
	books := make([]*contractBook, 0, len(b.contracts))
	for _, cb := range b.contracts {
		books = append(books, cb)
	}
	b.mu.RUnlock()

	var open []*domain.Order
	for _, cb := range books {
		cb.mu.Lock()
		for _, o := range cb.orders {
			if o.IsOpen() {
				cp := *o
				open = append(open, &cp)
			}
		}
		cb.mu.Unlock()
	}
	return open
}

// Order returns a copy of one order.
func (b *Book) Order(orderID string) (domain.Order, bool) {
	b.mu.RLock()
	key, ok := b.orderKeys[orderID]
	b.mu.RUnlock()
	if !ok {
		return domain.Order{}, false
	}

	cb := b.contract(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	o, ok := cb.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	cp := *o
	return cp, true
}

// CreateOrder registers a new pending order. At most one open order may
// exist per contract.
func (b *Book) CreateOrder(order *domain.Order) error {
	cb := b.contract(order.Contract.Key())
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, existing := range cb.orders {
		if existing.IsOpen() {
			return domain.ErrDuplicateOrder
		}
	}

	order.State = domain.OrderStatePending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	cp := *order
	cb.orders[order.ID] = &cp

	b.mu.Lock()
	b.orderKeys[order.ID] = order.Contract.Key()
	b.mu.Unlock()

	if err := b.store.UpsertOrder(&cp); err != nil {
		// Unpersisted orders must not occupy the contract slot.
		delete(cb.orders, order.ID)
		b.mu.Lock()
		delete(b.orderKeys, order.ID)
		b.mu.Unlock()
		return err
	}
	infra.GlobalMetrics.AddOpenOrders(1)
	return nil
}

// Mutate applies fn to one order under the contract lock, validates the
// resulting state transition and persists the order. fn receives the live
// order; the previous state is restored if fn or persistence fails.
func (b *Book) Mutate(orderID string, fn func(*domain.Order) error) error {
	b.mu.RLock()
	key, ok := b.orderKeys[orderID]
	b.mu.RUnlock()
	if !ok {
		return domain.ErrUnknownOrder
	}

	cb := b.contract(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	order, ok := cb.orders[orderID]
	if !ok {
		return domain.ErrUnknownOrder
	}

	before := *order
	if err := fn(order); err != nil {
		*order = before
		return err
	}
	if order.State != before.State && !canTransition(before.State, order.State) {
		*order = before
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, before.State, order.State)
	}

	if err := b.store.UpsertOrder(order); err != nil {
		*order = before
		return err
	}
	if before.IsOpen() && !order.IsOpen() {
		infra.GlobalMetrics.AddOpenOrders(-1)
	}
	return nil
}

// ApplyEvent folds one in-sequence broker event into the book: the order
// transition and, for fill variants, the position update happen atomically
// under the contract lock and both are persisted before returning.
func (b *Book) ApplyEvent(ev domain.BrokerEvent) error {
	b.mu.RLock()
	key, ok := b.orderKeys[ev.OrderID]
	b.mu.RUnlock()
	if !ok {
		return domain.ErrUnknownOrder
	}

	cb := b.contract(key)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	order, ok := cb.orders[ev.OrderID]
	if !ok {
		return domain.ErrUnknownOrder
	}
	if order.State.IsTerminal() {
		// Late event on a closed order. Dropped, not an error.
		infra.GlobalMetrics.RecordDuplicateEvent()
		slog.Debug("Event on terminal order dropped",
			slog.String("order_id", ev.OrderID),
			slog.String("event", ev.Type.String()),
		)
		return nil
	}

	before := *order
	posBefore := cb.position

	var next domain.OrderState
	switch ev.Type {
	case domain.BrokerEventAck:
		next = domain.OrderStateAcknowledged
		order.VenueOrderID = ev.VenueOrderID
	case domain.BrokerEventPartialFill, domain.BrokerEventFill:
		if ev.Quantity <= 0 || ev.Quantity > order.Remaining() {
			return fmt.Errorf("%w: %d of %d remaining", domain.ErrInvalidFill, ev.Quantity, order.Remaining())
		}
		applyFillToOrder(order, ev)
		if order.Remaining() == 0 {
			next = domain.OrderStateFilled
		} else {
			next = domain.OrderStatePartiallyFilled
		}
		cb.position = cb.position.ApplyFill(order.Side, ev.Quantity, ev.Price, ev.Timestamp)
		cb.position.Symbol = order.Contract.Underlying
		cb.position.Contract = order.Contract
	case domain.BrokerEventReject:
		next = domain.OrderStateRejected
		order.LastError = ev.Reason
	case domain.BrokerEventCancelAck:
		next = domain.OrderStateCancelled
	default:
		return fmt.Errorf("unknown broker event type %d", ev.Type)
	}

	if !canTransition(before.State, next) {
		*order = before
		cb.position = posBefore
		return fmt.Errorf("%w: %s -> %s on %s", domain.ErrInvalidTransition, before.State, next, ev.Type)
	}
	order.State = next

	if err := b.store.UpsertOrder(order); err != nil {
		*order = before
		cb.position = posBefore
		return err
	}
	if ev.Type == domain.BrokerEventPartialFill || ev.Type == domain.BrokerEventFill {
		if err := b.store.UpsertPosition(&cb.position); err != nil {
			*order = before
			cb.position = posBefore
			return err
		}
	}

	if next == domain.OrderStateFilled {
		infra.GlobalMetrics.RecordOrderFilled()
	}
	if before.IsOpen() && !order.IsOpen() {
		infra.GlobalMetrics.AddOpenOrders(-1)
	}

	if !posBefore.IsFlat() && cb.position.IsFlat() && b.onFlat != nil {
		b.onFlat(order.Contract.Underlying, ev.Timestamp)
	}

	slog.Info("Broker event applied",
		slog.String("order_id", order.ID),
		slog.String("event", ev.Type.String()),
		slog.String("state", order.State.String()),
		slog.Int64("filled", order.FilledQty),
	)
	return nil
}

func applyFillToOrder(order *domain.Order, ev domain.BrokerEvent) {
	prev := decimal.NewFromInt(order.FilledQty)
	add := decimal.NewFromInt(ev.Quantity)
	total := prev.Add(add)
	if total.IsPositive() {
		order.AvgFillPrice = order.AvgFillPrice.Mul(prev).Add(ev.Price.Mul(add)).Div(total)
	}
	order.FilledQty += ev.Quantity
	if ev.VenueOrderID != "" {
		order.VenueOrderID = ev.VenueOrderID
	}
}
