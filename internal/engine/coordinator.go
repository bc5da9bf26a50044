package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"option_bot/internal/domain"
	"option_bot/internal/gate"
	"option_bot/internal/infra"
	"option_bot/internal/pricing"
	"option_bot/internal/risk"

	"github.com/google/uuid"
)

// RetryPolicy bounds broker submit retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     infra.Backoff
}

// Coordinator drives the decision pipeline: it fans quotes out to a bounded
// worker pool (contract-affine, so one contract is always processed by the
// same worker) and runs each through price -> signal -> risk -> order.
type Coordinator struct {
	pricer  *pricing.Engine
	gate    *gate.Gate
	guard   *risk.Guard
	book    *Book
	broker  domain.Broker
	retry   RetryPolicy
	workers int
	qty     int64

	inbox   chan domain.Quote
	shards  []chan domain.Quote
	wg      sync.WaitGroup
	now     func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error

	// symbols serializes authorization and order creation per underlying:
	// sibling contracts on one symbol may run on different workers, and the
	// per-symbol limits must not be raced past between Authorize and
	// CreateOrder.
	symMu   sync.Mutex
	symbols map[string]*sync.Mutex
}

// NewCoordinator assembles the pipeline. inboxSize bounds the shared quote
// queue; workers bounds pipeline concurrency.
func NewCoordinator(
	pricer *pricing.Engine,
	g *gate.Gate,
	guard *risk.Guard,
	book *Book,
	broker domain.Broker,
	retry RetryPolicy,
	workers, inboxSize int,
	defaultQty int64,
) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		pricer:  pricer,
		gate:    g,
		guard:   guard,
		book:    book,
		broker:  broker,
		retry:   retry,
		workers: workers,
		qty:     defaultQty,
		inbox:   make(chan domain.Quote, inboxSize),
		now:     time.Now,
		sleepFn: sleepCtx,
		symbols: make(map[string]*sync.Mutex),
	}
}

// Inbox returns the quote channel. The feed worker sends here.
func (c *Coordinator) Inbox() chan<- domain.Quote {
	return c.inbox
}

// Run starts the worker pool and blocks until the context is cancelled.
// Reconcile must have completed before Run is called.
func (c *Coordinator) Run(ctx context.Context) {
	c.shards = make([]chan domain.Quote, c.workers)
	for i := range c.shards {
		c.shards[i] = make(chan domain.Quote, 64)
		c.wg.Add(1)
		go c.worker(ctx, c.shards[i])
	}

	slog.Info("Coordinator started", slog.Int("workers", c.workers))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Coordinator stopping...")
			for _, shard := range c.shards {
				close(shard)
			}
			c.wg.Wait()
			return
		case quote := <-c.inbox:
			shard := c.shards[shardFor(quote.Contract.Key(), c.workers)]
			select {
			case shard <- quote:
			default:
				// Shard backlog: shed the tick rather than block siblings.
				infra.GlobalMetrics.RecordDroppedQuote()
			}
		}
	}
}

// shardFor maps a contract key to a worker index. The mapping is stable, so
// all quotes for one contract are serialized through the same worker.
func shardFor(contractKey string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(contractKey))
	return int(h.Sum32() % uint32(workers))
}

func (c *Coordinator) worker(ctx context.Context, shard <-chan domain.Quote) {
	defer c.wg.Done()
	for quote := range shard {
		c.safeProcess(ctx, quote)
	}
}

// safeProcess confines a panic to the quote that caused it so one bad
// contract cannot take down the pool.
func (c *Coordinator) safeProcess(ctx context.Context, quote domain.Quote) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker panic recovered",
				slog.String("contract", quote.Contract.Key()),
				slog.Any("panic", r),
			)
		}
	}()
	c.processQuote(ctx, quote)
}

// processQuote runs one quote through the full decision pipeline.
func (c *Coordinator) processQuote(ctx context.Context, quote domain.Quote) {
	start := c.now()
	defer func() {
		infra.GlobalMetrics.RecordQuote(c.now().Sub(start).Nanoseconds())
	}()

	analytics, err := c.pricer.Compute(quote, start)
	if err != nil {
		infra.GlobalMetrics.RecordPricingSkip()
		slog.Debug("Pricing skipped",
			slog.String("contract", quote.Contract.Key()),
			slog.Any("error", err),
		)
		return
	}

	signal := c.gate.Evaluate(ctx, analytics)
	if !signal.Action.IsTrade() {
		return
	}

	order, err := c.buildOrder(signal, quote)
	if err != nil {
		slog.Debug("No order for signal",
			slog.String("contract", quote.Contract.Key()),
			slog.String("action", string(signal.Action)),
			slog.Any("error", err),
		)
		return
	}

	if !c.authorizeAndCreate(signal, quote, order) {
		return
	}

	slog.Info("Order created",
		slog.String("order_id", order.ID),
		slog.String("contract", order.Contract.Key()),
		slog.String("side", string(order.Side)),
		slog.Int64("qty", order.Quantity),
		slog.String("limit", order.LimitPrice.String()),
	)

	c.dispatch(ctx, order.ID)
}

// authorizeAndCreate runs the risk check and order creation as one critical
// section per underlying, so the guard's snapshot cannot go stale between
// the check and the insert.
func (c *Coordinator) authorizeAndCreate(signal domain.Signal, quote domain.Quote, order *domain.Order) bool {
	lock := c.symbolLock(quote.Symbol)
	lock.Lock()
	defer lock.Unlock()

	position := c.book.Position(quote.Contract.Key())
	openOrders := c.book.OpenOrders(quote.Symbol)

	decision := c.guard.Authorize(signal, &position, openOrders, order.Notional())
	if !decision.Approved {
		infra.GlobalMetrics.RecordDenial()
		slog.Info("Order denied",
			slog.String("contract", quote.Contract.Key()),
			slog.String("action", string(signal.Action)),
			slog.String("reason", string(decision.Reason)),
			slog.String("detail", decision.Detail),
		)
		return false
	}

	if err := c.book.CreateOrder(order); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			infra.GlobalMetrics.RecordDenial()
			return false
		}
		slog.Error("Failed to create order", slog.Any("error", err))
		return false
	}
	return true
}

func (c *Coordinator) symbolLock(symbol string) *sync.Mutex {
	c.symMu.Lock()
	defer c.symMu.Unlock()
	mu, ok := c.symbols[symbol]
	if !ok {
		mu = &sync.Mutex{}
		c.symbols[symbol] = mu
	}
	return mu
}

// buildOrder translates an approved-able signal into an order intent.
func (c *Coordinator) buildOrder(signal domain.Signal, quote domain.Quote) (*domain.Order, error) {
	mid := quote.Mid()
	if !mid.IsPositive() {
		return nil, fmt.Errorf("no usable limit price for %s", quote.Contract.Key())
	}

	var side domain.OrderSide
	qty := c.qty

	switch signal.Action {
	case domain.ActionOpenLong:
		side = domain.SideBuy
	case domain.ActionOpenShort:
		side = domain.SideSell
	case domain.ActionClose:
		position := c.book.Position(quote.Contract.Key())
		if position.IsFlat() {
			return nil, fmt.Errorf("close signal with flat position")
		}
		if position.Quantity > 0 {
			side = domain.SideSell
			qty = position.Quantity
		} else {
			side = domain.SideBuy
			qty = -position.Quantity
		}
	default:
		return nil, fmt.Errorf("action %s carries no order", signal.Action)
	}

	return &domain.Order{
		ID:         uuid.NewString(),
		Contract:   quote.Contract,
		Side:       side,
		Quantity:   qty,
		LimitPrice: mid,
		State:      domain.OrderStatePending,
		CreatedAt:  c.now().UTC(),
	}, nil
}

// dispatch submits an order to the broker with bounded retry. Transient
// errors back off and retry up to the attempt budget; permanent errors
// reject immediately. Every terminal outcome is persisted.
func (c *Coordinator) dispatch(ctx context.Context, orderID string) {
	err := c.book.Mutate(orderID, func(o *domain.Order) error {
		o.State = domain.OrderStateSubmitted
		o.SubmittedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		slog.Error("Failed to mark order submitted", slog.String("order_id", orderID), slog.Any("error", err))
		return
	}

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		order, ok := c.book.Order(orderID)
		if !ok {
			return
		}

		venueID, err := c.broker.Submit(ctx, &order)
		if err == nil {
			if err := c.book.Mutate(orderID, func(o *domain.Order) error {
				o.VenueOrderID = venueID
				return nil
			}); err != nil {
				// The venue id lands again with the first broker event.
				slog.Warn("Failed to persist venue order id",
					slog.String("order_id", orderID), slog.Any("error", err))
			}
			infra.GlobalMetrics.RecordOrderSubmitted()
			slog.Info("Order submitted",
				slog.String("order_id", orderID),
				slog.String("venue_order_id", venueID),
				slog.Int("attempt", attempt),
			)
			return
		}

		if !domain.IsRetriable(err) {
			if c.persistTerminal(ctx, orderID, func(o *domain.Order) error {
				o.State = domain.OrderStateRejected
				o.LastError = err.Error()
				return nil
			}) {
				slog.Warn("Order rejected by broker",
					slog.String("order_id", orderID),
					slog.Any("error", err),
				)
			}
			return
		}

		if err := c.book.Mutate(orderID, func(o *domain.Order) error {
			o.RetryCount = attempt
			o.LastError = err.Error()
			return nil
		}); err != nil {
			slog.Warn("Failed to record submit attempt",
				slog.String("order_id", orderID), slog.Any("error", err))
		}

		if attempt == c.retry.MaxAttempts {
			break
		}

		infra.GlobalMetrics.RecordSubmitRetry()
		delay := c.retry.Backoff.Delay(attempt)
		slog.Warn("Broker submit failed, retrying",
			slog.String("order_id", orderID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		if err := c.sleepFn(ctx, delay); err != nil {
			break
		}
	}

	if c.persistTerminal(ctx, orderID, func(o *domain.Order) error {
		o.State = domain.OrderStateFailed
		return nil
	}) {
		infra.GlobalMetrics.RecordOrderFailed()
		slog.Error("Order failed, retry budget exhausted", slog.String("order_id", orderID))
	}
}

// persistTerminal drives an order to a terminal state, retrying store
// failures: a Rejected or Failed order is not resolved until it is written.
// Returns false when the transition is refused or the context ends first.
func (c *Coordinator) persistTerminal(ctx context.Context, orderID string, fn func(*domain.Order) error) bool {
	for attempt := 1; ; attempt++ {
		err := c.book.Mutate(orderID, fn)
		if err == nil {
			return true
		}
		if errors.Is(err, domain.ErrUnknownOrder) || errors.Is(err, domain.ErrInvalidTransition) {
			slog.Error("Terminal transition refused",
				slog.String("order_id", orderID), slog.Any("error", err))
			return false
		}
		slog.Error("Failed to persist terminal order state, retrying",
			slog.String("order_id", orderID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if c.sleepFn(ctx, c.retry.Backoff.Delay(attempt)) != nil {
			return false
		}
	}
}

// CancelOrder asks the venue to withdraw one open order. Orders that never
// reached the venue are cancelled locally; venue cancels follow the same
// transient/permanent split as submits. The CANCELLED state itself lands
// through the broker's cancel ack event, and a cancel losing the race to a
// fill is resolved in the fill's favor by the state machine.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string) error {
	order, ok := c.book.Order(orderID)
	if !ok {
		return domain.ErrUnknownOrder
	}
	if order.State.IsTerminal() {
		return nil
	}
	if order.VenueOrderID == "" {
		return c.persistCancelLocal(ctx, orderID)
	}

	var err error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err = c.broker.Cancel(ctx, order.VenueOrderID); err == nil {
			return nil
		}
		if !domain.IsRetriable(err) {
			// Typically the order resolved at the venue first; the event
			// stream or the next restart reconciliation converges it.
			slog.Warn("Cancel refused by broker",
				slog.String("order_id", orderID), slog.Any("error", err))
			return err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}
		if sleepErr := c.sleepFn(ctx, c.retry.Backoff.Delay(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}

func (c *Coordinator) persistCancelLocal(ctx context.Context, orderID string) error {
	if c.persistTerminal(ctx, orderID, func(o *domain.Order) error {
		o.State = domain.OrderStateCancelled
		return nil
	}) {
		return nil
	}
	return fmt.Errorf("local cancel of %s not persisted", orderID)
}

// CancelOpenOrders withdraws every open order and waits for the venue's
// cancel acks to land, bounded by ctx. Used on shutdown so no resting order
// outlives the process unsupervised.
func (c *Coordinator) CancelOpenOrders(ctx context.Context) {
	open := c.book.AllOpenOrders()
	for _, order := range open {
		if err := c.CancelOrder(ctx, order.ID); err != nil {
			slog.Warn("Shutdown cancel failed",
				slog.String("order_id", order.ID), slog.Any("error", err))
		}
	}
	for _, order := range open {
		for {
			o, ok := c.book.Order(order.ID)
			if !ok || o.State.IsTerminal() {
				break
			}
			if c.sleepFn(ctx, 10*time.Millisecond) != nil {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reconcile restores persisted state and converges it with the broker's
// view. Broker-reported state wins. Must complete before Run.
func (c *Coordinator) Reconcile(ctx context.Context, store domain.Store) error {
	orders, err := store.OpenOrders()
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	positions, err := store.Positions()
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	c.book.Restore(orders, positions)

	brokerOrders, err := c.broker.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("query broker orders: %w", err)
	}

	for _, order := range orders {
		status, known := brokerOrders[order.VenueOrderID]
		if !known || order.VenueOrderID == "" {
			// Never reached the venue, or the venue no longer knows it.
			if err := c.book.Mutate(order.ID, func(o *domain.Order) error {
				o.State = domain.OrderStateFailed
				o.LastError = "unknown at broker after restart"
				return nil
			}); err != nil {
				slog.Error("Reconcile failed to close orphan order",
					slog.String("order_id", order.ID), slog.Any("error", err))
			}
			continue
		}
		c.adoptBrokerState(order, status)
	}

	slog.Info("Startup reconciliation complete",
		slog.Int("orders", len(orders)),
		slog.Int("positions", len(positions)),
		slog.Int("broker_orders", len(brokerOrders)),
	)
	return nil
}

// adoptBrokerState converges one local order to the broker's snapshot,
// synthesizing the events the process missed while down. Missed fills are
// booked at the order's limit price.
func (c *Coordinator) adoptBrokerState(order *domain.Order, status domain.BrokerOrderStatus) {
	now := c.now().UTC()

	if missing := status.FilledQty - order.FilledQty; missing > 0 {
		evType := domain.BrokerEventPartialFill
		if status.FilledQty == order.Quantity {
			evType = domain.BrokerEventFill
		}
		if err := c.book.ApplyEvent(domain.BrokerEvent{
			Type:         evType,
			OrderID:      order.ID,
			VenueOrderID: status.VenueOrderID,
			Quantity:     missing,
			Price:        order.LimitPrice,
			Timestamp:    now,
		}); err != nil {
			slog.Error("Reconcile failed to adopt fills",
				slog.String("order_id", order.ID), slog.Any("error", err))
			return
		}
	}

	switch status.State {
	case domain.OrderStateAcknowledged:
		if order.State == domain.OrderStateSubmitted {
			c.book.ApplyEvent(domain.BrokerEvent{
				Type:         domain.BrokerEventAck,
				OrderID:      order.ID,
				VenueOrderID: status.VenueOrderID,
				Timestamp:    now,
			})
		}
	case domain.OrderStateCancelled:
		c.book.ApplyEvent(domain.BrokerEvent{
			Type:         domain.BrokerEventCancelAck,
			OrderID:      order.ID,
			VenueOrderID: status.VenueOrderID,
			Timestamp:    now,
		})
	case domain.OrderStateRejected:
		c.book.ApplyEvent(domain.BrokerEvent{
			Type:         domain.BrokerEventReject,
			OrderID:      order.ID,
			VenueOrderID: status.VenueOrderID,
			Reason:       "rejected at broker while down",
			Timestamp:    now,
		})
	}
}
