package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	defaultPollInterval = 2 * time.Second
	httpTimeout         = 10 * time.Second
)

// HTTPBroker talks to the brokerage REST API. Submits and cancels are
// synchronous REST calls; the asynchronous event stream is synthesized by
// polling order status and diffing against the last seen snapshot, with
// locally assigned per-order sequence numbers.
type HTTPBroker struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger

	events chan domain.BrokerEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tracked map[string]*trackedOrder // by venue order id
}

type trackedOrder struct {
	orderID string
	seq     uint64
	filled  int64
	state   domain.OrderState
}

// NewHTTPBroker creates a REST broker client and starts its status poller.
func NewHTTPBroker(baseURL, accessKey, secretKey string) *HTTPBroker {
	b := &HTTPBroker{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:  NewSigner(accessKey, secretKey),
		logger:  slog.Default().With("module", "broker_http"),
		events:  make(chan domain.BrokerEvent, 256),
		tracked: make(map[string]*trackedOrder),
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.pollLoop(ctx)
	return b
}

type placeOrderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Contract      string `json:"contract"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	LimitPrice    string `json:"limit_price"`
}

type placeOrderResponse struct {
	Code    string `json:"code"`
	Msg     string `json:"msg"`
	OrderID string `json:"order_id"`
}

// Submit places a limit order. Network failures and 5xx responses are
// transient; 4xx responses are permanent rejects.
func (b *HTTPBroker) Submit(ctx context.Context, order *domain.Order) (string, error) {
	reqBody := placeOrderRequest{
		ClientOrderID: order.ID,
		Contract:      order.Contract.Key(),
		Side:          string(order.Side),
		Quantity:      order.Quantity,
		LimitPrice:    order.LimitPrice.String(),
	}

	resp, body, err := b.doRequest(ctx, http.MethodPost, "/v1/orders", reqBody)
	if err != nil {
		return "", domain.NewTransientBrokerError("submit", err)
	}

	if resp.StatusCode >= 500 {
		return "", domain.NewTransientBrokerError("submit",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.NewPermanentBrokerError("submit",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}

	var parsed placeOrderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", domain.NewTransientBrokerError("submit", fmt.Errorf("parse response: %w", err))
	}
	if parsed.OrderID == "" {
		return "", domain.NewPermanentBrokerError("submit", fmt.Errorf("no order id: %s", parsed.Msg))
	}

	b.mu.Lock()
	b.tracked[parsed.OrderID] = &trackedOrder{orderID: order.ID}
	b.mu.Unlock()

	return parsed.OrderID, nil
}

// Cancel requests cancellation of a live order.
func (b *HTTPBroker) Cancel(ctx context.Context, venueOrderID string) error {
	resp, body, err := b.doRequest(ctx, http.MethodDelete, "/v1/orders/"+venueOrderID, nil)
	if err != nil {
		return domain.NewTransientBrokerError("cancel", err)
	}
	if resp.StatusCode >= 500 {
		return domain.NewTransientBrokerError("cancel",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewPermanentBrokerError("cancel",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}
	return nil
}

// Events streams synthesized broker events.
func (b *HTTPBroker) Events() <-chan domain.BrokerEvent {
	return b.events
}

type orderStatusResponse struct {
	Orders []orderStatus `json:"orders"`
}

type orderStatus struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	State         string `json:"state"`
	FilledQty     int64  `json:"filled_qty"`
	AvgPrice      string `json:"avg_price"`
	Reason        string `json:"reason"`
}

// OpenOrders fetches the broker-side order snapshot.
func (b *HTTPBroker) OpenOrders(ctx context.Context) (map[string]domain.BrokerOrderStatus, error) {
	resp, body, err := b.doRequest(ctx, http.MethodGet, "/v1/orders", nil)
	if err != nil {
		return nil, domain.NewTransientBrokerError("open_orders", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewTransientBrokerError("open_orders",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}

	var parsed orderStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	out := make(map[string]domain.BrokerOrderStatus, len(parsed.Orders))
	for _, o := range parsed.Orders {
		out[o.OrderID] = domain.BrokerOrderStatus{
			VenueOrderID: o.OrderID,
			State:        domain.ParseOrderState(o.State),
			FilledQty:    o.FilledQty,
		}
	}
	return out, nil
}

// pollLoop diffs venue order status into the event stream.
func (b *HTTPBroker) pollLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

func (b *HTTPBroker) poll(ctx context.Context) {
	resp, body, err := b.doRequest(ctx, http.MethodGet, "/v1/orders", nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		b.logger.Warn("Order status poll failed", slog.Any("error", err))
		return
	}

	var parsed orderStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		b.logger.Warn("Order status poll parse failed", slog.Any("error", err))
		return
	}

	for _, status := range parsed.Orders {
		b.diff(status)
	}
}

// diff emits the events implied by one status snapshot against the last
// tracked state for that order.
func (b *HTTPBroker) diff(status orderStatus) {
	b.mu.Lock()
	tracked, ok := b.tracked[status.OrderID]
	if !ok {
		// Order from a previous process run; reconciliation owns it.
		b.mu.Unlock()
		return
	}

	var out []domain.BrokerEvent
	emit := func(ev domain.BrokerEvent) {
		tracked.seq++
		ev.Sequence = tracked.seq
		ev.OrderID = tracked.orderID
		ev.VenueOrderID = status.OrderID
		ev.Timestamp = time.Now().UTC()
		out = append(out, ev)
	}

	state := domain.ParseOrderState(status.State)

	if tracked.state == domain.OrderStateUnknown && state != domain.OrderStateUnknown {
		emit(domain.BrokerEvent{Type: domain.BrokerEventAck})
		tracked.state = domain.OrderStateAcknowledged
	}

	if delta := status.FilledQty - tracked.filled; delta > 0 {
		price, err := decimal.NewFromString(status.AvgPrice)
		if err != nil {
			price = decimal.Zero
		}
		evType := domain.BrokerEventPartialFill
		if state == domain.OrderStateFilled {
			evType = domain.BrokerEventFill
		}
		emit(domain.BrokerEvent{Type: evType, Quantity: delta, Price: price})
		tracked.filled = status.FilledQty
		tracked.state = state
	}

	switch state {
	case domain.OrderStateRejected:
		if tracked.state != domain.OrderStateRejected {
			emit(domain.BrokerEvent{Type: domain.BrokerEventReject, Reason: status.Reason})
			tracked.state = state
		}
	case domain.OrderStateCancelled:
		if tracked.state != domain.OrderStateCancelled {
			emit(domain.BrokerEvent{Type: domain.BrokerEventCancelAck})
			tracked.state = state
		}
	}

	if state.IsTerminal() {
		delete(b.tracked, status.OrderID)
	}
	b.mu.Unlock()

	for _, ev := range out {
		select {
		case b.events <- ev:
		default:
			b.logger.Warn("Broker event buffer full, dropping",
				slog.String("order_id", ev.OrderID),
				slog.String("event", ev.Type.String()),
			)
		}
	}
}

func (b *HTTPBroker) doRequest(ctx context.Context, method, path string, reqBody any) (*http.Response, []byte, error) {
	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, nil, err
	}
	for k, v := range b.signer.GenerateHeaders(method, path, "", string(bodyBytes)) {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, respBody, nil
}

// Close stops the poller and closes the event stream.
func (b *HTTPBroker) Close() {
	b.cancel()
	b.wg.Wait()
	close(b.events)
}
