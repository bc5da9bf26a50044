package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	quotesProcessed atomic.Uint64
	quotesMalformed atomic.Uint64
	quotesDropped   atomic.Uint64
	pricingSkipped  atomic.Uint64
	signalsScored   atomic.Uint64
	signalsStale    atomic.Uint64
	ordersDenied    atomic.Uint64
	ordersSubmitted atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersFailed    atomic.Uint64
	submitRetries   atomic.Uint64
	duplicateEvents atomic.Uint64

	// Latency tracking (quote to decision)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	openOrders atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordQuote records a processed quote with its decision latency.
func (m *Metrics) RecordQuote(latencyNs int64) {
	m.quotesProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordMalformedQuote records a quote dropped by the normalizer.
func (m *Metrics) RecordMalformedQuote() {
	m.quotesMalformed.Add(1)
}

// RecordDroppedQuote records a quote dropped on inbox overflow.
func (m *Metrics) RecordDroppedQuote() {
	m.quotesDropped.Add(1)
}

// RecordPricingSkip records a tick skipped by the pricing engine.
func (m *Metrics) RecordPricingSkip() {
	m.pricingSkipped.Add(1)
}

// RecordSignal records a scored signal.
func (m *Metrics) RecordSignal() {
	m.signalsScored.Add(1)
}

// RecordStaleSignal records a signal short-circuited to hold by staleness.
func (m *Metrics) RecordStaleSignal() {
	m.signalsStale.Add(1)
}

// RecordDenial records a risk guard denial.
func (m *Metrics) RecordDenial() {
	m.ordersDenied.Add(1)
}

// RecordOrderSubmitted records a successful broker dispatch.
func (m *Metrics) RecordOrderSubmitted() {
	m.ordersSubmitted.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderFailed records an order that exhausted its retry budget.
func (m *Metrics) RecordOrderFailed() {
	m.ordersFailed.Add(1)
}

// RecordSubmitRetry records a retried broker dispatch.
func (m *Metrics) RecordSubmitRetry() {
	m.submitRetries.Add(1)
}

// RecordDuplicateEvent records a deduplicated broker event.
func (m *Metrics) RecordDuplicateEvent() {
	m.duplicateEvents.Add(1)
}

// SetOpenOrders sets the current open order count.
func (m *Metrics) SetOpenOrders(count int32) {
	m.openOrders.Store(count)
}

// AddOpenOrders adjusts the open order gauge by delta.
func (m *Metrics) AddOpenOrders(delta int32) {
	m.openOrders.Add(delta)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	QuotesProcessed uint64
	QuotesMalformed uint64
	QuotesDropped   uint64
	PricingSkipped  uint64
	SignalsScored   uint64
	SignalsStale    uint64
	OrdersDenied    uint64
	OrdersSubmitted uint64
	OrdersFilled    uint64
	OrdersFailed    uint64
	SubmitRetries   uint64
	DuplicateEvents uint64
	AvgLatencyNs    int64
	OpenOrders      int32
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		QuotesProcessed: m.quotesProcessed.Load(),
		QuotesMalformed: m.quotesMalformed.Load(),
		QuotesDropped:   m.quotesDropped.Load(),
		PricingSkipped:  m.pricingSkipped.Load(),
		SignalsScored:   m.signalsScored.Load(),
		SignalsStale:    m.signalsStale.Load(),
		OrdersDenied:    m.ordersDenied.Load(),
		OrdersSubmitted: m.ordersSubmitted.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		SubmitRetries:   m.submitRetries.Load(),
		DuplicateEvents: m.duplicateEvents.Load(),
		AvgLatencyNs:    avgLatency,
		OpenOrders:      m.openOrders.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.quotesProcessed.Store(0)
	m.quotesMalformed.Store(0)
	m.quotesDropped.Store(0)
	m.pricingSkipped.Store(0)
	m.signalsScored.Store(0)
	m.signalsStale.Store(0)
	m.ordersDenied.Store(0)
	m.ordersSubmitted.Store(0)
	m.ordersFilled.Store(0)
	m.ordersFailed.Store(0)
	m.submitRetries.Store(0)
	m.duplicateEvents.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.openOrders.Store(0)
}
