package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"option_bot/internal/domain"
	"option_bot/internal/infra"
)

// Gate wraps the external policy scorer. It enforces input staleness and a
// hard timeout; any failure degrades to a hold signal rather than an
// aggressive action.
type Gate struct {
	scorer    domain.Scorer
	timeout   time.Duration
	staleness time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	last map[string]domain.Signal // per contract, observability only
}

// New creates a signal gate with the given scorer timeout and quote
// staleness budget.
func New(scorer domain.Scorer, timeout, staleness time.Duration) *Gate {
	return &Gate{
		scorer:    scorer,
		timeout:   timeout,
		staleness: staleness,
		now:       time.Now,
		last:      make(map[string]domain.Signal),
	}
}

// Evaluate scores one analytics snapshot. The returned signal is always
// usable: stale inputs, scorer errors and timeouts all yield hold.
func (g *Gate) Evaluate(ctx context.Context, analytics domain.Analytics) domain.Signal {
	now := g.now()

	if age := now.Sub(analytics.SourceQuoteTime); age > g.staleness {
		infra.GlobalMetrics.RecordStaleSignal()
		slog.Debug("Stale analytics short-circuited to hold",
			slog.String("contract", analytics.Contract.Key()),
			slog.Duration("age", age),
		)
		return g.record(domain.Hold(analytics.Contract, analytics.SourceQuoteTime))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	signal, err := g.scorer.Score(ctx, analytics)
	if err != nil {
		slog.Warn("Scorer failed, holding",
			slog.String("contract", analytics.Contract.Key()),
			slog.Any("error", err),
		)
		return g.record(domain.Hold(analytics.Contract, analytics.SourceQuoteTime))
	}

	if !signal.Action.IsValid() {
		slog.Warn("Scorer returned unknown action, holding",
			slog.String("contract", analytics.Contract.Key()),
			slog.String("action", string(signal.Action)),
		)
		return g.record(domain.Hold(analytics.Contract, analytics.SourceQuoteTime))
	}

	// The gate owns identity and provenance; the scorer only owns the verdict.
	signal.Contract = analytics.Contract
	signal.SourceQuoteTime = analytics.SourceQuoteTime
	if signal.GeneratedAt.IsZero() {
		signal.GeneratedAt = now
	}
	if signal.Confidence < 0 {
		signal.Confidence = 0
	} else if signal.Confidence > 1 {
		signal.Confidence = 1
	}

	infra.GlobalMetrics.RecordSignal()
	return g.record(signal)
}

// LastSignal returns the most recent signal for a contract. Observability
// only: cached signals are never fed back into decisions.
func (g *Gate) LastSignal(contract domain.ContractID) (domain.Signal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	signal, ok := g.last[contract.Key()]
	return signal, ok
}

func (g *Gate) record(signal domain.Signal) domain.Signal {
	g.mu.Lock()
	g.last[signal.Contract.Key()] = signal
	g.mu.Unlock()
	return signal
}
