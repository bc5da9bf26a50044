package risk

import (
	"sync"
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

// DenyReason explains why an authorization was refused.
type DenyReason string

const (
	DenyExposureLimit    DenyReason = "EXPOSURE_LIMIT"
	DenyConcurrencyLimit DenyReason = "CONCURRENCY_LIMIT"
	DenyCooldown         DenyReason = "COOLDOWN"
	DenyInvalidAction    DenyReason = "INVALID_ACTION"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Approved bool
	Reason   DenyReason
	Detail   string
}

func approved() Decision {
	return Decision{Approved: true}
}

func denied(reason DenyReason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Limits are the configured risk constraints.
type Limits struct {
	MaxNotionalPerSymbol   decimal.Decimal
	MaxOpenOrdersPerSymbol int
	Cooldown               time.Duration
}

// Guard is the stateful risk checker consulted before every order action.
// It owns the per-symbol cooldown clock; position and open-order snapshots
// are supplied by the caller, which re-checks authorization atomically with
// order creation.
type Guard struct {
	limits Limits
	now    func() time.Time

	mu            sync.Mutex
	cooldownUntil map[string]time.Time
}

// NewGuard creates a risk guard with static limits.
func NewGuard(limits Limits) *Guard {
	return &Guard{
		limits:        limits,
		now:           time.Now,
		cooldownUntil: make(map[string]time.Time),
	}
}

// Authorize decides whether a signal may become an order. orderNotional is
// the limit notional of the prospective order.
func (g *Guard) Authorize(signal domain.Signal, position *domain.Position, openOrders []*domain.Order, orderNotional decimal.Decimal) Decision {
	if !signal.Action.IsTrade() {
		return denied(DenyInvalidAction, "action "+string(signal.Action)+" requires no order")
	}

	if signal.Action == domain.ActionClose && (position == nil || position.IsFlat()) {
		return denied(DenyInvalidAction, "close with no position")
	}

	openCount := 0
	for _, o := range openOrders {
		if o.IsOpen() {
			openCount++
		}
	}
	if openCount >= g.limits.MaxOpenOrdersPerSymbol {
		return denied(DenyConcurrencyLimit, "open orders at limit")
	}

	if signal.Action == domain.ActionOpenLong || signal.Action == domain.ActionOpenShort {
		if until, ok := g.cooldownFor(signal.Contract.Underlying); ok {
			return denied(DenyCooldown, "cooling down until "+until.Format(time.RFC3339))
		}

		exposure := orderNotional
		if position != nil {
			exposure = exposure.Add(position.Notional())
		}
		for _, o := range openOrders {
			if o.IsOpen() {
				exposure = exposure.Add(o.Notional())
			}
		}
		if exposure.GreaterThan(g.limits.MaxNotionalPerSymbol) {
			return denied(DenyExposureLimit, "exposure "+exposure.String()+" exceeds "+g.limits.MaxNotionalPerSymbol.String())
		}
	}

	return approved()
}

// NotifyClosed starts the per-symbol cooldown after a trade closes.
func (g *Guard) NotifyClosed(symbol string, at time.Time) {
	if g.limits.Cooldown <= 0 {
		return
	}
	g.mu.Lock()
	g.cooldownUntil[symbol] = at.Add(g.limits.Cooldown)
	g.mu.Unlock()
}

func (g *Guard) cooldownFor(symbol string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	until, ok := g.cooldownUntil[symbol]
	if !ok {
		return time.Time{}, false
	}
	if g.now().After(until) {
		delete(g.cooldownUntil, symbol)
		return time.Time{}, false
	}
	return until, true
}
