package risk

import (
	"testing"
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

func testLimits() Limits {
	return Limits{
		MaxNotionalPerSymbol:   decimal.NewFromInt(25000),
		MaxOpenOrdersPerSymbol: 1,
		Cooldown:               60 * time.Second,
	}
}

func testContract() domain.ContractID {
	return domain.ContractID{
		Underlying: "SPY",
		Strike:     decimal.NewFromInt(480),
		Expiry:     time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC),
		Right:      domain.RightCall,
	}
}

func openSignal() domain.Signal {
	return domain.Signal{
		Action:     domain.ActionOpenLong,
		Confidence: 0.9,
		Contract:   testContract(),
	}
}

func TestGuard_ApprovesOpenWithinLimits(t *testing.T) {
	g := NewGuard(testLimits())

	decision := g.Authorize(openSignal(), nil, nil, decimal.NewFromInt(350))
	if !decision.Approved {
		t.Fatalf("expected approval, denied: %s (%s)", decision.Reason, decision.Detail)
	}
}

func TestGuard_DeniesHold(t *testing.T) {
	g := NewGuard(testLimits())

	signal := openSignal()
	signal.Action = domain.ActionHold

	decision := g.Authorize(signal, nil, nil, decimal.Zero)
	if decision.Approved || decision.Reason != DenyInvalidAction {
		t.Errorf("decision = %+v, want InvalidAction denial", decision)
	}
}

func TestGuard_DeniesCloseWithoutPosition(t *testing.T) {
	g := NewGuard(testLimits())

	signal := openSignal()
	signal.Action = domain.ActionClose

	decision := g.Authorize(signal, nil, nil, decimal.Zero)
	if decision.Approved || decision.Reason != DenyInvalidAction {
		t.Errorf("decision = %+v, want InvalidAction denial", decision)
	}

	flat := &domain.Position{Symbol: "SPY", Quantity: 0}
	decision = g.Authorize(signal, flat, nil, decimal.Zero)
	if decision.Approved || decision.Reason != DenyInvalidAction {
		t.Errorf("decision with flat position = %+v, want InvalidAction denial", decision)
	}
}

func TestGuard_AllowsCloseWithPosition(t *testing.T) {
	g := NewGuard(testLimits())

	signal := openSignal()
	signal.Action = domain.ActionClose
	pos := &domain.Position{Symbol: "SPY", Quantity: 10, AveragePrice: decimal.NewFromFloat(3.5)}

	decision := g.Authorize(signal, pos, nil, decimal.NewFromInt(35))
	if !decision.Approved {
		t.Errorf("close with live position should be approved, got %+v", decision)
	}
}

func TestGuard_ConcurrencyLimit(t *testing.T) {
	g := NewGuard(testLimits())

	inflight := &domain.Order{
		ID:         "ord-1",
		State:      domain.OrderStateSubmitted,
		Quantity:   10,
		LimitPrice: decimal.NewFromFloat(3.5),
	}

	decision := g.Authorize(openSignal(), nil, []*domain.Order{inflight}, decimal.NewFromInt(350))
	if decision.Approved || decision.Reason != DenyConcurrencyLimit {
		t.Errorf("decision = %+v, want ConcurrencyLimit denial", decision)
	}
}

func TestGuard_TerminalOrdersDoNotCount(t *testing.T) {
	g := NewGuard(testLimits())

	done := &domain.Order{ID: "ord-1", State: domain.OrderStateFilled}

	decision := g.Authorize(openSignal(), nil, []*domain.Order{done}, decimal.NewFromInt(350))
	if !decision.Approved {
		t.Errorf("terminal orders must not count toward the limit, got %+v", decision)
	}
}

func TestGuard_ExposureLimit(t *testing.T) {
	g := NewGuard(testLimits())

	pos := &domain.Position{
		Symbol:       "SPY",
		Quantity:     100,
		AveragePrice: decimal.NewFromInt(240),
	}

	// 24,000 held plus 3,500 requested breaches the 25,000 cap.
	decision := g.Authorize(openSignal(), pos, nil, decimal.NewFromInt(3500))
	if decision.Approved || decision.Reason != DenyExposureLimit {
		t.Errorf("decision = %+v, want ExposureLimit denial", decision)
	}

	// Right at the cap passes.
	decision = g.Authorize(openSignal(), pos, nil, decimal.NewFromInt(1000))
	if !decision.Approved {
		t.Errorf("exposure at the cap should be approved, got %+v", decision)
	}
}

func TestGuard_Cooldown(t *testing.T) {
	g := NewGuard(testLimits())

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.NotifyClosed("SPY", now)

	decision := g.Authorize(openSignal(), nil, nil, decimal.NewFromInt(350))
	if decision.Approved || decision.Reason != DenyCooldown {
		t.Errorf("decision = %+v, want Cooldown denial", decision)
	}

	// Close actions bypass the cooldown.
	signal := openSignal()
	signal.Action = domain.ActionClose
	pos := &domain.Position{Symbol: "SPY", Quantity: 5, AveragePrice: decimal.NewFromFloat(3.5)}
	decision = g.Authorize(signal, pos, nil, decimal.NewFromInt(17))
	if !decision.Approved {
		t.Errorf("close during cooldown should be approved, got %+v", decision)
	}

	// Cooldown expires.
	now = now.Add(61 * time.Second)
	decision = g.Authorize(openSignal(), nil, nil, decimal.NewFromInt(350))
	if !decision.Approved {
		t.Errorf("open after cooldown should be approved, got %+v", decision)
	}
}
