package broker

import (
	"context"
	"testing"
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

func simOrderFixture(id string, qty int64) *domain.Order {
	return &domain.Order{
		ID: id,
		Contract: domain.ContractID{
			Underlying: "SPY",
			Strike:     decimal.NewFromInt(480),
			Expiry:     time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC),
			Right:      domain.RightCall,
		},
		Side:       domain.SideBuy,
		Quantity:   qty,
		LimitPrice: decimal.NewFromFloat(3.50),
		State:      domain.OrderStateSubmitted,
	}
}

func collectEvents(t *testing.T, ch <-chan domain.BrokerEvent, n int) []domain.BrokerEvent {
	t.Helper()
	events := make([]domain.BrokerEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d of %d", len(events), n)
		}
	}
	return events
}

func TestSimBroker_AckThenFill(t *testing.T) {
	sim := NewSimBroker()
	defer sim.Close()

	venueID, err := sim.Submit(context.Background(), simOrderFixture("ord-1", 10))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if venueID == "" {
		t.Fatal("expected venue order id")
	}

	events := collectEvents(t, sim.Events(), 2)

	if events[0].Type != domain.BrokerEventAck {
		t.Errorf("first event = %v, want ACK", events[0].Type)
	}
	if events[1].Type != domain.BrokerEventFill {
		t.Errorf("second event = %v, want FILL", events[1].Type)
	}
	if events[1].Quantity != 10 {
		t.Errorf("fill qty = %d, want 10", events[1].Quantity)
	}
	if events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Errorf("sequences = %d,%d, want 1,2", events[0].Sequence, events[1].Sequence)
	}
}

func TestSimBroker_PartialFills(t *testing.T) {
	sim := NewSimBroker(WithPartialFills(3))
	defer sim.Close()

	if _, err := sim.Submit(context.Background(), simOrderFixture("ord-1", 9)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	events := collectEvents(t, sim.Events(), 4) // ack + 3 fills

	var total int64
	for _, ev := range events[1:] {
		total += ev.Quantity
	}
	if total != 9 {
		t.Errorf("total filled = %d, want 9", total)
	}
	if events[len(events)-1].Type != domain.BrokerEventFill {
		t.Errorf("last event = %v, want FILL", events[len(events)-1].Type)
	}
	for _, ev := range events[1 : len(events)-1] {
		if ev.Type != domain.BrokerEventPartialFill {
			t.Errorf("intermediate event = %v, want PARTIAL_FILL", ev.Type)
		}
	}
}

func TestSimBroker_TransientFailures(t *testing.T) {
	sim := NewSimBroker(WithTransientFailures("ord-1", 2))
	defer sim.Close()

	order := simOrderFixture("ord-1", 5)

	for i := 0; i < 2; i++ {
		_, err := sim.Submit(context.Background(), order)
		if err == nil {
			t.Fatalf("attempt %d: expected transient failure", i+1)
		}
		if !domain.IsRetriable(err) {
			t.Errorf("attempt %d: error should be retriable, got %v", i+1, err)
		}
	}

	if _, err := sim.Submit(context.Background(), order); err != nil {
		t.Fatalf("third attempt should succeed, got %v", err)
	}
}

func TestSimBroker_PermanentFailure(t *testing.T) {
	sim := NewSimBroker(WithPermanentFailure("ord-1"))
	defer sim.Close()

	_, err := sim.Submit(context.Background(), simOrderFixture("ord-1", 5))
	if err == nil {
		t.Fatal("expected permanent failure")
	}
	if domain.IsRetriable(err) {
		t.Errorf("error should not be retriable: %v", err)
	}
}

func TestSimBroker_Cancel(t *testing.T) {
	sim := NewSimBroker(WithFillDelay(time.Hour)) // keep the order open
	defer sim.Close()

	venueID, err := sim.Submit(context.Background(), simOrderFixture("ord-1", 5))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	events := collectEvents(t, sim.Events(), 1)
	if events[0].Type != domain.BrokerEventAck {
		t.Fatalf("first event = %v, want ACK", events[0].Type)
	}

	if err := sim.Cancel(context.Background(), venueID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	events = collectEvents(t, sim.Events(), 1)
	if events[0].Type != domain.BrokerEventCancelAck {
		t.Errorf("event = %v, want CANCEL_ACK", events[0].Type)
	}

	if err := sim.Cancel(context.Background(), "sim-999999"); err == nil {
		t.Error("cancel of unknown order should fail")
	}
}

func TestSimBroker_DuplicateEvents(t *testing.T) {
	sim := NewSimBroker(WithDuplicateEvents())
	defer sim.Close()

	if _, err := sim.Submit(context.Background(), simOrderFixture("ord-1", 5)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	events := collectEvents(t, sim.Events(), 4) // (ack, fill) each twice
	if events[0].Sequence != events[1].Sequence {
		t.Errorf("duplicate should repeat the sequence, got %d and %d",
			events[0].Sequence, events[1].Sequence)
	}
}

func TestSimBroker_OpenOrdersSnapshot(t *testing.T) {
	sim := NewSimBroker()
	defer sim.Close()

	venueID, err := sim.Submit(context.Background(), simOrderFixture("ord-1", 10))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	collectEvents(t, sim.Events(), 2) // wait for the fill

	orders, err := sim.OpenOrders(context.Background())
	if err != nil {
		t.Fatalf("OpenOrders failed: %v", err)
	}
	status, ok := orders[venueID]
	if !ok {
		t.Fatal("filled order should remain visible in the snapshot")
	}
	if status.State != domain.OrderStateFilled || status.FilledQty != 10 {
		t.Errorf("status = %+v, want FILLED/10", status)
	}
}
