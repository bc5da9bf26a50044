package strategy

import (
	"context"
	"testing"
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

func analyticsWithIV(iv float64) domain.Analytics {
	return domain.Analytics{
		Contract: domain.ContractID{
			Underlying: "SPY",
			Strike:     decimal.NewFromInt(480),
			Expiry:     time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC),
			Right:      domain.RightCall,
		},
		ImpliedVol:      iv,
		SourceQuoteTime: time.Now(),
	}
}

func feed(t *testing.T, s *IVReversionScorer, ivs ...float64) domain.Signal {
	t.Helper()
	var last domain.Signal
	for _, iv := range ivs {
		var err error
		last, err = s.Score(context.Background(), analyticsWithIV(iv))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
	}
	return last
}

func TestIVReversion_HoldsDuringWarmup(t *testing.T) {
	s := NewIVReversionScorer(5, 0.15)

	for i := 0; i < 5; i++ {
		signal, err := s.Score(context.Background(), analyticsWithIV(0.25))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if signal.Action != domain.ActionHold {
			t.Errorf("observation %d: action = %v, want HOLD during warmup", i, signal.Action)
		}
	}
}

func TestIVReversion_ShortsRichVol(t *testing.T) {
	s := NewIVReversionScorer(4, 0.15)

	// Four stable observations, then a 40% spike.
	signal := feed(t, s, 0.25, 0.25, 0.25, 0.25, 0.35)

	if signal.Action != domain.ActionOpenShort {
		t.Errorf("action = %v, want OPEN_SHORT on a vol spike", signal.Action)
	}
	if signal.Confidence <= 0 || signal.Confidence > 1 {
		t.Errorf("confidence = %v, want (0, 1]", signal.Confidence)
	}
	if signal.ModelVersion != "iv-reversion-v1" {
		t.Errorf("model version = %q", signal.ModelVersion)
	}
}

func TestIVReversion_BuysCheapVol(t *testing.T) {
	s := NewIVReversionScorer(4, 0.15)

	signal := feed(t, s, 0.25, 0.25, 0.25, 0.25, 0.15)

	if signal.Action != domain.ActionOpenLong {
		t.Errorf("action = %v, want OPEN_LONG on a vol crush", signal.Action)
	}
}

func TestIVReversion_ClosesNearMean(t *testing.T) {
	s := NewIVReversionScorer(4, 0.15)

	signal := feed(t, s, 0.25, 0.25, 0.25, 0.25, 0.25)

	if signal.Action != domain.ActionClose {
		t.Errorf("action = %v, want CLOSE at the mean", signal.Action)
	}
}

func TestIVReversion_HoldsInBand(t *testing.T) {
	s := NewIVReversionScorer(4, 0.15)

	// ~8% above the mean: outside the close band, inside the trade band.
	signal := feed(t, s, 0.25, 0.25, 0.25, 0.25, 0.27)

	if signal.Action != domain.ActionHold {
		t.Errorf("action = %v, want HOLD inside the band", signal.Action)
	}
}

func TestIVReversion_ContractsAreIndependent(t *testing.T) {
	s := NewIVReversionScorer(3, 0.15)

	// Warm one contract up fully.
	feed(t, s, 0.25, 0.25, 0.25)

	other := analyticsWithIV(0.60)
	other.Contract.Strike = decimal.NewFromInt(500)

	signal, err := s.Score(context.Background(), other)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if signal.Action != domain.ActionHold {
		t.Errorf("fresh contract must warm up independently, got %v", signal.Action)
	}
}

func TestIVReversion_RollingWindowForgets(t *testing.T) {
	s := NewIVReversionScorer(3, 0.15)

	// The window rolls forward: after three 0.40 readings the old 0.25
	// regime is forgotten and 0.40 sits at the mean.
	signal := feed(t, s, 0.25, 0.25, 0.25, 0.40, 0.40, 0.40, 0.40)

	if signal.Action != domain.ActionClose {
		t.Errorf("action = %v, want CLOSE once the window adapts", signal.Action)
	}
}

func BenchmarkIVReversionScore(b *testing.B) {
	s := NewIVReversionScorer(64, 0.15)
	analytics := analyticsWithIV(0.25)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analytics.ImpliedVol = 0.2 + float64(i%10)*0.01
		s.Score(ctx, analytics)
	}
}
