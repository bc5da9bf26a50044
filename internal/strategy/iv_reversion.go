package strategy

import (
	"context"
	"math"
	"sync"

	"option_bot/internal/domain"
)

// IVReversionScorer is the builtin fallback policy: a deterministic implied
// volatility mean-reversion rule usable when no model server is deployed.
// It keeps a per-contract ring buffer of recent IV observations and trades
// the deviation from the rolling mean.
// OPTIMIZED: the ring buffer is fixed-size, no allocation per tick.
type IVReversionScorer struct {
	window int
	band   float64 // relative deviation that triggers a trade

	mu    sync.Mutex
	books map[string]*ivWindow
}

type ivWindow struct {
	values []float64
	head   int // current write position
	count  int // number of elements filled
	sum    float64
}

// NewIVReversionScorer creates the rule scorer. window is the number of
// observations before the rule starts trading; band is the relative
// deviation threshold (e.g. 0.15 trades on a 15% departure from the mean).
func NewIVReversionScorer(window int, band float64) *IVReversionScorer {
	if window < 2 {
		panic("IVReversionScorer: window must be at least 2")
	}
	return &IVReversionScorer{
		window: window,
		band:   band,
		books:  make(map[string]*ivWindow),
	}
}

// Score implements domain.Scorer. It never errors: insufficient history and
// in-band readings yield hold.
func (s *IVReversionScorer) Score(ctx context.Context, analytics domain.Analytics) (domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := analytics.Contract.Key()
	w, ok := s.books[key]
	if !ok {
		w = &ivWindow{values: make([]float64, s.window)}
		s.books[key] = w
	}

	// Mean of the window before this observation.
	var mean float64
	warmedUp := w.count == s.window
	if warmedUp {
		mean = w.sum / float64(s.window)
	}

	w.push(analytics.ImpliedVol)

	signal := domain.Signal{
		Action:       domain.ActionHold,
		ModelVersion: "iv-reversion-v1",
	}
	if !warmedUp || mean <= 0 {
		return signal, nil
	}

	deviation := (analytics.ImpliedVol - mean) / mean
	switch {
	case deviation > s.band:
		// Vol rich: sell it.
		signal.Action = domain.ActionOpenShort
	case deviation < -s.band:
		// Vol cheap: buy it.
		signal.Action = domain.ActionOpenLong
	case math.Abs(deviation) < s.band/4:
		// Back near the mean: take profits on whatever is open. The risk
		// guard drops this when there is no position.
		signal.Action = domain.ActionClose
	}

	if signal.Action != domain.ActionHold {
		confidence := math.Abs(deviation) / (2 * s.band)
		if signal.Action == domain.ActionClose {
			confidence = 1 - math.Abs(deviation)/s.band
		}
		signal.Confidence = clamp01(confidence)
	}
	return signal, nil
}

// push adds one observation to the ring buffer.
func (w *ivWindow) push(v float64) {
	if w.count == len(w.values) {
		// Full: the head slot holds the oldest value.
		w.sum -= w.values[w.head]
	}
	w.values[w.head] = v
	w.sum += v
	w.head = (w.head + 1) % len(w.values)
	if w.count < len(w.values) {
		w.count++
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
