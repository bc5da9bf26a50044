package pricing

import (
	"fmt"
	"math"

	"option_bot/internal/domain"
)

const (
	ivMin = 1e-4
	ivMax = 5.0

	ivTolerance     = 1e-8
	ivMaxIterations = 100

	// minVegaForNewton guards the Newton step against division blowup on
	// near-zero vega; below it the solver falls back to bisection.
	minVegaForNewton = 1e-10
)

// ImpliedVol solves for the volatility that reproduces the observed price.
// Newton-Raphson on the Black-Scholes price with a bisection fallback keeps
// the iterate inside [ivMin, ivMax]; the iteration count is bounded.
func ImpliedVol(right domain.OptionRight, spot, strike, tte, rate, price float64) (float64, error) {
	lower, upper := intrinsicBounds(right, spot, strike, tte, rate)
	if price <= lower+ivTolerance || price >= upper-ivTolerance {
		return 0, fmt.Errorf("%w: price %.6f outside (%.6f, %.6f)", domain.ErrDegenerateContract, price, lower, upper)
	}

	lo, hi := ivMin, ivMax
	vol := 0.3 // standard starting guess

	for i := 0; i < ivMaxIterations; i++ {
		bs := BlackScholesPrice(right, spot, strike, tte, rate, vol)
		diff := bs - price
		if math.Abs(diff) < ivTolerance {
			return vol, nil
		}

		// Tighten the bracket around the root.
		if diff > 0 {
			hi = vol
		} else {
			lo = vol
		}

		vega := BlackScholesGreeks(right, spot, strike, tte, rate, vol).Vega
		if vega > minVegaForNewton {
			next := vol - diff/vega
			if next > lo && next < hi {
				vol = next
				continue
			}
		}
		// Newton left the bracket or vega vanished: bisect.
		vol = 0.5 * (lo + hi)
	}

	return 0, fmt.Errorf("%w: after %d iterations", domain.ErrNoConvergence, ivMaxIterations)
}
