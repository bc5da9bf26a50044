package pricing

import (
	"math"

	"option_bot/internal/domain"
)

// Greeks holds the sensitivity measures of an option price.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// BlackScholesPrice returns the Black-Scholes price of a European option.
// spot and strike must be positive, tte is the time to expiry in years.
func BlackScholesPrice(right domain.OptionRight, spot, strike, tte, rate, vol float64) float64 {
	if tte <= 0 {
		// Expired: price collapses to intrinsic value.
		if right == domain.RightCall {
			return math.Max(spot-strike, 0)
		}
		return math.Max(strike-spot, 0)
	}

	sqrtT := math.Sqrt(tte)
	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*tte) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	discount := math.Exp(-rate * tte)

	if right == domain.RightCall {
		return spot*normCDF(d1) - strike*discount*normCDF(d2)
	}
	return strike*discount*normCDF(-d2) - spot*normCDF(-d1)
}

// BlackScholesGreeks returns delta, gamma, theta (per year) and vega
// (per unit of volatility) for the given inputs.
func BlackScholesGreeks(right domain.OptionRight, spot, strike, tte, rate, vol float64) Greeks {
	sqrtT := math.Sqrt(tte)
	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*tte) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	discount := math.Exp(-rate * tte)
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: pdf / (spot * vol * sqrtT),
		Vega:  spot * pdf * sqrtT,
	}

	if right == domain.RightCall {
		g.Delta = normCDF(d1)
		g.Theta = -spot*pdf*vol/(2*sqrtT) - rate*strike*discount*normCDF(d2)
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = -spot*pdf*vol/(2*sqrtT) + rate*strike*discount*normCDF(-d2)
	}
	return g
}

// intrinsicBounds returns the no-arbitrage lower and upper price bounds.
func intrinsicBounds(right domain.OptionRight, spot, strike, tte, rate float64) (lower, upper float64) {
	discount := math.Exp(-rate * tte)
	if right == domain.RightCall {
		return math.Max(spot-strike*discount, 0), spot
	}
	return math.Max(strike*discount-spot, 0), strike * discount
}
