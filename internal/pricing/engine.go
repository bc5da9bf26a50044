package pricing

import (
	"fmt"
	"math"
	"time"

	"option_bot/internal/domain"
)

const (
	secondsPerYear = 365.25 * 24 * 3600

	// minTimeToExpiry excludes contracts in their final minutes, where the
	// solver degenerates and Greeks explode.
	minTimeToExpiry = 1e-4 // ~53 minutes in year fraction

	// maxAbsLogMoneyness excludes deep in/out-of-the-money contracts.
	maxAbsLogMoneyness = 3.0
)

// Engine computes implied volatility and Greeks from normalized quotes.
// Pure and deterministic; safe to call concurrently for independent contracts.
type Engine struct {
	rate float64 // annualized risk-free rate
}

// NewEngine creates a pricing engine with a fixed risk-free rate.
func NewEngine(riskFreeRate float64) *Engine {
	return &Engine{rate: riskFreeRate}
}

// Compute derives Analytics from a quote. Degenerate contracts (near expiry,
// extreme moneyness, price outside no-arbitrage bounds) and solver
// non-convergence are reported as errors; the caller skips the tick.
func (e *Engine) Compute(quote domain.Quote, now time.Time) (domain.Analytics, error) {
	spot, _ := quote.UnderlyingPrice.Float64()
	strike, _ := quote.Contract.Strike.Float64()
	mid, _ := quote.Mid().Float64()

	if spot <= 0 || strike <= 0 {
		return domain.Analytics{}, fmt.Errorf("%w: spot %.4f strike %.4f", domain.ErrDegenerateContract, spot, strike)
	}
	if mid <= 0 {
		return domain.Analytics{}, fmt.Errorf("%w: non-positive mid", domain.ErrDegenerateContract)
	}

	tte := quote.Contract.Expiry.Sub(quote.Timestamp).Seconds() / secondsPerYear
	if tte < minTimeToExpiry {
		return domain.Analytics{}, fmt.Errorf("%w: time to expiry %.6f", domain.ErrDegenerateContract, tte)
	}
	if m := math.Abs(math.Log(spot / strike)); m > maxAbsLogMoneyness {
		return domain.Analytics{}, fmt.Errorf("%w: log moneyness %.2f", domain.ErrDegenerateContract, m)
	}

	vol, err := ImpliedVol(quote.Contract.Right, spot, strike, tte, e.rate, mid)
	if err != nil {
		return domain.Analytics{}, err
	}

	greeks := BlackScholesGreeks(quote.Contract.Right, spot, strike, tte, e.rate, vol)
	if !sane(greeks.Delta) || !sane(greeks.Gamma) || !sane(greeks.Theta) || !sane(greeks.Vega) {
		return domain.Analytics{}, fmt.Errorf("%w: non-finite greeks", domain.ErrDegenerateContract)
	}

	return domain.Analytics{
		Contract:        quote.Contract,
		ImpliedVol:      vol,
		Delta:           greeks.Delta,
		Gamma:           greeks.Gamma,
		Theta:           greeks.Theta,
		Vega:            greeks.Vega,
		UnderlyingPrice: spot,
		Mid:             mid,
		TimeToExpiry:    tte,
		ComputedAt:      now,
		SourceQuoteTime: quote.Timestamp,
	}, nil
}

func sane(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
