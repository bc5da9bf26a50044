package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a normalized option quote. Immutable once created; a newer quote
// for the same contract supersedes it, older ones are discarded.
type Quote struct {
	Symbol          string          `json:"symbol"` // underlying ticker
	Contract        ContractID      `json:"contract"`
	Bid             decimal.Decimal `json:"bid"`
	Ask             decimal.Decimal `json:"ask"`
	Last            decimal.Decimal `json:"last"`
	UnderlyingPrice decimal.Decimal `json:"underlying_price"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, falling back to last when one side is empty.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Last
}

// Analytics holds derived pricing figures for one contract. Recomputed on
// every fresh quote, never persisted mid-flight.
type Analytics struct {
	Contract        ContractID `json:"contract"`
	ImpliedVol      float64    `json:"implied_vol"`
	Delta           float64    `json:"delta"`
	Gamma           float64    `json:"gamma"`
	Theta           float64    `json:"theta"`
	Vega            float64    `json:"vega"`
	UnderlyingPrice float64    `json:"underlying_price"`
	Mid             float64    `json:"mid"`
	TimeToExpiry    float64    `json:"time_to_expiry"` // year fraction
	ComputedAt      time.Time  `json:"computed_at"`
	SourceQuoteTime time.Time  `json:"source_quote_time"`
}
