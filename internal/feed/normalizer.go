package feed

import (
	"time"

	"option_bot/internal/domain"

	"github.com/shopspring/decimal"
)

// Normalize converts a raw venue quote into a canonical domain.Quote.
// Stateless and deterministic: the same raw message always yields the same
// Quote. Validation failures return a *domain.MalformedQuoteError.
func Normalize(raw RawQuote) (domain.Quote, error) {
	contract, err := domain.ParseOptionTicker(raw.Ticker)
	if err != nil {
		return domain.Quote{}, &domain.MalformedQuoteError{Field: "ticker", Reason: err.Error()}
	}

	bid, err := parsePrice(raw.Bid, "bid")
	if err != nil {
		return domain.Quote{}, err
	}
	ask, err := parsePrice(raw.Ask, "ask")
	if err != nil {
		return domain.Quote{}, err
	}
	if bid.GreaterThan(ask) {
		return domain.Quote{}, &domain.MalformedQuoteError{Field: "bid", Reason: "bid above ask"}
	}

	underlying, err := parsePrice(raw.UnderlyingPrice, "underlying_price")
	if err != nil {
		return domain.Quote{}, err
	}
	if !underlying.IsPositive() {
		return domain.Quote{}, &domain.MalformedQuoteError{Field: "underlying_price", Reason: "must be positive"}
	}

	// Last trade is optional; many contracts tick without prints.
	last := decimal.Zero
	if raw.Last != "" {
		last, err = parsePrice(raw.Last, "last")
		if err != nil {
			return domain.Quote{}, err
		}
	}

	if raw.Timestamp <= 0 {
		return domain.Quote{}, &domain.MalformedQuoteError{Field: "timestamp", Reason: "missing"}
	}

	return domain.Quote{
		Symbol:          contract.Underlying,
		Contract:        contract,
		Bid:             bid,
		Ask:             ask,
		Last:            last,
		UnderlyingPrice: underlying,
		Timestamp:       time.UnixMilli(raw.Timestamp).UTC(),
	}, nil
}

func parsePrice(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, &domain.MalformedQuoteError{Field: field, Reason: "missing"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &domain.MalformedQuoteError{Field: field, Reason: "not numeric"}
	}
	if d.IsNegative() {
		return decimal.Zero, &domain.MalformedQuoteError{Field: field, Reason: "negative"}
	}
	return d, nil
}
