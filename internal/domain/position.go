package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the confirmed holding in one contract. Quantity is signed:
// positive long, negative short. Mutated only on confirmed fills, never on
// order submission.
type Position struct {
	Symbol       string          `json:"symbol"`
	Contract     ContractID      `json:"contract"`
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	OpenedAt     time.Time       `json:"opened_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsFlat reports whether the position holds no contracts.
func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}

// Notional returns the absolute notional value at the average price.
func (p *Position) Notional() decimal.Decimal {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return p.AveragePrice.Mul(decimal.NewFromInt(qty))
}

// ApplyFill folds a confirmed fill into the position and returns the updated
// copy. Buy fills add quantity, sell fills subtract.
func (p Position) ApplyFill(side OrderSide, qty int64, price decimal.Decimal, at time.Time) Position {
	signed := qty
	if side == SideSell {
		signed = -qty
	}

	prev := p.Quantity
	next := prev + signed

	switch {
	case prev == 0:
		p.AveragePrice = price
		p.OpenedAt = at
	case (prev > 0) == (signed > 0):
		// Same direction: blend the average entry price.
		prevAbs := decimal.NewFromInt(absInt64(prev))
		addAbs := decimal.NewFromInt(absInt64(signed))
		total := prevAbs.Add(addAbs)
		if total.IsPositive() {
			p.AveragePrice = p.AveragePrice.Mul(prevAbs).Add(price.Mul(addAbs)).Div(total)
		}
	case next == 0:
		p.AveragePrice = decimal.Zero
	case (prev > 0) != (next > 0):
		// Crossed through flat: remainder opens at the fill price.
		p.AveragePrice = price
		p.OpenedAt = at
	}

	p.Quantity = next
	p.UpdatedAt = at
	return p
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
