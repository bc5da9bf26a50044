package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionRight is the contract right: call or put.
type OptionRight string

const (
	RightCall OptionRight = "C"
	RightPut  OptionRight = "P"
)

// IsValid reports whether the right is a known value.
func (r OptionRight) IsValid() bool {
	return r == RightCall || r == RightPut
}

// ContractID uniquely identifies an option instrument.
type ContractID struct {
	Underlying string          `json:"underlying"`
	Strike     decimal.Decimal `json:"strike"`
	Expiry     time.Time       `json:"expiry"`
	Right      OptionRight     `json:"right"`
}

// Key returns a stable string form used as map key and storage primary key.
// Format mirrors the OCC option ticker: UNDERLYING|YYMMDD|R|STRIKE_MILLI.
func (c ContractID) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d",
		c.Underlying,
		c.Expiry.UTC().Format("060102"),
		c.Right,
		c.Strike.Shift(3).IntPart(),
	)
}

func (c ContractID) String() string {
	return c.Key()
}

// ParseContractKey reverses Key(). Used when loading persisted records.
func ParseContractKey(key string) (ContractID, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 4 {
		return ContractID{}, fmt.Errorf("%w: contract key %q", ErrInvalidContract, key)
	}
	expiry, err := time.ParseInLocation("060102", parts[1], time.UTC)
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: expiry in %q", ErrInvalidContract, key)
	}
	right := OptionRight(parts[2])
	if !right.IsValid() {
		return ContractID{}, fmt.Errorf("%w: right in %q", ErrInvalidContract, key)
	}
	strikeMilli, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || strikeMilli < 0 {
		return ContractID{}, fmt.Errorf("%w: strike in %q", ErrInvalidContract, key)
	}
	return ContractID{
		Underlying: parts[0],
		Expiry:     expiry,
		Right:      right,
		Strike:     decimal.New(strikeMilli, -3),
	}, nil
}

// ParseOptionTicker parses an OCC-style option ticker as reported by the
// market data venue, e.g. "O:SPY251219C00480000" (strike in thousandths).
func ParseOptionTicker(ticker string) (ContractID, error) {
	s := strings.TrimPrefix(ticker, "O:")
	// Shortest legal ticker: 1-char underlying + 6-digit date + right + 8-digit strike.
	if len(s) < 16 {
		return ContractID{}, fmt.Errorf("%w: option ticker %q", ErrInvalidContract, ticker)
	}
	strikeStr := s[len(s)-8:]
	right := OptionRight(s[len(s)-9 : len(s)-8])
	dateStr := s[len(s)-15 : len(s)-9]
	underlying := s[:len(s)-15]

	if underlying == "" || !right.IsValid() {
		return ContractID{}, fmt.Errorf("%w: option ticker %q", ErrInvalidContract, ticker)
	}
	expiry, err := time.ParseInLocation("060102", dateStr, time.UTC)
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: expiry in %q", ErrInvalidContract, ticker)
	}
	strikeMilli, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: strike in %q", ErrInvalidContract, ticker)
	}
	return ContractID{
		Underlying: underlying,
		Expiry:     expiry,
		Right:      right,
		Strike:     decimal.New(strikeMilli, -3),
	}, nil
}
