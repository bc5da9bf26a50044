package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// BrokerError wraps a broker adapter failure and carries the
// transient/permanent split that drives the retry policy.
type BrokerError struct {
	Op        string // operation that failed (e.g. "submit", "cancel")
	Err       error  // underlying error
	Retriable bool   // transient (timeouts, 5xx) vs permanent (rejects)
}

func (e *BrokerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *BrokerError) IsRetriable() bool {
	return e.Retriable
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewTransientBrokerError creates a retriable broker error
func NewTransientBrokerError(op string, err error) *BrokerError {
	return &BrokerError{Op: op, Err: err, Retriable: true}
}

// NewPermanentBrokerError creates a non-retriable broker error
func NewPermanentBrokerError(op string, err error) *BrokerError {
	return &BrokerError{Op: op, Err: err, Retriable: false}
}

// MalformedQuoteError describes a raw venue message that failed validation.
// Always dropped and logged, never fatal.
type MalformedQuoteError struct {
	Field  string
	Reason string
}

func (e *MalformedQuoteError) Error() string {
	return "malformed quote [" + e.Field + "]: " + e.Reason
}

func (e *MalformedQuoteError) IsRetriable() bool {
	return false
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrNoConvergence is returned when the implied vol solver exhausts its
	// iteration budget. The contract is skipped for that tick.
	ErrNoConvergence = errors.New("implied volatility did not converge")

	// ErrDegenerateContract is returned for contracts whose Greeks cannot be
	// computed sanely (expired, mid below intrinsic, extreme moneyness).
	ErrDegenerateContract = errors.New("degenerate contract")

	// ErrInvalidContract is returned when a contract identifier is malformed.
	ErrInvalidContract = errors.New("invalid contract")

	// ErrScorerTimeout is returned when the policy scorer misses its deadline.
	ErrScorerTimeout = errors.New("scorer timeout")

	// ErrStaleQuote is returned when analytics exceed the staleness budget.
	ErrStaleQuote = errors.New("stale quote")

	// ErrDuplicateOrder is returned when a contract already has an open order.
	ErrDuplicateOrder = errors.New("open order already exists for contract")

	// ErrUnknownOrder is returned for events referencing no known order.
	ErrUnknownOrder = errors.New("order not found")

	// ErrInvalidTransition is returned for illegal order state transitions.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrInvalidFill is returned when a fill exceeds the remaining quantity.
	ErrInvalidFill = errors.New("invalid fill quantity")
)
