package domain

import "time"

// SignalAction is the policy decision for one contract.
type SignalAction string

const (
	ActionHold      SignalAction = "HOLD"
	ActionOpenLong  SignalAction = "OPEN_LONG"
	ActionOpenShort SignalAction = "OPEN_SHORT"
	ActionClose     SignalAction = "CLOSE"
)

// IsValid reports whether the action is a known value.
func (a SignalAction) IsValid() bool {
	switch a {
	case ActionHold, ActionOpenLong, ActionOpenShort, ActionClose:
		return true
	default:
		return false
	}
}

// IsTrade reports whether the action requires an order.
func (a SignalAction) IsTrade() bool {
	return a == ActionOpenLong || a == ActionOpenShort || a == ActionClose
}

// Signal is a scored trade decision for one contract. It is only valid while
// its source quote is within the staleness budget.
type Signal struct {
	Contract        ContractID   `json:"contract"`
	Action          SignalAction `json:"action"`
	Confidence      float64      `json:"confidence"`
	GeneratedAt     time.Time    `json:"generated_at"`
	SourceQuoteTime time.Time    `json:"source_quote_time"`
	ModelVersion    string       `json:"model_version"`
}

// Hold returns a safe no-op signal for the contract. Used whenever the
// scorer fails, times out, or the inputs are stale.
func Hold(contract ContractID, sourceQuoteTime time.Time) Signal {
	return Signal{
		Contract:        contract,
		Action:          ActionHold,
		Confidence:      0,
		GeneratedAt:     time.Now().UTC(),
		SourceQuoteTime: sourceQuoteTime,
	}
}
