package infra

import "time"

// Backoff is a bounded exponential backoff policy.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the given retry attempt (0-based):
// Base·2^attempt, capped at Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// defaultReconnectBackoff governs feed reconnect delays.
var defaultReconnectBackoff = Backoff{Base: time.Second, Cap: 30 * time.Second}

// CalculateBackoff returns the reconnect delay for the given retry count.
func CalculateBackoff(retryCount int) time.Duration {
	return defaultReconnectBackoff.Delay(retryCount)
}
