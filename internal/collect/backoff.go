package collect

import "time"

// Backoff defaults.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 5 * time.Minute
)

// Backoff is an exponential retry delay: Initial, doubling per failure,
// capped at Max, back to Initial after Reset.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff with the default policy.
func NewBackoff() *Backoff {
	return &Backoff{Initial: DefaultInitialBackoff, Max: DefaultMaxBackoff}
}

// Next returns the delay for this failure and advances the policy.
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		b.Initial = DefaultInitialBackoff
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.current == 0 {
		b.current = b.Initial
	}
	d := b.current
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset returns the policy to its initial delay.
func (b *Backoff) Reset() {
	b.current = 0
}
