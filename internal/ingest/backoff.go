package ingest

import "time"

// Backoff produces reconnect delays that double from a base up to a cap.
// It is not safe for concurrent use.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, current: base}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset returns to the base delay after a successful connection.
func (b *Backoff) Reset() {
	b.current = b.base
}
