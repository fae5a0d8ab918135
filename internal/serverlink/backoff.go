package serverlink

import (
	"math/rand"
	"time"
)

// maxBackoffShift caps the exponent so the shift cannot overflow.
const maxBackoffShift = 16

// backoff produces reconnection delays with exponential growth and full
// jitter: each delay is drawn uniformly from (0, ceiling], where the
// ceiling doubles per attempt up to the configured maximum.
type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int

	rng func(n int64) int64
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, rng: rand.Int63n}
}

// ceiling returns the exponential cap for the current attempt.
func (b *backoff) ceiling() time.Duration {
	shift := b.attempt
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	d := b.base << shift
	if d > b.max || d <= 0 {
		return b.max
	}
	return d
}

// Next returns the delay before the next attempt and advances the counter.
func (b *backoff) Next() time.Duration {
	c := b.ceiling()
	b.attempt++
	return time.Duration(b.rng(int64(c))) + 1
}

// Reset restarts the progression after a successful connection.
func (b *backoff) Reset() {
	b.attempt = 0
}
