package azure

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits base * n before the n-th retry
type linearBackOff struct {
	base    time.Duration
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

// NextBackOff returns the delay before the next attempt
func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

// Reset restarts the sequence
func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// newRetryPolicy allows one linear delay per attempt. The delay after the final
// attempt is only taken when that attempt was rate limited; the operation then
// stops the loop without calling the API again.
func newRetryPolicy(base time.Duration, maxAttempts int) backoff.BackOff {
	return backoff.WithMaxRetries(&linearBackOff{base: base}, uint64(max(maxAttempts, 1)))
}
