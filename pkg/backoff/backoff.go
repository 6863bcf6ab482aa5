package backoff

import (
	"math/rand"
	"time"
)

// Backoff describes exponential retry delays.
type Backoff struct {
	// Min is the first delay.
	Min time.Duration `json:"min" yaml:"min"`
	// Max caps every delay.
	Max time.Duration `json:"max" yaml:"max"`
	// Factor multiplies the delay for each retry attempt.
	Factor float64 `json:"factor" yaml:"factor"`
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64 `json:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`
}

// Default is used for gateway retries: 1s doubling up to 60s.
func Default() Backoff {
	return Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Reconnect provides conservative stream reconnect defaults.
func Reconnect() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before the given retry attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	if min > max {
		min = max
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
