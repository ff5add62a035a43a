package orchestrator

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultReconnectMin = time.Second
	DefaultReconnectMax = 60 * time.Second
)

// backoff doubles from min up to max, each delay jittered by ±25%.
type backoff struct {
	min, max time.Duration
	next     time.Duration
	attempt  int
}

func newBackoff(min, max time.Duration) *backoff {
	b := &backoff{min: min, max: max}
	b.Reset()
	return b
}

func (b *backoff) Reset() {
	b.next = b.min
	b.attempt = 0
}

func (b *backoff) Attempt() int {
	return b.attempt
}

func (b *backoff) Next() time.Duration {
	b.attempt++
	if b.next <= 0 {
		return 0
	}

	delay := b.next
	b.next = min(b.next*2, b.max)

	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}
