package catalog

import (
	"sync"
	"time"
)

// breaker fails requests fast after threshold consecutive transport
// failures. After cooldown one trial request is let through; its outcome
// closes or re-opens the circuit. A zero threshold disables it.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// allow returns ErrCircuitOpen while the circuit is open or a trial is in
// flight. Every nil return must be followed by record.
func (b *breaker) allow() error {
	if b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return nil
	}

	if b.probing || b.now().Sub(b.openedAt) < b.cooldown {
		return ErrCircuitOpen
	}

	b.probing = true

	return nil
}

// record registers the outcome of one transport round trip.
func (b *breaker) record(err error) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err == nil {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}
