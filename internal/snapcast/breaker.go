package snapcast

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker implements a simple Transient-error policy: 5 consecutive
// failures opens the breaker for 1s, after which a single half-open probe
// is allowed through. No circuit-breaker library appears anywhere in the
// retrieved corpus (see DESIGN.md), so this is hand-rolled.
type circuitBreaker struct {
	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	openedAt         time.Time

	failThreshold int
	openDuration  time.Duration
	now           func() time.Time
}

func newCircuitBreaker(failThreshold int, openDuration time.Duration) *circuitBreaker {
	if failThreshold <= 0 {
		failThreshold = 5
	}
	if openDuration <= 0 {
		openDuration = time.Second
	}
	return &circuitBreaker{
		failThreshold: failThreshold,
		openDuration:  openDuration,
		now:           time.Now,
	}
}

// Allow reports whether a call may proceed right now. A half-open probe
// consumes the single allowed attempt until RecordResult is called.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.openDuration {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		return false // a probe is already in flight
	}
	return true
}

// RecordResult updates the breaker after a call completes.
func (b *circuitBreaker) RecordResult(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.consecutiveFails = 0
		b.state = breakerClosed
		return
	}

	b.consecutiveFails++
	if b.state == breakerHalfOpen || b.consecutiveFails >= b.failThreshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}
