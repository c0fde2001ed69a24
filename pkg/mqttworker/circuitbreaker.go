package mqttworker

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

// circuitBreaker trips the publish path open after a run of consecutive
// failures, and probes recovery after a cooldown (§4.6: "open after F
// consecutive failures, half-open after T").
type circuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state           breakerState
	consecutiveFail int
	openedAt        time.Time
}

func newCircuitBreaker(failureThreshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a publish attempt may proceed right now, moving
// an open breaker into half-open once its cooldown has elapsed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		return true
	default: // breakerOpen
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker and resets its failure count.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.consecutiveFail = 0
}

// RecordFailure trips the breaker open once the threshold is reached; a
// failure while half-open re-opens it immediately.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}
	b.consecutiveFail++
	if b.consecutiveFail >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

func (b *circuitBreaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
