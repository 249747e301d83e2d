package internal

import (
	"sync"
	"time"

	"github.com/lychee-technology/modepress"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker trips after threshold store failures inside a sliding
// window. Once the open duration has passed, a single probe call is let
// through: its success closes the breaker, its failure opens it again.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     []time.Time
	threshold    int
	window       time.Duration
	openDuration time.Duration
	openUntil    time.Time
	now          func() time.Time
}

func NewCircuitBreaker(threshold int, window, openDuration time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:    threshold,
		window:       window,
		openDuration: openDuration,
		failures:     make([]time.Time, 0, threshold),
		now:          time.Now,
	}
}

// NewCircuitBreakerFromConfig returns nil when the breaker is disabled.
// All methods accept a nil receiver, which never trips.
func NewCircuitBreakerFromConfig(cfg modepress.CircuitBreakerConfig) *CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}
	return NewCircuitBreaker(cfg.FailureThreshold, cfg.Window, cfg.OpenDuration)
}

// Allow reports whether a store call may proceed. After the open duration
// the first caller becomes the probe; others are rejected until it reports.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerOpen:
		if cb.now().Before(cb.openUntil) {
			return false
		}
		cb.state = breakerHalfOpen
		return true
	case breakerHalfOpen:
		return false
	}
	return true
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.state == breakerHalfOpen {
		cb.trip(now)
		return
	}

	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, at := range cb.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	cb.failures = append(kept, now)
	if len(cb.failures) >= cb.threshold {
		cb.trip(now)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = breakerOpen
	cb.openUntil = now.Add(cb.openDuration)
	cb.failures = cb.failures[:0]
}

// RecordSuccess closes the breaker and forgets earlier failures.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = breakerClosed
	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
}

// IsOpen reports whether calls are currently rejected without a probe.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == breakerOpen && cb.now().Before(cb.openUntil)
}
