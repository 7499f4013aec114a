// Package resilience provides reliability patterns for calls to metric
// platforms: a circuit breaker per channel and an exponential retry policy.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker implements a circuit breaker pattern for protecting external calls.
// It tracks consecutive failures and opens the circuit when a threshold is reached,
// preventing further calls until a timeout elapses.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	// a cancelled caller says nothing about the remote side
	if err != nil && errors.Is(err, context.Canceled) {
		if b.state == stateHalfOpen {
			b.state = stateOpen
		}
		return err
	}
	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			return "half-open"
		}
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// Set holds one breaker per key, created on first use with shared settings.
type Set struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
}

// NewSet creates an empty breaker set.
func NewSet(maxFailures int, timeout time.Duration) *Set {
	return &Set{breakers: make(map[string]*Breaker), maxFailures: maxFailures, timeout: timeout}
}

// For returns the breaker for key.
func (s *Set) For(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.maxFailures, s.timeout)
		s.breakers[key] = b
	}
	return b
}

// Remove forgets the breaker for key.
func (s *Set) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, key)
}

// States returns the state of every breaker by key.
func (s *Set) States() map[string]string {
	s.mu.Lock()
	keys := make(map[string]*Breaker, len(s.breakers))
	for k, b := range s.breakers {
		keys[k] = b
	}
	s.mu.Unlock()

	out := make(map[string]string, len(keys))
	for k, b := range keys {
		out[k] = b.State()
	}
	return out
}
