// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker provides a circuit breaker for calls to the management plane.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies the protected backend in callbacks and metrics.
	Name string
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// ResetTimeout is how long to wait in Open state before transitioning to HalfOpen.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in HalfOpen before closing.
	SuccessThreshold int
	// Timeout bounds every call.
	Timeout time.Duration
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu              sync.RWMutex
	config          Config
	state           State
	failures        int
	successes       int
	lastStateChange time.Time
	onStateChange   func(name string, from, to State)
	now             func() time.Time
}

// New creates a circuit breaker.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Call runs fn with a context bounded by the configured timeout if the
// circuit allows it. Context cancellation by the caller does not count as a
// failure of the backend.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.Timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() != nil {
		return err
	}

	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) > cb.config.ResetTimeout {
			cb.setState(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen, StateClosed:
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// A single failure while probing reopens the circuit.
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.config.Name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Name returns the configured backend name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// OnStateChange registers a callback for state changes. The callback runs on
// its own goroutine.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() (state State, failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.successes
}
