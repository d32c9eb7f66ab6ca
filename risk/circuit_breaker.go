// Package risk escalates repeated actuation failures into a session halt.
package risk

import (
	"fmt"
	"sync/atomic"
)

// ErrCircuitBreakerOpen means the session must not place further bets.
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig: a limit <= 0 disables that check.
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors counts actuation-port errors (not unregistered
	// clicks) in a row.
	MaxConsecutiveErrors int64
}

// CircuitBreaker is read on every round and written from the actuation
// path, so everything is atomic.
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveErrors    atomic.Int64
	maxConsecutiveErrors atomic.Int64
	lastErr              atomic.Value // string
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
}

// Halt opens the breaker manually.
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume closes the breaker and clears the error streak.
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Allow returns ErrCircuitBreakerOpen once halted or over the limit.
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}
	return nil
}

func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

func (cb *CircuitBreaker) OnError(err error) {
	if cb == nil {
		return
	}
	if err != nil {
		cb.lastErr.Store(err.Error())
	}
	cb.consecutiveErrors.Add(1)
}

func (cb *CircuitBreaker) ConsecutiveErrors() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}

// LastError is the message of the most recent recorded error.
func (cb *CircuitBreaker) LastError() string {
	if cb == nil {
		return ""
	}
	s, _ := cb.lastErr.Load().(string)
	return s
}
