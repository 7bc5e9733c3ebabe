package errors

import (
	"errors"
	"sync"
	"time"
)

const (
	ErrorThreshold      = 0.5
	MinRequests         = 10
	TimeoutDuration     = 30 * time.Second
	HalfOpenMaxRequests = 3
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned without calling fn while the breaker is open,
// or while half-open with every probe slot taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Counts tallies calls since the last state change.
type Counts struct {
	Requests  int
	Failures  int
	Successes int
}

func (c Counts) failureRate() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Requests)
}

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithOpenTimeout sets how long the breaker stays open before probing again.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.openTimeout = d }
}

// WithStateChange registers a callback invoked after every state change. It runs under the breaker lock.
func WithStateChange(fn func(from, to State)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// WithFailureFilter decides which errors count as failures. Caller mistakes
// such as a rejected prompt should not open the breaker.
func WithFailureFilter(fn func(error) bool) BreakerOption {
	return func(cb *CircuitBreaker) { cb.isFailure = fn }
}

// CircuitBreaker stops calling a failing dependency. Closed, it opens once
// MinRequests calls have been seen and at least ErrorThreshold of them failed.
// Open, it rejects calls for the open timeout, then lets HalfOpenMaxRequests
// probes through: one failure reopens it, all succeeding closes it.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    State
	counts   Counts
	probes   int
	openedAt time.Time

	openTimeout   time.Duration
	onStateChange func(from, to State)
	isFailure     func(error) bool
	now           func() time.Time
}

func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		openTimeout: TimeoutDuration,
		isFailure:   func(err error) bool { return err != nil },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Call runs fn unless the breaker rejects it, and returns fn's error unchanged.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err != nil && cb.isFailure(err))
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.openTimeout {
			return ErrCircuitOpen
		}
		cb.moveLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	if failed {
		cb.counts.Failures++
	} else {
		cb.counts.Successes++
	}

	switch cb.state {
	case StateHalfOpen:
		if failed {
			cb.moveLocked(StateOpen)
		} else if cb.counts.Successes >= HalfOpenMaxRequests {
			cb.moveLocked(StateClosed)
		}
	case StateClosed:
		if failed && cb.counts.Requests >= MinRequests && cb.counts.failureRate() >= ErrorThreshold {
			cb.moveLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the tallies of the current state.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) moveLocked(next State) {
	prev := cb.state
	cb.state = next
	cb.counts = Counts{}
	cb.probes = 0
	if next == StateOpen {
		cb.openedAt = cb.now()
	}
	if prev != next && cb.onStateChange != nil {
		cb.onStateChange(prev, next)
	}
}
