// Package circuit protects the bucket client from hammering a B2 endpoint
// that has started failing: once enough recent calls have failed the
// breaker trips open and fails calls immediately, giving the endpoint a
// timeout window to recover before probing it again.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three states a CircuitBreaker moves through.
type State int

const (
	// StateClosed lets bucket calls through and counts their outcomes.
	StateClosed State = iota
	// StateOpen rejects every bucket call immediately without attempting it.
	StateOpen
	// StateHalfOpen lets a bounded number of probe calls through to test
	// whether the bucket endpoint has recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes one breaker guarding a single bucket endpoint.
type Config struct {
	// MaxRequests caps how many probe calls are allowed through per
	// half-open window before further calls are rejected.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is how often the closed-state failure tally resets, so a
	// handful of failures from an hour ago don't linger and trip the
	// breaker alongside a fresh one.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open before allowing a
	// half-open probe call.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides, from the closed-state tally, whether the next
	// failure should open the breaker. Defaults to defaultReadyToTrip.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange, if set, is called whenever the breaker transitions.
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether a call's error counts as a failure.
	// Defaults to treating any non-nil error as a failure.
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts tallies a breaker's calls since the last reset (a closed-state
// interval rollover, or a state transition).
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	LastActivity         time.Time
}

// CircuitBreaker guards one named bucket endpoint.
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker builds a breaker named name (passed to OnStateChange
// callbacks and returned by Name), filling unset Config fields
// with sane defaults for a flaky remote bucket endpoint.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// defaultReadyToTrip opens the breaker once at least 20 calls have been
// made in the current interval and at least half of them failed.
func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// ErrOpenState is returned in place of calling fn when the breaker is open.
var ErrOpenState = errors.New("circuit breaker is open: bucket endpoint unavailable")

// ErrTooManyRequests is returned when a half-open breaker has already let
// through its MaxRequests probe calls for this window.
var ErrTooManyRequests = errors.New("circuit breaker half-open: too many probe calls in flight")

// ExecuteWithContext runs fn if the breaker's state allows a bucket call
// right now, records the outcome, and returns fn's error (or ErrOpenState /
// ErrTooManyRequests if the call was rejected before it ran).
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	if state == StateOpen {
		return ErrOpenState
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return ErrTooManyRequests
	}

	cb.counts.onRequest()
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()
	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState advances the state machine for the passage of time (closed
// interval rollover, open timeout elapsing into half-open) and returns the
// resulting state. Callers hold cb.mu.
func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState reports the breaker's current state, advancing it for elapsed
// time first (an open breaker past its Timeout reports HalfOpen).
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(time.Now())
}

// Name returns the breaker's name, as passed to NewCircuitBreaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}
