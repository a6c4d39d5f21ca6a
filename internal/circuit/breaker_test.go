package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exec(cb *CircuitBreaker, err error) error {
	return cb.ExecuteWithContext(context.Background(), func(context.Context) error {
		return err
	})
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{})

	assert.Equal(t, "b2-bucket", cb.name)
	assert.Equal(t, StateClosed, cb.state)
	assert.Equal(t, uint32(1), cb.config.MaxRequests)
	assert.Equal(t, 60*time.Second, cb.config.Interval)
	assert.Equal(t, 60*time.Second, cb.config.Timeout)
	assert.NotNil(t, cb.config.ReadyToTrip)
	assert.NotNil(t, cb.config.IsSuccessful)
}

func TestNewCircuitBreaker_CustomConfig(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("custom", Config{
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
	})

	assert.Equal(t, uint32(5), cb.config.MaxRequests)
	assert.Equal(t, 10*time.Second, cb.config.Interval)
	assert.Equal(t, 30*time.Second, cb.config.Timeout)
}

func TestDefaultReadyToTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		counts   Counts
		wantTrip bool
	}{
		{"not enough calls", Counts{Requests: 10, TotalFailures: 5}, false},
		{"enough calls but low failure rate", Counts{Requests: 20, TotalFailures: 8}, false},
		{"trips at 50% failure threshold", Counts{Requests: 20, TotalFailures: 10}, true},
		{"trips above threshold", Counts{Requests: 100, TotalFailures: 60}, true},
		{"zero calls", Counts{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTrip, defaultReadyToTrip(tt.counts))
		})
	}
}

func TestDefaultIsSuccessful(t *testing.T) {
	t.Parallel()

	assert.True(t, defaultIsSuccessful(nil))
	assert.False(t, defaultIsSuccessful(errors.New("remote failure")))
}

func TestCircuitBreaker_ExecuteWithContext_Success(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	})

	calls := 0
	err := cb.ExecuteWithContext(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_ExecuteWithContext_Failure(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	})

	remoteErr := errors.New("bucket call failed")
	err := exec(cb, remoteErr)

	assert.Equal(t, remoteErr, err)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestCircuitBreaker_ContextPassedThrough(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute})

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "bucket-call")
	var received any
	err := cb.ExecuteWithContext(ctx, func(receivedCtx context.Context) error {
		received = receivedCtx.Value(ctxKey{})
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "bucket-call", received)
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var stateChanges []string

	cb := NewCircuitBreaker("b2-bucket", Config{
		MaxRequests: 2,
		Interval:    100 * time.Millisecond,
		Timeout:     100 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from State, to State) {
			mu.Lock()
			defer mu.Unlock()
			stateChanges = append(stateChanges, from.String()+"->"+to.String())
		},
	})

	assert.Equal(t, StateClosed, cb.GetState())

	for i := 0; i < 3; i++ {
		_ = exec(cb, errors.New("bucket call failed"))
	}
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, exec(cb, nil))
	assert.Equal(t, StateClosed, cb.GetState())

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(stateChanges), 2)
}

func TestCircuitBreaker_OpenState_RejectsCalls(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	for i := 0; i < 2; i++ {
		_ = exec(cb, errors.New("bucket call failed"))
	}

	calls := 0
	err := cb.ExecuteWithContext(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, ErrOpenState, err)
	assert.Equal(t, 0, calls)
}

func TestCircuitBreaker_HalfOpen_TooManyCalls(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{
		MaxRequests: 1,
		Interval:    50 * time.Millisecond,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	_ = exec(cb, errors.New("bucket call failed"))
	time.Sleep(100 * time.Millisecond)

	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = cb.ExecuteWithContext(context.Background(), func(context.Context) error {
			close(started)
			<-done
			return nil
		})
	}()

	<-started
	err := exec(cb, nil)
	close(done)

	assert.Equal(t, ErrTooManyRequests, err)
}

func TestCircuitBreaker_GetState(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	_ = exec(cb, errors.New("bucket call failed"))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_Name(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket-primary", Config{})
	assert.Equal(t, "b2-bucket-primary", cb.Name())
}

func TestCounts_Operations(t *testing.T) {
	t.Parallel()

	counts := Counts{}

	counts.onRequest()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.False(t, counts.LastActivity.IsZero())

	counts.onSuccess()
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.ConsecutiveFailures)

	counts.onFailure()
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)

	counts.clear()
	assert.Zero(t, counts.Requests)
	assert.Zero(t, counts.TotalSuccesses)
	assert.Zero(t, counts.TotalFailures)
	assert.True(t, counts.LastActivity.IsZero())
}

func TestCircuitBreaker_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("b2-bucket", Config{MaxRequests: 10, Interval: time.Minute, Timeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec(cb, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(10), cb.counts.TotalSuccesses)
}
