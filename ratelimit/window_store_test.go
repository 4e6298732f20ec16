package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock measured in milliseconds since the epoch.
type fakeClock struct {
	ms atomic.Int64
}

func (c *fakeClock) Now() time.Time   { return time.UnixMilli(c.ms.Load()) }
func (c *fakeClock) Set(ms int64)     { c.ms.Store(ms) }
func (c *fakeClock) Advance(ms int64) { c.ms.Add(ms) }

func newTestStore(clock *fakeClock, opts ...Option) *WindowStore {
	return NewWindowStore(append([]Option{WithClock(clock.Now)}, opts...)...)
}

func TestWindowStore_AdmitsAtMostLimit(t *testing.T) {
	for _, tc := range []struct{ n, limit int }{{1, 3}, {3, 3}, {10, 3}, {7, 1}} {
		t.Run(fmt.Sprintf("n=%d limit=%d", tc.n, tc.limit), func(t *testing.T) {
			clock := &fakeClock{}
			store := newTestStore(clock)

			var outcomes []bool
			for i := 0; i < tc.n; i++ {
				res, err := store.Admit("k", tc.limit, time.Second)
				require.NoError(t, err)
				outcomes = append(outcomes, res.Allowed)
			}

			admitted := min(tc.n, tc.limit)
			for i, ok := range outcomes {
				assert.Equal(t, i < admitted, ok, "request %d", i)
			}
		})
	}
}

func TestWindowStore_Slides(t *testing.T) {
	clock := &fakeClock{}
	store := newTestStore(clock)
	const limit = 3
	w := 1000 * time.Millisecond

	for i := 0; i < 3; i++ {
		res, err := store.Admit("k", limit, w)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Count)
	}

	clock.Set(100)
	res, err := store.Admit("k", limit, w)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, int64(1000), res.ResetAt.UnixMilli())

	clock.Set(1001)
	res, err = store.Admit("k", limit, w)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Count, "stamps from t=0 have aged out")
}

func TestWindowStore_RejectionDoesNotRecord(t *testing.T) {
	clock := &fakeClock{}
	store := newTestStore(clock)

	_, _ = store.Admit("k", 1, time.Second)
	for i := 0; i < 5; i++ {
		res, _ := store.Admit("k", 1, time.Second)
		assert.False(t, res.Allowed)
	}

	clock.Set(1000)
	res, err := store.Admit("k", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "rejected attempts must not extend the window")
}

func TestWindowStore_CheckAndRecord(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(5000)
	store := newTestStore(clock)

	res, err := store.Check("k", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, int64(6000), res.ResetAt.UnixMilli(), "empty window resets one window from now")

	res, _ = store.Check("k", 2, time.Second)
	assert.Equal(t, 0, res.Count, "Check never appends")

	require.NoError(t, store.Record("k", time.Second))
	clock.Advance(200)
	require.NoError(t, store.Record("k", time.Second))

	res, _ = store.Check("k", 2, time.Second)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, int64(6000), res.ResetAt.UnixMilli(), "reset follows the oldest surviving record")
}

func TestWindowStore_InvalidRule(t *testing.T) {
	store := NewWindowStore()

	_, err := store.Admit("k", 0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidRule)
	_, err = store.Check("k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.ErrorIs(t, store.Record("k", -time.Second), ErrInvalidRule)
}

func TestWindowStore_ConcurrentAdmitNeverOverAdmits(t *testing.T) {
	store := NewWindowStore(WithShards(4))
	const (
		limit      = 10
		goroutines = 200
	)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := store.Admit("hot", limit, time.Minute)
			if err == nil && res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestWindowStore_KeysAreIndependent(t *testing.T) {
	store := NewWindowStore()

	res, _ := store.Admit("a", 1, time.Minute)
	assert.True(t, res.Allowed)
	res, _ = store.Admit("a", 1, time.Minute)
	assert.False(t, res.Allowed)

	res, _ = store.Admit("b", 1, time.Minute)
	assert.True(t, res.Allowed)
}

func TestWindowStore_SweepRemovesIdleKeys(t *testing.T) {
	clock := &fakeClock{}
	store := newTestStore(clock, WithRetention(time.Hour))

	_, _ = store.Admit("old", 5, time.Minute)
	clock.Set((30 * time.Minute).Milliseconds())
	_, _ = store.Admit("recent", 5, time.Minute)
	assert.Equal(t, 2, store.Len())

	clock.Set((61 * time.Minute).Milliseconds())
	removed := store.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	res, _ := store.Check("recent", 5, 2*time.Hour)
	assert.Equal(t, 1, res.Count, "surviving key keeps its records")
}

func TestWindowStore_SweepKeepsWindowsLongerThanRetention(t *testing.T) {
	clock := &fakeClock{}
	store := newTestStore(clock, WithRetention(time.Hour))

	res, err := store.Admit("k", 1, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clock.Set((61 * time.Minute).Milliseconds())
	assert.Equal(t, 0, store.Sweep(), "record at t=0 is still inside the 2h window")

	res, err = store.Admit("k", 1, 2*time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.Count)

	clock.Set((2*time.Hour + time.Millisecond).Milliseconds())
	assert.Equal(t, 1, store.Sweep())
}

func TestWindowStore_RunStopsOnCancel(t *testing.T) {
	clock := &fakeClock{}
	store := newTestStore(clock, WithRetention(time.Millisecond))
	_, _ = store.Admit("k", 1, time.Millisecond)
	clock.Set(10)

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		store.Run(ctx, 5*time.Millisecond, func(removed int) {
			select {
			case swept <- removed:
			default:
			}
		})
		close(done)
	}()

	select {
	case n := <-swept:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, 0, store.Len())
}
