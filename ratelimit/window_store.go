// file: ratelimit/window_store.go

// Package ratelimit implements the in-process sliding-window admission control
// used to guard the HTTP endpoints.
//
// Counters live only in memory and only in this process. A restart resets
// every window, and several replicas each enforce their own quota.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidRule is returned for non-positive limits or windows.
var ErrInvalidRule = errors.New("rate limit rule must have a positive limit and window")

const (
	defaultShards    = 64
	defaultRetention = time.Hour
)

// Result describes the state of one key's window at the moment of a check.
type Result struct {
	Allowed bool
	// Count is the number of records in the window before any record made by this call.
	Count     int
	Remaining int
	ResetAt   time.Time
}

// window holds the request timestamps (unix ms) of one key, oldest first.
// span is the longest window length (ms) the key has been recorded under.
type window struct {
	stamps []int64
	span   int64
}

func (w *window) add(now, span int64) {
	w.stamps = append(w.stamps, now)
	if span > w.span {
		w.span = span
	}
}

// prune drops every stamp at or before cutoff.
func (w *window) prune(cutoff int64) {
	i := 0
	for i < len(w.stamps) && w.stamps[i] <= cutoff {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.stamps, w.stamps[i:])
	w.stamps = w.stamps[:n]
}

func (w *window) newest() int64 {
	return w.stamps[len(w.stamps)-1]
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// WindowStore keeps one sliding window of request timestamps per key.
// Keys are spread over independently locked shards, so operations on a key
// are linearizable while unrelated keys rarely contend.
type WindowStore struct {
	shards    []*shard
	retention time.Duration
	now       func() time.Time
}

type Option func(*WindowStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *WindowStore) { s.now = now }
}

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(s *WindowStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// WithRetention sets how long an idle key is kept before Sweep removes it.
func WithRetention(d time.Duration) Option {
	return func(s *WindowStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{windows: make(map[string]*window)}
	}
	return shards
}

// NewWindowStore creates an empty store.
func NewWindowStore(opts ...Option) *WindowStore {
	s := &WindowStore{
		shards:    newShards(defaultShards),
		retention: defaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *WindowStore) Now() time.Time {
	return s.now()
}

func (s *WindowStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Check reports whether one more request fits into key's window without recording it.
func (s *WindowStore) Check(key string, limit int, windowLen time.Duration) (Result, error) {
	if limit <= 0 || windowLen <= 0 {
		return Result{}, ErrInvalidRule
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	res, _ := s.check(sh, key, limit, windowLen, s.now().UnixMilli())
	return res, nil
}

// Record appends a request at the current time to key's window.
func (s *WindowStore) Record(key string, windowLen time.Duration) error {
	if windowLen <= 0 {
		return ErrInvalidRule
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now().UnixMilli()
	w := sh.windows[key]
	if w == nil {
		w = &window{}
		sh.windows[key] = w
	}
	w.prune(now - windowLen.Milliseconds())
	w.add(now, windowLen.Milliseconds())
	return nil
}

// Admit checks key's window and, when the request fits, records it under the
// same lock. Concurrent callers can never over-admit a key.
func (s *WindowStore) Admit(key string, limit int, windowLen time.Duration) (Result, error) {
	if limit <= 0 || windowLen <= 0 {
		return Result{}, ErrInvalidRule
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now().UnixMilli()
	res, w := s.check(sh, key, limit, windowLen, now)
	if !res.Allowed {
		return res, nil
	}
	if w == nil {
		w = &window{}
		sh.windows[key] = w
	}
	w.add(now, windowLen.Milliseconds())
	return res, nil
}

// check prunes key's window and evaluates it. The caller holds sh.mu.
func (s *WindowStore) check(sh *shard, key string, limit int, windowLen time.Duration, now int64) (Result, *window) {
	windowMs := windowLen.Milliseconds()
	w := sh.windows[key]

	count := 0
	resetAt := now + windowMs
	if w != nil {
		w.prune(now - windowMs)
		count = len(w.stamps)
		if count > 0 {
			resetAt = w.stamps[0] + windowMs
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count < limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetAt),
	}, w
}

// Sweep removes keys that have no record newer than the retention horizon
// and returns how many were removed. A key whose newest record is still inside
// its own window is kept even when the window is longer than the retention.
// Shards are visited one at a time.
func (s *WindowStore) Sweep() int {
	now := s.now().UnixMilli()
	retention := s.retention.Milliseconds()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			if len(w.stamps) == 0 || w.newest() <= now-max(retention, w.span) {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *WindowStore) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.Sweep()
			if onSweep != nil {
				onSweep(removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of tracked keys.
func (s *WindowStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
