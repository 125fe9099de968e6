package counter_stores

import (
	"context"
	"sync"
	"time"

	"github.com/aryangodara/rate_limiter_gate"
)

var (
	_ rate_limiter_gate.CounterStore = &MemoryStore{}
	_ Sweepable                      = &MemoryStore{}
)

// DefaultRetentionWindows keeps the current and the previous window of a key.
const DefaultRetentionWindows = 2

// MemoryStore is an in-process CounterStore. Each key has its own lock, so
// callers contend only when they hit the same key.
type MemoryStore struct {
	mu        sync.RWMutex
	keys      map[rate_limiter_gate.LimitKey]*keyCounters
	retention int64
	now       func() time.Time
}

type keyCounters struct {
	mu      sync.Mutex
	windows map[int64]*counterEntry
	// dropped is set once the sweeper has removed this key from the store.
	dropped bool
}

type counterEntry struct {
	count     int64
	createdAt time.Time
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRetentionWindows sets how many windows of a key are kept, counting the
// current one.
func WithRetentionWindows(n int64) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithMemoryClock overrides the clock used to stamp entries.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		keys:      make(map[rate_limiter_gate.LimitKey]*keyCounters),
		retention: DefaultRetentionWindows,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementAndGet counts one request in the (key, window) bucket. Windows of
// key older than the retention are evicted while the key's lock is held.
func (s *MemoryStore) IncrementAndGet(_ context.Context, key rate_limiter_gate.LimitKey, w rate_limiter_gate.Window) (int64, error) {
	for {
		kc := s.counters(key)

		kc.mu.Lock()
		if kc.dropped {
			// raced with Sweep; the next lookup creates a fresh entry
			kc.mu.Unlock()
			continue
		}

		entry, ok := kc.windows[w.Index]
		if !ok {
			entry = &counterEntry{
				createdAt: s.now(),
				expiresAt: w.End().Add(time.Duration(s.retention-1) * w.Length),
			}
			kc.windows[w.Index] = entry
			for idx := range kc.windows {
				if idx <= w.Index-s.retention {
					delete(kc.windows, idx)
				}
			}
		}
		entry.count++
		count := entry.count
		kc.mu.Unlock()

		return count, nil
	}
}

func (s *MemoryStore) counters(key rate_limiter_gate.LimitKey) *keyCounters {
	s.mu.RLock()
	kc, ok := s.keys[key]
	s.mu.RUnlock()
	if ok {
		return kc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if kc, ok = s.keys[key]; ok {
		return kc
	}
	kc = &keyCounters{windows: make(map[int64]*counterEntry)}
	s.keys[key] = kc
	return kc
}

// Count returns the current count of a bucket without incrementing it.
func (s *MemoryStore) Count(key rate_limiter_gate.LimitKey, w rate_limiter_gate.Window) int64 {
	s.mu.RLock()
	kc, ok := s.keys[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	kc.mu.Lock()
	defer kc.mu.Unlock()
	if entry, ok := kc.windows[w.Index]; ok {
		return entry.count
	}
	return 0
}

// Reset removes every bucket of key.
func (s *MemoryStore) Reset(_ context.Context, key rate_limiter_gate.LimitKey) error {
	s.mu.Lock()
	kc, ok := s.keys[key]
	delete(s.keys, key)
	s.mu.Unlock()

	if ok {
		kc.mu.Lock()
		kc.dropped = true
		kc.mu.Unlock()
	}
	return nil
}

// Sweep removes entries that expired before now and drops keys left empty.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, kc := range s.keys {
		kc.mu.Lock()
		for idx, entry := range kc.windows {
			if !entry.expiresAt.After(now) {
				delete(kc.windows, idx)
				removed++
			}
		}
		if len(kc.windows) == 0 {
			kc.dropped = true
			delete(s.keys, key)
		}
		kc.mu.Unlock()
	}
	return removed, nil
}

// Size returns the number of live buckets.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, kc := range s.keys {
		kc.mu.Lock()
		n += len(kc.windows)
		kc.mu.Unlock()
	}
	return n
}
