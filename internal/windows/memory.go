package windows

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lattice-siem/internal/schema"
)

// MemoryStore is an in-process window store for single-node deployments
// and tests. It mirrors the Redis store's semantics: timestamp-ordered
// entries per (rule, group), lazy pruning on access, and a background
// sweep that expires idle windows after multiplier x window.
type MemoryStore struct {
	mu      sync.Mutex
	groups  map[string]*memoryWindow
	ttlMult int

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type memoryWindow struct {
	entries  []memoryEntry
	deadline time.Time // idle expiry, refreshed on every access
}

type memoryEntry struct {
	event *schema.Event
	ts    time.Time
}

// NewMemoryStore creates an in-process window store. The sweep interval
// bounds how long an untouched window can outlive its expiry.
func NewMemoryStore(sweepInterval time.Duration, ttlMult int) *MemoryStore {
	if ttlMult < 1 {
		ttlMult = DefaultTTLMultiplier
	}
	s := &MemoryStore{
		groups:  make(map[string]*memoryWindow),
		ttlMult: ttlMult,
		done:    make(chan struct{}),
	}

	if sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(sweepInterval)
	}
	return s
}

func pairKey(ruleID, groupKey string) string {
	return sanitizeKeyPart(ruleID) + "/" + groupKey
}

// AddEvent implements Store.
func (s *MemoryStore) AddEvent(_ context.Context, ruleID, groupKey string, event *schema.Event, window time.Duration) ([]*schema.Event, error) {
	now := time.Now()
	ts := time.UnixMilli(eventScore(event, now))

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(ruleID, groupKey)
	win := s.groups[key]
	if win == nil {
		win = &memoryWindow{}
		s.groups[key] = win
	}
	win.deadline = now.Add(time.Duration(s.ttlMult) * window)

	// Insert keeping timestamp order so reads stay sorted.
	idx := sort.Search(len(win.entries), func(i int) bool {
		return win.entries[i].ts.After(ts)
	})
	win.entries = append(win.entries, memoryEntry{})
	copy(win.entries[idx+1:], win.entries[idx:])
	win.entries[idx] = memoryEntry{event: event, ts: ts}

	// Prune entries that slid out of the window.
	cutoff := now.Add(-window)
	start := sort.Search(len(win.entries), func(i int) bool {
		return !win.entries[i].ts.Before(cutoff)
	})
	win.entries = win.entries[start:]

	out := make([]*schema.Event, len(win.entries))
	for i, e := range win.entries {
		out[i] = e.event
	}
	return out, nil
}

// ClearGroup implements Store.
func (s *MemoryStore) ClearGroup(_ context.Context, ruleID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, pairKey(ruleID, groupKey))
	return nil
}

// Len returns the number of tracked (rule, group) windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("window sweep panicked", "panic", r)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if removed := s.sweep(time.Now()); removed > 0 {
				slog.Debug("swept expired windows", "removed", removed)
			}
		}
	}
}

// sweep drops windows whose idle deadline has passed.
func (s *MemoryStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, win := range s.groups {
		if now.After(win.deadline) {
			delete(s.groups, key)
			removed++
		}
	}
	return removed
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}
