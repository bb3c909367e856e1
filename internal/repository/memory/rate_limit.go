package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jjdj0315/localagent-gateway/internal/core/port"
)

const (
	defaultIdleTTL         = 2 * time.Minute
	defaultCleanupInterval = time.Minute
)

type clientWindow struct {
	attempts []time.Time
	lastSeen time.Time
}

// RateLimitStore keeps per-client request timestamps in process memory. It is
// the default store for single-replica deployments. Clients that go idle for
// longer than idleTTL are swept away by a background loop so the map cannot
// grow without bound.
type RateLimitStore struct {
	mu      sync.RWMutex
	windows map[string]*clientWindow

	idleTTL  time.Duration
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRateLimitStore constructs the store and starts its cleanup loop.
// Non-positive durations fall back to defaults.
func NewRateLimitStore(idleTTL, cleanupInterval time.Duration) *RateLimitStore {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	store := &RateLimitStore{
		windows:  make(map[string]*clientWindow),
		idleTTL:  idleTTL,
		interval: cleanupInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go store.cleanupLoop()

	return store
}

// RecordAttempt appends the request timestamp to the client's window.
func (s *RateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	window, ok := s.windows[identifier]
	if !ok {
		window = &clientWindow{}
		s.windows[identifier] = window
	}

	window.attempts = append(window.attempts, at)
	window.lastSeen = at

	return nil
}

// CountAttempts returns how many requests fall inside the window ending at reference time.
func (s *RateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.windows[identifier]
	if !ok {
		return 0, nil
	}

	cutoff := reference.Add(-window)
	count := 0
	for _, at := range entry.attempts {
		if at.After(cutoff) && !at.After(reference) {
			count++
		}
	}

	return count, nil
}

// TrimWindow drops request timestamps older than the window relative to reference time.
func (s *RateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.windows[identifier]
	if !ok {
		return nil
	}

	cutoff := reference.Add(-window)
	kept := entry.attempts[:0]
	for _, at := range entry.attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	entry.attempts = kept

	if len(entry.attempts) == 0 && !entry.lastSeen.After(cutoff) {
		delete(s.windows, identifier)
	}

	return nil
}

// OldestAttempt returns the earliest request remaining inside the active window.
func (s *RateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.windows[identifier]
	if !ok {
		return time.Time{}, false, nil
	}

	cutoff := reference.Add(-window)
	var oldest time.Time
	found := false
	for _, at := range entry.attempts {
		if !at.After(cutoff) || at.After(reference) {
			continue
		}
		if !found || at.Before(oldest) {
			oldest = at
			found = true
		}
	}

	return oldest, found, nil
}

// Close stops the cleanup loop. Safe to call more than once.
func (s *RateLimitStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Size reports how many clients currently hold a window. Used by tests and
// the readiness probe's debug output.
func (s *RateLimitStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

func (s *RateLimitStore) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case at := <-ticker.C:
			s.sweep(at)
		}
	}
}

func (s *RateLimitStore) sweep(at time.Time) {
	cutoff := at.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for identifier, entry := range s.windows {
		if entry.lastSeen.Before(cutoff) {
			delete(s.windows, identifier)
		}
	}
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
