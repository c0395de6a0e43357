// Package retry holds back-off timers for rate-limited sends. Timers are
// keyed by message id so a rearm replaces the previous timer instead of
// stacking a duplicate fire.
package retry

import (
	"log/slog"
	"sync"
	"time"
)

type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms one timer for the key. An existing timer for the same key
// is stopped first, so at most one retry is ever outstanding per message.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.Stop()
	}

	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// A rearm or cancel may have raced the fire; only the timer
		// still registered for the key gets to run.
		current, ok := s.timers[key]
		if !ok || current != tm {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		action()
	})
	s.timers[key] = tm

	slog.Debug("retry scheduled", "key", key, "delay", delay.String())
}

// Cancel disarms the key's timer without running its action.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm, ok := s.timers[key]
	if !ok {
		return false
	}
	tm.Stop()
	delete(s.timers, key)
	return true
}

// CancelAll disarms every outstanding timer, e.g. on conversation teardown
// or process shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, tm := range s.timers {
		tm.Stop()
		delete(s.timers, key)
	}
}

// Scheduled reports whether a retry is outstanding for the key.
func (s *Scheduler) Scheduled(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[key]
	return ok
}

// Pending returns the number of outstanding timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}
