// Package clock models timers as scheduled events on a monotonic clock,
// each carrying the key (transaction key, session id, ...) it belongs to,
// so firing is a table lookup rather than a captured reference.
package clock

import (
	"sync"
	"time"
)

// Clock is the minimal time source components depend on, so tests can
// substitute a fake one without real sleeps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a scheduled, cancellable callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
	// Reset reschedules the timer to fire after d from now.
	Reset(d time.Duration) bool
}

// System is the real wall-clock implementation, backed by time.AfterFunc.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) AfterFunc(d time.Duration, f func()) Timer {
	return &systemTimer{t: time.AfterFunc(d, f)}
}

type systemTimer struct {
	mu sync.Mutex
	t  *time.Timer
}

func (s *systemTimer) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Stop()
}

func (s *systemTimer) Reset(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Reset(d)
}

// Scheduler keys in-flight timers by an opaque identity (a transaction key
// string, a session id, ...) so a later cancellation or lookup never needs
// a captured pointer back into the owning component.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	timers map[string]map[string]Timer // key -> timer name -> Timer
}

// NewScheduler builds a Scheduler over the given Clock. Pass clock.System{}
// in production; tests may pass a fake.
func NewScheduler(c Clock) *Scheduler {
	return &Scheduler{clock: c, timers: make(map[string]map[string]Timer)}
}

// Schedule arms (or rearms) the timer named `name` for `key`, firing `f`
// after `d`. Re-scheduling the same (key, name) pair cancels any timer
// already running under it first.
func (s *Scheduler) Schedule(key, name string, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.timers[key]
	if !ok {
		bucket = make(map[string]Timer)
		s.timers[key] = bucket
	}
	if existing, ok := bucket[name]; ok {
		existing.Stop()
	}
	bucket[name] = s.clock.AfterFunc(d, f)
}

// Cancel stops the named timer for key, if any.
func (s *Scheduler) Cancel(key, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.timers[key]; ok {
		if t, ok := bucket[name]; ok {
			t.Stop()
			delete(bucket, name)
		}
	}
}

// CancelAll stops every timer scheduled under key, e.g. on transaction
// termination or dialog teardown.
func (s *Scheduler) CancelAll(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.timers[key]; ok {
		for _, t := range bucket {
			t.Stop()
		}
		delete(s.timers, key)
	}
}
