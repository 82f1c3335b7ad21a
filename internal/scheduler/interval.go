package scheduler

import (
	"sync"
	"time"
)

// intervalSchedule fires at start and then every interval after it. The phase is
// anchored to start, so a late wakeup does not shift later fires.
// If start has already passed when the schedule is first consulted, it fires immediately.
type intervalSchedule struct {
	mu       sync.Mutex
	start    time.Time
	interval time.Duration
	primed   bool
}

func newIntervalSchedule(start time.Time, interval time.Duration) *intervalSchedule {
	return &intervalSchedule{start: start, interval: interval}
}

// Next implements cron.Schedule.
func (s *intervalSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		s.primed = true
		if !t.Before(s.start) {
			return t
		}
		return s.start
	}
	return s.after(t)
}

// peek returns what Next would return for t without consuming the first fire.
func (s *intervalSchedule) peek(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		if !t.Before(s.start) {
			return t
		}
		return s.start
	}
	return s.after(t)
}

// after returns the first start + k*interval strictly after t.
func (s *intervalSchedule) after(t time.Time) time.Time {
	if t.Before(s.start) {
		return s.start
	}
	k := t.Sub(s.start)/s.interval + 1
	return s.start.Add(k * s.interval)
}
