package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pdrb/internal/pdr"
)

// FakeScheduler is a pdr.TriggerScheduler whose triggers only run when Fire is called.
type FakeScheduler struct {
	mu       sync.Mutex
	triggers map[string]fakeTrigger

	// Scheduled counts ScheduleRecurring calls per name; Cancelled counts effective cancels.
	Scheduled map[string]int
	Cancelled map[string]int
}

type fakeTrigger struct {
	spec   pdr.TriggerSpec
	onFire func(context.Context)
}

func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{
		triggers:  make(map[string]fakeTrigger),
		Scheduled: make(map[string]int),
		Cancelled: make(map[string]int),
	}
}

func (s *FakeScheduler) ScheduleRecurring(spec pdr.TriggerSpec, onFire func(context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[spec.Name]; ok {
		return fmt.Errorf("trigger %s already scheduled", spec.Name)
	}
	s.triggers[spec.Name] = fakeTrigger{spec: spec, onFire: onFire}
	s.Scheduled[spec.Name]++
	return nil
}

func (s *FakeScheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[name]; ok {
		delete(s.triggers, name)
		s.Cancelled[name]++
	}
}

func (s *FakeScheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[name]
	return ok
}

// Next reports the trigger's configured start.
func (s *FakeScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[name]
	return t.spec.Start, ok
}

// Spec returns the spec a trigger was scheduled with.
func (s *FakeScheduler) Spec(name string) (pdr.TriggerSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[name]
	return t.spec, ok
}

// Fire runs the trigger synchronously. It reports false if name is not scheduled.
func (s *FakeScheduler) Fire(ctx context.Context, name string) bool {
	s.mu.Lock()
	t, ok := s.triggers[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.onFire(ctx)
	return true
}

var _ pdr.TriggerScheduler = (*FakeScheduler)(nil)
