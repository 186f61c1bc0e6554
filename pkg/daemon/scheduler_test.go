package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestCronParse(t *testing.T) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse("@every 10m")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	t.Logf("next1: %v", next1)
	next2 := schedule.Next(next1)
	t.Logf("next2: %v", next2)

	if !next2.After(next1) {
		t.Fatalf("expected next2 to be after next1, got next1=%v next2=%v", next1, next2)
	}
}

func TestSchedulerAdd(t *testing.T) {
	s := NewScheduler()

	if err := s.Add("noop", "@every 1m", func() error { return nil }); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := s.Add("bad", "every minute", func() error { return nil }); err == nil {
		t.Fatalf("expected an error for an invalid spec")
	}
	if err := s.Add("nil", "@every 1m", nil); err == nil {
		t.Fatalf("expected an error for a nil task")
	}

	// replacing keeps a single entry
	if err := s.Add("noop", "@every 2m", func() error { return nil }); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if names := s.Names(); len(names) != 1 || names[0] != "noop" {
		t.Fatalf("unexpected names %v", names)
	}

	s.Start()
	defer s.Stop()

	next, ok := s.Next("noop")
	if !ok {
		t.Fatalf("expected task to be scheduled")
	}
	deadline := time.Now().Add(2*time.Minute + time.Second)
	if next.IsZero() || next.After(deadline) {
		t.Fatalf("unexpected next run %v", next)
	}

	s.Remove("noop")
	if _, ok := s.Next("noop"); ok {
		t.Fatalf("task should be removed")
	}
}

func TestSchedulerRunCycle(t *testing.T) {
	taskCh := make(chan struct{}, 4)
	var runs int32

	s := NewScheduler()
	err := s.Add("tick", "@every 1s", func() error {
		atomic.AddInt32(&runs, 1)
		taskCh <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	s.Start()

	select {
	case <-taskCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not stop in time")
	}
	if atomic.LoadInt32(&runs) == 0 {
		t.Fatalf("task should have run")
	}
}

func TestSchedulerTaskError(t *testing.T) {
	errCh := make(chan error, 4)

	s := NewScheduler()
	s.OnError = func(name string, err error) {
		if name == "fail" {
			errCh <- err
		}
	}
	if err := s.Add("fail", "@every 1s", func() error { return errors.New("boom") }); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	s.Start()
	defer s.Stop()

	select {
	case err := <-errCh:
		if err.Error() != "boom" {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected error callback from failed task")
	}
}

func TestSchedulerRecoversPanic(t *testing.T) {
	taskCh := make(chan struct{}, 4)
	var calls int32

	s := NewScheduler()
	err := s.Add("panicky", "@every 1s", func() error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
		taskCh <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	s.Start()
	defer s.Stop()

	select {
	case <-taskCh:
	case <-time.After(4 * time.Second):
		t.Fatalf("scheduler did not survive a panicking task")
	}
}

func TestRegisterJobs(t *testing.T) {
	d, _, _ := newTestDaemon(t, false)
	s := NewScheduler()
	if err := d.registerJobs(s); err != nil {
		t.Fatalf("registerJobs: %v", err)
	}
	if names := s.Names(); len(names) != 1 || names[0] != "profile-report" {
		t.Errorf("expected only the profile report without history, got %v", names)
	}

	d, _, _ = newTestDaemon(t, true)
	s = NewScheduler()
	if err := d.registerJobs(s); err != nil {
		t.Fatalf("registerJobs: %v", err)
	}
	if n := len(s.Names()); n != 2 {
		t.Errorf("expected 2 jobs with history, got %d", n)
	}
}
