package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy(maxRestarts int) Policy {
	return Policy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  1,
		MaxRestarts:    maxRestarts,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestSupervisorRestartsFailingService(t *testing.T) {
	var restarts atomic.Int32
	s := NewSupervisor(fastPolicy(0), Hooks{
		OnRestart: func(string, error, int) { restarts.Add(1) },
	})
	var calls atomic.Int32
	err := s.Start("flaky", RestartOnFailure, func(ctx context.Context) error {
		if calls.Add(1) <= 2 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() >= 3 })
	if got := restarts.Load(); got != 2 {
		t.Fatalf("unexpected restart hook calls: got=%d want=2", got)
	}
	st := s.Services()
	if len(st) != 1 || st[0].Restarts != 2 || st[0].LastError != "boom" {
		t.Fatalf("unexpected service status: %+v", st)
	}
	s.StopAll()
	if len(s.Running()) != 0 {
		t.Fatalf("unexpected running services after stop all: %v", s.Running())
	}
}

func TestSupervisorGivesUpAfterMaxRestarts(t *testing.T) {
	gaveUp := make(chan int, 1)
	s := NewSupervisor(fastPolicy(2), Hooks{
		OnGiveUp: func(_ string, _ error, restarts int) { gaveUp <- restarts },
	})
	if err := s.Start("broken", RestartAlways, func(context.Context) error {
		return errors.New("bind failed")
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case got := <-gaveUp:
		if got != 2 {
			t.Fatalf("unexpected restarts at give up: got=%d want=2", got)
		}
	case <-time.After(time.Second):
		t.Fatal("supervisor did not give up")
	}
	waitFor(t, func() bool { return len(s.Running()) == 0 })
	st := s.Services()
	if len(st) != 1 || !st[0].GaveUp || st[0].LastError != "bind failed" {
		t.Fatalf("unexpected failed status: %+v", st)
	}
}

func TestSupervisorOnFailureDoesNotRestartCleanExit(t *testing.T) {
	s := NewSupervisor(fastPolicy(0), Hooks{})
	var calls atomic.Int32
	if err := s.Start("once", RestartOnFailure, func(context.Context) error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return len(s.Running()) == 0 })
	if calls.Load() != 1 {
		t.Fatalf("unexpected calls: got=%d want=1", calls.Load())
	}
	if len(s.Services()) != 0 {
		t.Fatalf("clean exit should leave no status: %+v", s.Services())
	}
}

func TestSupervisorStopByNameAndDuplicates(t *testing.T) {
	s := NewSupervisor(Policy{}, Hooks{})
	stopped := make(chan struct{})
	if err := s.Start("observer", RestartAlways, func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start("observer", RestartAlways, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected duplicate service name to fail")
	}
	if err := s.Start("x", "sometimes", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected unknown restart policy to fail")
	}
	s.Stop("observer")
	select {
	case <-stopped:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("service did not stop")
	}
	if len(s.Running()) != 0 {
		t.Fatalf("unexpected running services: %v", s.Running())
	}
}
