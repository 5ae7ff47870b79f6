package schedule

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleRunsPeriodically(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	s.Schedule("tick", func() { runs.Add(1) }, 0, 10*time.Millisecond)
	defer s.Cancel("tick")

	deadline := time.After(time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 3 runs, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduleDuplicateNameIsNoop(t *testing.T) {
	s := NewScheduler()

	var first, second atomic.Int32
	s.Schedule("task", func() { first.Add(1) }, 0, 10*time.Millisecond)
	s.Schedule("task", func() { second.Add(1) }, 0, 10*time.Millisecond)
	defer s.Cancel("task")

	time.Sleep(50 * time.Millisecond)

	if first.Load() == 0 {
		t.Errorf("Expected first task to run")
	}
	if second.Load() != 0 {
		t.Errorf("Expected duplicate task to be ignored, ran %d times", second.Load())
	}
}

func TestCancelStopsTask(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	s.Schedule("cancel", func() { runs.Add(1) }, 0, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	s.Cancel("cancel")

	// allow an in-flight run to finish
	time.Sleep(10 * time.Millisecond)
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)

	if runs.Load() != after {
		t.Errorf("Task kept running after cancel: %d -> %d", after, runs.Load())
	}

	// cancelling twice or an unknown name must not panic
	s.Cancel("cancel")
	s.Cancel("unknown")
}

func TestPanickingTaskKeepsRunning(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	s.Schedule("panic", func() {
		runs.Add(1)
		panic("boom")
	}, 0, 5*time.Millisecond)
	defer s.Cancel("panic")

	deadline := time.After(time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("Expected task to keep running after a panic, got %d runs", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCancelFromWithinTask(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	s.Schedule("self", func() {
		runs.Add(1)
		s.Cancel("self")
	}, 0, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 1 {
		t.Errorf("Expected exactly one run, got %d", runs.Load())
	}
}

func TestCancelWaitsForRunningTask(t *testing.T) {
	s := NewScheduler()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.Schedule("blocking", func() {
		once.Do(func() { close(started) })
		<-release
	}, 0, 5*time.Millisecond)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("Task did not start")
	}

	done := s.Cancel("blocking")
	select {
	case <-done:
		t.Fatalf("Cancel reported the task as stopped while it was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Task did not stop after it returned")
	}

	select {
	case <-s.Cancel("unknown"):
	default:
		t.Errorf("Expected closed channel for an unknown task")
	}
}
