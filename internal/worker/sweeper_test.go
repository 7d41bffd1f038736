package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSweeperRunsRegisteredSweeps(t *testing.T) {
	s := NewSweeper(10 * time.Millisecond)

	var calls atomic.Int64
	done := make(chan struct{})
	s.Register("counter", func(ctx context.Context) (int64, error) {
		if calls.Add(1) == 3 {
			close(done)
		}
		return 1, nil
	})

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never reached three passes")
	}
}

func TestSweeperFailureDoesNotStopOthers(t *testing.T) {
	s := NewSweeper(10 * time.Millisecond)

	var okCalls atomic.Int64
	done := make(chan struct{})
	s.Register("failing", func(ctx context.Context) (int64, error) {
		return 0, errors.New("table missing")
	})
	s.Register("healthy", func(ctx context.Context) (int64, error) {
		if okCalls.Add(1) == 2 {
			close(done)
		}
		return 0, nil
	})

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy sweep starved by a failing one")
	}
}

func TestSweeperStopWaitsForLoop(t *testing.T) {
	s := NewSweeper(5 * time.Millisecond)
	s.Register("noop", func(ctx context.Context) (int64, error) { return 0, nil })
	s.Start()

	time.Sleep(20 * time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
