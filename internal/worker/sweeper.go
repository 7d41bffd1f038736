// Package worker owns the periodic maintenance schedule. The swept
// components expose plain Sweep operations and never schedule themselves;
// lifecycle (start, stop, shutdown) lives here.
package worker

import (
	"context"
	"log"
	"time"
)

// SweepFunc is one maintenance pass. It returns how many rows it removed.
type SweepFunc func(ctx context.Context) (int64, error)

// Sweeper runs registered sweep functions on a fixed interval until
// stopped.
type Sweeper struct {
	interval time.Duration
	funcs    map[string]SweepFunc
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		interval: interval,
		funcs:    make(map[string]SweepFunc),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a named sweep. Must be called before Start.
func (s *Sweeper) Register(name string, fn SweepFunc) {
	s.funcs[name] = fn
}

// Start launches the ticker loop in its own goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepAll()
		}
	}
}

func (s *Sweeper) sweepAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for name, fn := range s.funcs {
		n, err := fn(ctx)
		if err != nil {
			log.Printf("sweeper: %s failed: %v", name, err)
			continue
		}
		if n > 0 {
			log.Printf("sweeper: %s removed %d rows", name, n)
		}
	}
}
