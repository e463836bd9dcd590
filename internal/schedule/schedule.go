// Package schedule provides cancellable scheduled tasks. A Scheduler tracks
// every task it starts, so "stop all timers" is one call instead of manual
// bookkeeping of interval handles.
package schedule

import (
	"sync"
	"time"
)

// Task is a scheduled callback.
type Task interface {
	// Stop prevents future runs. It reports whether the task was still active.
	// A run already in progress is not interrupted.
	Stop() bool
}

// Scheduler starts tasks and can stop all of them at once.
type Scheduler interface {
	// After runs fn once, d from now.
	After(d time.Duration, fn func()) Task
	// Every runs fn every d until stopped.
	Every(d time.Duration, fn func()) Task
	// StopAll stops every task started by this scheduler.
	StopAll()
	// Now returns the scheduler's clock.
	Now() time.Time
}

// =============================================================================
// REAL CLOCK
// =============================================================================

// Real schedules on the wall clock. Callbacks run on their own goroutines.
type Real struct {
	mu    sync.Mutex
	tasks map[*realTask]struct{}
}

// NewReal returns a wall-clock scheduler.
func NewReal() *Real {
	return &Real{tasks: make(map[*realTask]struct{})}
}

type realTask struct {
	owner  *Real
	once   sync.Once
	timer  *time.Timer
	ticker *time.Ticker
	done   chan struct{}
	mu     sync.Mutex
	active bool
}

func (r *Real) After(d time.Duration, fn func()) Task {
	t := &realTask{owner: r, active: true}
	r.track(t)
	t.timer = time.AfterFunc(d, func() {
		if !t.finish() {
			return
		}
		fn()
	})
	return t
}

func (r *Real) Every(d time.Duration, fn func()) Task {
	t := &realTask{owner: r, active: true, ticker: time.NewTicker(d), done: make(chan struct{})}
	r.track(t)
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				// Stop may race with the tick; re-check before running.
				if !t.isActive() {
					return
				}
				fn()
			}
		}
	}()
	return t
}

func (r *Real) StopAll() {
	r.mu.Lock()
	tasks := make([]*realTask, 0, len(r.tasks))
	for t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}

func (r *Real) Now() time.Time { return time.Now() }

func (r *Real) track(t *realTask) {
	r.mu.Lock()
	r.tasks[t] = struct{}{}
	r.mu.Unlock()
}

func (r *Real) untrack(t *realTask) {
	r.mu.Lock()
	delete(r.tasks, t)
	r.mu.Unlock()
}

// finish marks a one-shot task as fired. It reports false when the task was
// stopped first.
func (t *realTask) finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	t.owner.untrack(t)
	return true
}

func (t *realTask) isActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *realTask) Stop() bool {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.mu.Unlock()

	t.once.Do(func() {
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.ticker != nil {
			t.ticker.Stop()
			close(t.done)
		}
		t.owner.untrack(t)
	})
	return wasActive
}

var _ Scheduler = (*Real)(nil)
