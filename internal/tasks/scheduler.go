// Package tasks runs named, cancellable delayed tasks. Every timer chain of the
// orchestrator is a task here so it can be found and cancelled by id or by name prefix.
package tasks

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Func is the body of a task. ctx is cancelled when the task is cancelled or the scheduler stops.
type Func func(ctx context.Context)

// Info describes a pending or running task.
type Info struct {
	ID      string
	Name    string
	Due     time.Time
	Started bool
}

type task struct {
	id      string
	name    string
	due     time.Time
	started bool
	cancel  context.CancelFunc
}

// Scheduler owns the goroutines of all scheduled tasks.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *logrus.Entry
	stopped bool
}

// NewScheduler creates a scheduler whose tasks all derive from parent.
func NewScheduler(parent context.Context, log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// After runs fn once delay has elapsed, unless cancelled first. It returns the task id;
// an empty id means the scheduler is stopped and fn will never run.
func (s *Scheduler) After(name string, delay time.Duration, fn Func) string {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ""
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		id:     uuid.NewString(),
		name:   name,
		due:    time.Now().Add(delay),
		cancel: cancel,
	}
	s.tasks[t.id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, t, delay, fn)
	return t.id
}

// Go runs fn immediately as a named task.
func (s *Scheduler) Go(name string, fn Func) string {
	return s.After(name, 0, fn)
}

func (s *Scheduler) run(ctx context.Context, t *task, delay time.Duration, fn Func) {
	defer s.wg.Done()
	defer s.finish(t)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	t.started = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"task": t.name, "task_id": t.id}).
				Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn(ctx)
}

func (s *Scheduler) finish(t *task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()
	t.cancel()
}

// Cancel cancels the task with the given id and reports whether it was known.
func (s *Scheduler) Cancel(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// CancelPrefix cancels every task whose name starts with prefix and returns how many.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	var victims []*task
	for id, t := range s.tasks {
		if strings.HasPrefix(t.name, prefix) {
			victims = append(victims, t)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()
	for _, t := range victims {
		t.cancel()
	}
	return len(victims)
}

// Pending lists known tasks sorted by due time.
func (s *Scheduler) Pending() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, Info{ID: t.id, Name: t.name, Due: t.due, Started: t.started})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out
}

// Has reports whether any known task name starts with prefix.
func (s *Scheduler) Has(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if strings.HasPrefix(t.name, prefix) {
			return true
		}
	}
	return false
}

// Stop cancels all tasks and waits for their goroutines to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
