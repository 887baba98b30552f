// Package slot provides conflated task slots: single-occupancy task holders
// where starting a new task cancels the one already running.
package slot

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Scope is a long-lived concurrency domain. Every slot task runs in a scope and
// is cancelled when the scope closes.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	group  errgroup.Group
}

// NewScope creates a scope whose tasks are cancelled when parent is done or
// Close is called.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Go runs fn on a new goroutine owned by the scope. It returns false without
// running fn if the scope is closed. A panic in fn is logged, not propagated.
func (s *Scope) Go(name string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("task panicked", "task", name, "panic", r)
			}
		}()
		fn()
		return nil
	})
	return true
}

// Close cancels every task and waits for them to return. Safe to call more than once.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.group.Wait()
}

// task is one occupant of a slot.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Slot holds at most one active task.
type Slot struct {
	scope *Scope
	name  string

	mu  sync.Mutex
	cur *task // occupant, nil once finished or cancelled
	// last is the most recently assigned task, kept after it finishes so a
	// serial assignment can wait for it.
	last *task
	gen  uint64

	// emitMu serializes emissions. Assign and Cancel never take it.
	emitMu sync.Mutex
}

// New creates an empty slot whose tasks run in scope.
func New(scope *Scope, name string) *Slot {
	return &Slot{scope: scope, name: name}
}

// Assign cancels the current occupant, if any, and starts fn as the new one.
// Cancellation is fire-and-forget: the previous task may still be running when
// fn starts, but it can no longer Emit.
func (s *Slot) Assign(fn func(ctx context.Context)) {
	s.assign(fn, false)
}

// AssignSerial is like Assign, except fn does not start until the superseded
// task has returned. Use it when fn reads state the previous task may still be
// writing.
func (s *Slot) AssignSerial(fn func(ctx context.Context)) {
	s.assign(fn, true)
}

func (s *Slot) assign(fn func(ctx context.Context), serial bool) {
	s.mu.Lock()
	prev := s.last
	if prev != nil {
		prev.cancel()
	}
	s.gen++
	ctx, cancel := context.WithCancel(s.scope.ctx)
	t := &task{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.cur = t
	s.last = t
	s.mu.Unlock()

	started := s.scope.Go(s.name, func() {
		defer close(t.done)
		defer s.release(t)
		defer cancel()

		// Wait even when cancelled so a chain of serial tasks exits in order.
		if serial && prev != nil {
			<-prev.done
		}
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	if !started {
		cancel()
		s.release(t)
		close(t.done)
	}
}

// release empties the slot if t is still its occupant.
func (s *Slot) release(t *task) {
	s.mu.Lock()
	if s.cur == t {
		s.cur = nil
	}
	s.mu.Unlock()
}

// Cancel cancels the current occupant and leaves the slot empty.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.cancel()
		s.cur = nil
	}
}

// Emit runs fn unless ctx has been cancelled, and reports whether it ran.
// Emissions on a slot run one at a time. No emission starts after its task
// is cancelled; one already running when Assign or Cancel is called finishes,
// and neither call waits for it. A blocked fn therefore stalls later
// emissions on this slot only. fn must not call Emit on the same slot.
func (s *Slot) Emit(ctx context.Context, fn func()) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// Wait blocks until the most recently assigned task has returned. Tasks
// assigned while it waits are not waited for.
func (s *Slot) Wait() {
	s.mu.Lock()
	t := s.last
	s.mu.Unlock()
	if t != nil {
		<-t.done
	}
}

// Active reports whether the slot has an occupant that has not finished or
// been cancelled.
func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.ctx.Err() == nil
}

// Generation returns the number of tasks ever assigned to the slot.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Name returns the slot's name as used in log messages.
func (s *Slot) Name() string {
	return s.name
}
