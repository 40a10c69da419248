// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by operations on an executor that has been
// stopped.
var ErrStopped = errors.New("executor: stopped")

// AffinityError is the panic value raised when a coordinator-only
// operation is invoked from another context.
type AffinityError struct {
	Op string
}

func (e *AffinityError) Error() string {
	return fmt.Sprintf("executor: %s called off the coordinating context", e.Op)
}

// Task is one unit of work. ctx carries the coordinating turn.
type Task func(ctx context.Context)

type entry struct {
	task    Task
	inbound bool
}

// turn marks one running task. A context whose turn has finished is
// no longer coordinating even if it was retained past its task.
type turn struct {
	executor *Executor
	active   atomic.Bool
}

type turnKey struct{}

// Executor is a single-consumer task queue.
type Executor struct {
	mu      sync.Mutex
	queue   []entry
	stopped bool

	// signal wakes the consumer after a push. Buffered so a push never
	// blocks; one pending token is enough because the consumer drains
	// the whole queue before waiting again.
	signal chan struct{}
	stop   chan struct{}

	running  atomic.Bool
	base     context.Context
	stopOnce sync.Once
}

// New returns an idle executor. Call Run on the goroutine that is to
// become the coordinator.
func New() *Executor {
	return &Executor{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Post queues task for the coordinator. Safe from any goroutine.
func (e *Executor) Post(task Task) error {
	return e.push(entry{task: task})
}

// PostInbound queues task as a frame from the peer. Inbound entries
// are also served while the coordinator is blocked in Await.
func (e *Executor) PostInbound(task Task) error {
	return e.push(entry{task: task, inbound: true})
}

func (e *Executor) push(item entry) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.queue = append(e.queue, item)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return nil
}

// next pops the first entry, or the first inbound entry when
// inboundOnly is set.
func (e *Executor) next(inboundOnly bool) (entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, item := range e.queue {
		if inboundOnly && !item.inbound {
			continue
		}
		copy(e.queue[i:], e.queue[i+1:])
		e.queue[len(e.queue)-1] = entry{}
		e.queue = e.queue[:len(e.queue)-1]
		return item, true
	}
	return entry{}, false
}

// Run consumes the queue on the calling goroutine until ctx is done or
// Stop is called. Entries still queued at that point are dropped.
// Calling Run twice panics.
func (e *Executor) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		panic("executor: Run called twice")
	}
	e.base = ctx
	defer e.Stop()

	for {
		if item, ok := e.next(false); ok {
			e.execute(item.task)
			continue
		}
		select {
		case <-e.signal:
		case <-e.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) execute(task Task) {
	current := &turn{executor: e}
	current.active.Store(true)
	defer current.active.Store(false)
	task(context.WithValue(e.base, turnKey{}, current))
}

// Stop makes Run return and rejects further posts. Idempotent.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.queue = nil
		e.mu.Unlock()
		close(e.stop)
	})
}

// Stopped is closed once Stop has been called.
func (e *Executor) Stopped() <-chan struct{} {
	return e.stop
}

// IsCoordinating reports whether ctx belongs to a task currently
// running on this executor.
func (e *Executor) IsCoordinating(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	current, ok := ctx.Value(turnKey{}).(*turn)
	return ok && current.executor == e && current.active.Load()
}

// AssertCoordinating panics with an *AffinityError naming op unless
// ctx is coordinating.
func (e *Executor) AssertCoordinating(ctx context.Context, op string) {
	if !e.IsCoordinating(ctx) {
		panic(&AffinityError{Op: op})
	}
}

// Await blocks the coordinating task until done is closed, running
// inbound entries in arrival order meanwhile. Returns ErrStopped if
// the executor stops first, or ctx.Err() if ctx ends first.
func (e *Executor) Await(ctx context.Context, done <-chan struct{}) error {
	e.AssertCoordinating(ctx, "Await")

	for {
		select {
		case <-done:
			return nil
		default:
		}

		if item, ok := e.next(true); ok {
			e.execute(item.task)
			continue
		}

		select {
		case <-done:
			return nil
		case <-e.signal:
		case <-e.stop:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Invoke runs fn on the coordinator and returns its error. Called on
// the coordinator, fn runs inline; otherwise it is posted and Invoke
// waits for it.
func (e *Executor) Invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.IsCoordinating(ctx) {
		return fn(ctx)
	}

	result := make(chan error, 1)
	if err := e.Post(func(taskContext context.Context) {
		result <- fn(taskContext)
	}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-e.stop:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
