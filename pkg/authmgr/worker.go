package authmgr

import (
	"context"
	"sync"
)

// task is a unit of work run on the worker goroutine.
type task func(ctx context.Context)

// worker runs tasks one at a time in submission order. A task owns the
// manager's mutable state for as long as it runs; the next task starts only
// after the current one, and any follow-ups it scheduled, have returned.
//
// Tasks block on network I/O directly. The goroutine doing so is the
// worker itself, so nothing else waits on a lock while the exchange is in
// flight; callers wait on their own reply channel.
type worker struct {
	tasks chan task
	// next holds follow-ups scheduled by the running task. Only the worker
	// goroutine touches it.
	next []task

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newWorker(queueSize int) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		tasks:  make(chan task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.tasks:
			t(w.ctx)
			for len(w.next) > 0 {
				f := w.next[0]
				w.next = w.next[1:]
				f(w.ctx)
			}
		}
	}
}

// then schedules f to run right after the current task, before any queued
// task. It must only be called from a running task.
func (w *worker) then(f task) {
	w.next = append(w.next, f)
}

// submit queues t. It fails when the worker is closed or ctx ends first.
func (w *worker) submit(ctx context.Context, t task) error {
	select {
	case <-w.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case w.tasks <- t:
		return nil
	case <-w.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the worker and waits for the running task to return. Queued
// tasks that have not started are dropped; their callers get ErrClosed.
func (w *worker) close() {
	w.once.Do(w.cancel)
	<-w.done
}

type reply[T any] struct {
	val T
	err error
}

// call runs fn on the worker and waits for its result. If ctx ends while
// waiting, call returns early but fn still runs to completion.
func call[T any](ctx context.Context, w *worker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ch := make(chan reply[T], 1)

	err := w.submit(ctx, func(ctx context.Context) {
		v, err := fn(ctx)
		ch <- reply[T]{val: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-w.done:
		// The task may have replied just before the worker stopped.
		select {
		case r := <-ch:
			return r.val, r.err
		default:
			return zero, ErrClosed
		}
	}
}
