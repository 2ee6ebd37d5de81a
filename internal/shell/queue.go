package shell

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Do after Close.
var ErrQueueClosed = errors.New("shell queue closed")

type job struct {
	fn     func() error
	result chan error
}

// Queue serializes all external tmux invocations onto a single background
// worker. Keystroke sequences for a pane must never interleave with each other
// or with a concurrent capture; funneling every invocation through one worker
// is what guarantees that.
type Queue struct {
	jobs    chan job
	closing chan struct{}

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
	wg      sync.WaitGroup
}

// NewQueue starts the background worker.
func NewQueue() *Queue {
	q := &Queue{
		jobs:    make(chan job, 64),
		closing: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for j := range q.jobs {
		j.result <- j.fn()
	}
}

// Do submits fn to the worker and waits for it to finish. The context only
// bounds the wait for a queue slot and the wait for the result; a job that has
// started always runs to completion so a half-sent keystroke sequence is never
// abandoned mid-pane. Do is safe against a concurrent Close: a sender parked
// on a full queue is released with ErrQueueClosed.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.Unlock()

	j := job{fn: fn, result: make(chan error, 1)}
	select {
	case q.jobs <- j:
		q.senders.Done()
	case <-q.closing:
		q.senders.Done()
		return ErrQueueClosed
	case <-ctx.Done():
		q.senders.Done()
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		// The job may still run; its result is buffered and dropped.
		return ctx.Err()
	}
}

// Close stops accepting jobs, drains the pending ones, and waits for the
// worker to exit. The jobs channel is only closed once every in-flight
// sender has either enqueued or bailed out, so a Do racing with Close can
// never hit a closed channel.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()

	q.senders.Wait()
	close(q.jobs)
	q.wg.Wait()
}
