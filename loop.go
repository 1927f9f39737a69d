package gattcentral

import (
	"context"
	"sync"
	"time"
)

// Loop is the single logical thread every Central runs on. Public methods of
// Central, Device, Service, Characteristic and Descriptor must only be called
// from tasks running on the loop, and every completion and handler is
// delivered as a task on the same loop. Native callbacks that arrive on other
// goroutines are posted here before they touch any state.
//
// A Loop is either driven by Run, or pumped by the application through Drain
// when it already owns a main loop of its own.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	// wake has a buffer of one so Post never blocks.
	wake chan struct{}
}

// NewLoop returns an empty loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues a task. It is safe to call from any goroutine. It returns false
// when the loop has been closed and the task was dropped.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// AfterFunc posts task onto the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, task func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(task)
	})
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// Drain runs queued tasks, including the ones they post themselves, until the
// queue is empty. It returns the number of tasks that ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		task, ok := l.next()
		if !ok {
			return n
		}
		task()
		n++
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run dispatches tasks until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close drops every queued task and rejects new ones. A running Run returns.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}
