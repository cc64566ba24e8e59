// Package queue holds the global command queue between the transports and
// the dispatcher.
package queue

import (
	"context"
	"sync"
)

// Sink receives the response to one command
type Sink interface {
	Send(resp string) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(resp string) error

// Send calls f
func (f SinkFunc) Send(resp string) error {
	return f(resp)
}

// Entry is one queued command with the sink its response goes to
type Entry struct {
	Text string
	Sink Sink
}

// Queue is an unbounded FIFO of command entries. Any number of producers
// may Put; entries are consumed in arrival order.
type Queue struct {
	mu      sync.Mutex
	items   []Entry
	ready   chan struct{} // signalled when items goes non-empty
	onDepth func(int)
}

// New creates an empty queue
func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// OnDepth installs a callback invoked with the queue depth after every
// change. Call before use.
func (q *Queue) OnDepth(f func(int)) {
	q.onDepth = f
}

// Put appends an entry. It never blocks.
func (q *Queue) Put(e Entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	n := len(q.items)
	q.mu.Unlock()

	if q.onDepth != nil {
		q.onDepth(n)
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get removes the oldest entry, waiting until one is available or ctx ends.
func (q *Queue) Get(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = Entry{}
			q.items = q.items[1:]
			n := len(q.items)
			q.mu.Unlock()

			if q.onDepth != nil {
				q.onDepth(n)
			}
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
