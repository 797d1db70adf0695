package push

import (
	"errors"
	"sync"
)

var (
	// ErrBufferFull is returned by Send when the handle cannot accept more
	// envelopes without blocking.
	ErrBufferFull = errors.New("push: buffer full")
	// ErrHandleClosed is returned by Send after Close.
	ErrHandleClosed = errors.New("push: handle closed")
)

// Handle is one live push connection.
type Handle interface {
	// Send enqueues env without blocking.
	Send(env Envelope) error
	// Close stops the handle. It is safe to call more than once.
	Close()
	// Done is closed once the handle is closed.
	Done() <-chan struct{}
}

// queue is the buffered outbox shared by every handle type. The channel is
// never closed; done signals shutdown to the draining goroutine.
type queue struct {
	ch   chan Envelope
	done chan struct{}
	once sync.Once
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = 64
	}
	return &queue{
		ch:   make(chan Envelope, size),
		done: make(chan struct{}),
	}
}

func (q *queue) Send(env Envelope) error {
	select {
	case <-q.done:
		return ErrHandleClosed
	default:
	}

	select {
	case q.ch <- env:
		return nil
	default:
		return ErrBufferFull
	}
}

func (q *queue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *queue) Done() <-chan struct{} {
	return q.done
}

// Messages exposes the outbox to the goroutine that writes to the client.
func (q *queue) Messages() <-chan Envelope {
	return q.ch
}
