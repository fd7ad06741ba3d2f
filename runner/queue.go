// queue.go - FIFO-Uebergabe zwischen Audio-Produzent und Inferenz
//
// Enthaelt:
// - Queue: unbeschraenkte, blockierende FIFO-Queue ohne Backpressure

package runner

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/emirpasic/gods/v2/queues/linkedlistqueue"
)

var ErrClosed = errors.New("queue closed")

// Queue hands items from producers to one consumer. Push never blocks and
// never drops; Pop blocks while the queue is empty and open. The backing
// list needs comparable items, so values holding slices go in as pointers.
type Queue[T comparable] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *linkedlistqueue.Queue[T]
	closed bool

	// warn > 0 logs once each time the length crosses it
	warn   int
	warned bool
}

func NewQueue[T comparable](warn int) *Queue[T] {
	q := &Queue[T]{items: linkedlistqueue.New[T](), warn: warn}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items.Enqueue(v)

	if n := q.items.Size(); q.warn > 0 && n > q.warn && !q.warned {
		slog.Warn("consumer falling behind", "queued", n, "threshold", q.warn)
		q.warned = true
	}
	q.cond.Signal()
	return nil
}

// Pop returns the oldest item. After Close it keeps returning the remaining
// items and then reports false.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Empty() && !q.closed {
		q.cond.Wait()
	}

	v, ok := q.items.Dequeue()
	if q.items.Size() <= q.warn {
		q.warned = false
	}
	return v, ok
}

// Close stops accepting items and wakes a blocked consumer. It is safe to
// call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}
