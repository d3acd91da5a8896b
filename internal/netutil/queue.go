package netutil

import (
	"context"
	"sync"

	"golang.org/x/exp/constraints"
)

// Queue is a bounded FIFO queue safe for concurrent use.
// The zero value is not usable; create one with NewQueue.
type Queue[T any] struct {
	mu           sync.Mutex
	front, back  uint32
	nonEmpty     bool
	buffer       []T
	nonEmptyChan chan struct{}
}

func NewQueue[T any](maxLen int) *Queue[T] {
	if maxLen < 1 {
		panic(maxLen)
	}
	return &Queue[T]{
		buffer:       make([]T, maxLen),
		front:        0,
		back:         0,
		nonEmptyChan: make(chan struct{}),
	}
}

// Deliver does not block. It immediately returns true if there was room in the queue.
func (q *Queue[T]) Deliver(x T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isFull() {
		return false
	}
	wasEmpty := q.isEmpty()
	idx := q.pushBack()
	q.buffer[idx] = x
	if wasEmpty {
		close(q.nonEmptyChan)
		q.nonEmptyChan = make(chan struct{})
	}
	return true
}

// Pop removes the element at the front of the queue, blocking until one is
// available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if !q.isEmpty() {
			idx := q.popFront()
			x := q.buffer[idx]
			var zero T
			q.buffer[idx] = zero
			q.mu.Unlock()
			return x, nil
		}
		waitChan := q.nonEmptyChan
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-waitChan:
		}
	}
}

// TryPop removes the element at the front of the queue if there is one.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isEmpty() {
		var zero T
		return zero, false
	}
	idx := q.popFront()
	x := q.buffer[idx]
	var zero T
	q.buffer[idx] = zero
	return x, true
}

// Purge empties the queue, calling fn on each element, and returns the number purged.
func (q *Queue[T]) Purge(fn func(T)) int {
	var count int
	for {
		x, ok := q.TryPop()
		if !ok {
			return count
		}
		if fn != nil {
			fn(x)
		}
		count++
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

func (q *Queue[T]) popFront() int {
	if q.isEmpty() {
		panic("pop on empty queue")
	}
	idx := q.front
	q.front = mod(q.front+1, uint32(len(q.buffer)))
	if mod(q.back-q.front, uint32(len(q.buffer))) == 0 {
		q.nonEmpty = false
	}
	return int(idx)
}

func (q *Queue[T]) pushBack() int {
	if q.isFull() {
		panic("push on full queue")
	}
	idx := q.back
	q.back = mod(q.back+1, uint32(len(q.buffer)))
	if mod(q.back-q.front, uint32(len(q.buffer))) == 0 {
		q.nonEmpty = true
	}
	return int(idx)
}

func (q *Queue[T]) isFull() bool {
	return mod(q.back-q.front, uint32(len(q.buffer))) == 0 && q.nonEmpty
}

func (q *Queue[T]) isEmpty() bool {
	return q.back == q.front && !q.nonEmpty
}

func (q *Queue[T]) len() int {
	l := mod(int(q.back)-int(q.front), len(q.buffer))
	if l == 0 && q.nonEmpty {
		l = len(q.buffer)
	}
	return l
}

func mod[T constraints.Integer](x, m T) T {
	z := x % m
	if z < 0 {
		z += m
	}
	return z
}
