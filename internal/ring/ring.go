// The MIT License (MIT)
//
// Copyright (c) 2025 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package ring implements a generic, auto-growing circular FIFO. It
// backs the PCM in-order tail queue, where the repair core needs queue
// semantics (push tail, pop head, walk in order) without a fixed
// capacity ceiling.
package ring

const (
	minCapacity  = 8
	growDoubleBelow = 4096
)

// Queue is a circular FIFO over T, growing automatically when full.
type Queue[T any] struct {
	head, tail int
	slots      []T
}

// New allocates a Queue with room for at least `capacity` elements
// before its first grow (capacities below 8 are rounded up to 8).
func New[T any](capacity int) *Queue[T] {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	// One slot always stays empty to tell a full queue from an empty one.
	return &Queue[T]{slots: make([]T, capacity+1)}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	if q.head <= q.tail {
		return q.tail - q.head
	}
	return len(q.slots) - q.head + q.tail
}

// Empty reports whether the queue holds no elements.
func (q *Queue[T]) Empty() bool { return q.Len() == 0 }

// Cap returns the number of elements the queue can hold before its
// next grow.
func (q *Queue[T]) Cap() int { return len(q.slots) - 1 }

func (q *Queue[T]) full() bool {
	return (q.tail+1)%len(q.slots) == q.head
}

// PushBack appends v to the tail, growing the backing array if full.
func (q *Queue[T]) PushBack(v T) {
	if q.full() {
		q.grow()
	}
	q.slots[q.tail] = v
	q.tail = (q.tail + 1) % len(q.slots)
}

// PopFront removes and returns the head element.
func (q *Queue[T]) PopFront() (T, bool) {
	var zero T
	if q.Empty() {
		return zero, false
	}
	v := q.slots[q.head]
	q.slots[q.head] = zero
	q.head = (q.head + 1) % len(q.slots)
	return v, true
}

// Front returns a pointer to the head element without removing it.
func (q *Queue[T]) Front() (*T, bool) {
	if q.Empty() {
		return nil, false
	}
	return &q.slots[q.head], true
}

// Back returns a pointer to the tail element without removing it.
func (q *Queue[T]) Back() (*T, bool) {
	if q.Empty() {
		return nil, false
	}
	idx := q.tail - 1
	if idx < 0 {
		idx = len(q.slots) - 1
	}
	return &q.slots[idx], true
}

// Walk visits every queued element head-to-tail, stopping early if fn
// returns false.
func (q *Queue[T]) Walk(fn func(*T) bool) {
	if q.Empty() {
		return
	}
	if q.head < q.tail {
		for i := q.head; i < q.tail; i++ {
			if !fn(&q.slots[i]) {
				return
			}
		}
		return
	}
	for i := q.head; i < len(q.slots); i++ {
		if !fn(&q.slots[i]) {
			return
		}
	}
	for i := 0; i < q.tail; i++ {
		if !fn(&q.slots[i]) {
			return
		}
	}
}

// Reset empties the queue, releasing references held by its slots.
func (q *Queue[T]) Reset() {
	var zero T
	for i := range q.slots {
		q.slots[i] = zero
	}
	q.head, q.tail = 0, 0
}

// grow doubles capacity below growDoubleBelow elements, then grows by
// 10% (rounded up) beyond that, to bound the cost of repeated growth
// on long-lived, large queues.
func (q *Queue[T]) grow() {
	oldLen := q.Len()
	cur := len(q.slots)
	var next int
	switch {
	case cur < minCapacity:
		next = minCapacity
	case cur < growDoubleBelow:
		next = cur * 2
	default:
		next = cur + (cur+9)/10
	}

	fresh := make([]T, next)
	if q.head < q.tail {
		copy(fresh, q.slots[q.head:q.tail])
	} else {
		n := copy(fresh, q.slots[q.head:])
		copy(fresh[n:], q.slots[:q.tail])
	}
	q.head, q.tail, q.slots = 0, oldLen, fresh
}
