// Package relay holds host-bound status records on the gateway.
//
// Records are formatted into fixed-capacity buffers and queued in a bounded
// FIFO that the poll loop drains towards the host link at most one record per
// drain tick. A full queue rejects the newest record instead of blocking.
package relay

import "errors"

// DefaultCapacity is the default number of queued records.
const DefaultCapacity = 4

var (
	ErrQueueFull     = errors.New("relay queue full")
	ErrRecordTooLong = errors.New("relay record exceeds capacity")
)

// Queue is a fixed-capacity ring of records. Slots are reused across cycles.
// A Queue is owned by a single poll loop and is not safe for concurrent use.
type Queue struct {
	slots []Record
	head  int
	count int
}

// NewQueue creates a relay queue. A non-positive capacity selects
// DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{slots: make([]Record, capacity)}
}

// Push copies r into the next free slot. A full queue returns ErrQueueFull and
// leaves the queued records untouched.
func (q *Queue) Push(r *Record) error {
	if q.count == len(q.slots) {
		return ErrQueueFull
	}
	q.slots[(q.head+q.count)%len(q.slots)] = *r
	q.count++
	return nil
}

// Peek returns the oldest record without removing it. The pointer stays valid
// until the next Pop.
func (q *Queue) Peek() (*Record, bool) {
	if q.count == 0 {
		return nil, false
	}
	return &q.slots[q.head], true
}

// Pop removes the oldest record. It reports false if the queue was empty.
func (q *Queue) Pop() bool {
	if q.count == 0 {
		return false
	}
	q.slots[q.head].reset()
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	return true
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.slots)
}
