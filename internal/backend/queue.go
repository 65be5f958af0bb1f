package backend

import (
	"time"

	"github.com/compozy/redishard/internal/request"
)

// Queue is the strictly-FIFO in-flight request list: replies are paired
// to requests in enqueue order.
type Queue struct {
	items []*request.Request
}

// Push appends req to the tail of the queue on write.
func (q *Queue) Push(req *request.Request) {
	q.items = append(q.items, req)
}

// Head returns the oldest pending request, or nil if the queue is empty.
func (q *Queue) Head() *request.Request {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the head: a complete RESP frame read from the
// backend is dequeued against the head.
func (q *Queue) Pop() *request.Request {
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Len reports the number of pending requests.
func (q *Queue) Len() int { return len(q.items) }

// DrainAll empties the queue, returning every pending request so the
// caller can fail them, e.g. on connection loss, when the pool fails
// every queued request on that backend.
func (q *Queue) DrainAll() []*request.Request {
	items := q.items
	q.items = nil
	return items
}

// NearestDeadline returns the soonest deadline among pending requests, and
// false if the queue is empty. Because the queue is FIFO and every request
// in one pool shares the same timeout_ms, the head always has the nearest
// deadline.
func (q *Queue) NearestDeadline() (time.Time, bool) {
	h := q.Head()
	if h == nil {
		return time.Time{}, false
	}
	return h.Deadline, true
}
