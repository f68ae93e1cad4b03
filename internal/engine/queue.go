package engine

import (
	"sync"

	"github.com/roach88/tether/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeSubmit starts a new context for a change.
	EventTypeSubmit EventType = iota + 1
	// EventTypeResume continues a stored context, optionally with an
	// approval decision.
	EventTypeResume
	// EventTypeCancel cancels a suspended context.
	EventTypeCancel
)

func (t EventType) String() string {
	switch t {
	case EventTypeSubmit:
		return "submit"
	case EventTypeResume:
		return "resume"
	case EventTypeCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Decision is the approval decision carried by a resume event.
type Decision string

const (
	// DecisionNone resumes without deciding: a context aborted by a
	// transient failure is retried, a suspended one stays suspended.
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Change is a requested change to one focus object.
type Change struct {
	Type  string
	OID   string
	Delta *ir.ObjectDelta
}

// Event is one unit of work for the engine.
type Event struct {
	Type EventType

	// Change is set for EventTypeSubmit.
	Change *Change

	// ContextID is set for EventTypeResume and EventTypeCancel.
	ContextID string

	// Decision is only meaningful for EventTypeResume.
	Decision Decision

	reply chan Result
}

// Submit builds a submit event.
func Submit(ch Change) Event {
	return Event{Type: EventTypeSubmit, Change: &ch}
}

// Resume builds a resume event.
func Resume(id string, d Decision) Event {
	return Event{Type: EventTypeResume, ContextID: id, Decision: d}
}

// Cancel builds a cancel event.
func Cancel(id string) Event {
	return Event{Type: EventTypeCancel, ContextID: id}
}

// eventQueue is the FIFO feeding the Run loop. signal holds at most one
// pending wake-up and is closed by Close, so a waiting Run loop never
// blocks on a queue that will not grow.
type eventQueue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool
	signal  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

// Enqueue appends e. It reports false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Event{}, false
	}
	e := q.pending[0]
	q.pending[0] = Event{}
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return e, true
}

// Wait fires when an event was enqueued or the queue was closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further events. Queued events can still be dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
}
