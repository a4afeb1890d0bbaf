package pool

import "container/list"

// waiterResult is delivered to a parked acquirer exactly once: either an
// object handed off by a releaser, or an error from a create the pool
// attempted on its behalf.
type waiterResult[T any] struct {
	it  *item[T]
	err error
}

// waiter is a parked Get() call awaiting handoff of a released object.
// Order is FIFO by arrival (spec.md §4.3/§5). The channel is buffered by
// one so a releaser never blocks handing off, even if the waiter has
// already observed its own deadline and is in the process of removing
// itself from the queue.
type waiter[T any] struct {
	ch chan waiterResult[T]
}

func newWaiter[T any]() *waiter[T] {
	return &waiter[T]{ch: make(chan waiterResult[T], 1)}
}

func (w *waiter[T]) deliver(it *item[T]) bool {
	select {
	case w.ch <- waiterResult[T]{it: it}:
		return true
	default:
		return false
	}
}

func (w *waiter[T]) deliverErr(err error) bool {
	select {
	case w.ch <- waiterResult[T]{err: err}:
		return true
	default:
		return false
	}
}

// waiterElem is an opaque handle to a queued waiter, returned by enqueue
// so a caller can later remove that exact element (e.g. on context
// cancellation); remove scans the queue to confirm it is still present.
type waiterElem[T any] struct {
	e *list.Element
}

// waiterQueue is a plain FIFO list guarded by the same lock discipline as
// the inventory (callers hold inventory.mu while touching it). A
// container/list.List allows arbitrary-element removal, needed when a
// cancelled waiter races a releaser for the same element (spec.md §4.3,
// §5 cancellation).
type waiterQueue[T any] struct {
	l *list.List // of *list.Element wrapping *waiter[T]
}

func newWaiterQueue[T any]() *waiterQueue[T] {
	return &waiterQueue[T]{l: list.New()}
}

// enqueue appends w to the back of the queue.
func (q *waiterQueue[T]) enqueue(w *waiter[T]) *waiterElem[T] {
	return &waiterElem[T]{e: q.l.PushBack(w)}
}

// pushFront re-queues w at the head, used when a capacity reservation
// racily fails right after a waiter was popped for it.
func (q *waiterQueue[T]) pushFront(w *waiter[T]) *waiterElem[T] {
	return &waiterElem[T]{e: q.l.PushFront(w)}
}

// popFront removes and returns the head waiter, or nil if the queue is empty.
func (q *waiterQueue[T]) popFront() *waiter[T] {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	q.l.Remove(e)
	return e.Value.(*waiter[T])
}

// remove deletes a specific element (used by cancellation). Returns true if
// the element was still present (i.e. removal won the race against a
// concurrent popFront/handoff).
func (q *waiterQueue[T]) remove(elem *waiterElem[T]) bool {
	for el := q.l.Front(); el != nil; el = el.Next() {
		if el == elem.e {
			q.l.Remove(el)
			return true
		}
	}
	return false
}

func (q *waiterQueue[T]) len() int { return q.l.Len() }
