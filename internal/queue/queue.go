package queue

import "errors"

// Discipline decides which end of the queue Pop takes elements from.
type Discipline int

const (
	FIFO Discipline = iota
	LIFO
)

func (d Discipline) String() string {
	if d == LIFO {
		return "lifo"
	}
	return "fifo"
}

// Queue is a work queue. The zero value is an empty FIFO queue.
type Queue[E any] struct {
	Discipline Discipline

	elements []E
	head     int
}

func (q *Queue[E]) Push(e E) {
	q.elements = append(q.elements, e)
}

func (q *Queue[E]) Empty() bool {
	return q.Len() == 0
}

func (q *Queue[E]) Len() int {
	return len(q.elements) - q.head
}

var ErrEmpty = errors.New("Queue is empty")

func (q *Queue[E]) Pop() E {
	if q.Empty() {
		panic(ErrEmpty)
	}

	var zero E
	if q.Discipline == LIFO {
		last := len(q.elements) - 1
		e := q.elements[last]
		q.elements[last] = zero
		q.elements = q.elements[:last]
		return e
	}

	e := q.elements[q.head]
	q.elements[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 > len(q.elements) {
		q.elements = append(q.elements[:0], q.elements[q.head:]...)
		q.head = 0
	}
	return e
}
