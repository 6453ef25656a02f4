package scheduler

import (
	"container/heap"
	"time"
)

// entry is one pending dispatch
type entry struct {
	executeAt  time.Time
	scheduleID string
	strategyID string
	typ        ExecutionType
	priority   int // 0 is most urgent
}

// queue is a min-heap on executeAt, then priority
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].executeAt.Equal(q[j].executeAt) {
		return q[i].priority < q[j].priority
	}
	return q[i].executeAt.Before(q[j].executeAt)
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// popDue removes and returns every entry due at now, earliest first
func (q *queue) popDue(now time.Time) []*entry {
	var out []*entry
	for q.Len() > 0 && !(*q)[0].executeAt.After(now) {
		out = append(out, heap.Pop(q).(*entry))
	}
	return out
}

func (q *queue) push(e *entry) { heap.Push(q, e) }

// peek returns the earliest entry without removing it
func (q queue) peek() (*entry, bool) {
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}
