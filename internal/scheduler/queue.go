package scheduler

import (
	"container/heap"
	"time"
)

// readyItem is one entry in the ready-frontier priority queue: jobs with
// fewer descendants still in the target set are scheduled first (a job nothing
// in the target depends on outranks one with dependents waiting on it; see
// original_source's test_priorities_pytest.py), ties broken by
// (timestamp, job_id) ascending (spec section 4.6).
type readyItem struct {
	jobID       string
	descendants int
	timestamp   time.Time
}

type readyQueue []readyItem

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].descendants != q[j].descendants {
		return q[i].descendants < q[j].descendants // fewer descendants first
	}
	if !q[i].timestamp.Equal(q[j].timestamp) {
		return q[i].timestamp.Before(q[j].timestamp)
	}
	return q[i].jobID < q[j].jobID
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(readyItem)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

var (
	_ heap.Interface = (*readyQueue)(nil)
)
