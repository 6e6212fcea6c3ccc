package dispatch

import "sync"

// jobQueue is an unbounded FIFO guarded by its own lock.
type jobQueue struct {
	mu    sync.Mutex
	items []Job
}

func (q *jobQueue) push(j Job) int {
	q.mu.Lock()
	q.items = append(q.items, j)
	n := len(q.items)
	q.mu.Unlock()
	return n
}

func (q *jobQueue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Job{}, false
	}
	j := q.items[0]
	q.items[0] = Job{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// release the backing array once drained
		q.items = nil
	}
	return j, true
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	return n
}
