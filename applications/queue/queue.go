// Package queue implements the Job Queue (SPEC §4.5): a bounded,
// fairness-preserving admission point between a Scan's partitioned chunks
// and the Worker Controller.
package queue

import (
	"sync"

	domainqueue "github.com/ventiapi/orchestrator/domain/queue"
	"github.com/ventiapi/orchestrator/infrastructure/errors"
)

// Queue holds pending Jobs in a per-scan FIFO, released fairly across
// scans via a round-robin cursor (SPEC §9 Open Question 3: "fair
// round-robin across scans with ready jobs", not oldest-scan-first).
type Queue struct {
	mu       sync.Mutex
	capacity int
	depth    int
	active   int

	pending map[string][]*domainqueue.Job // scan id -> FIFO of waiting jobs
	order   []string                      // scan ids with a non-empty pending deque
	cursor  int
}

// New builds a Queue with the given total capacity (policy default 1024,
// SPEC §4.5).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		capacity: capacity,
		pending:  make(map[string][]*domainqueue.Job),
	}
}

// Enqueue admits job, failing fast with QueueFull once capacity is
// reached.
func (q *Queue) Enqueue(job *domainqueue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.depth >= q.capacity {
		return errors.QueueFull()
	}

	scanID := job.ScanID
	if len(q.pending[scanID]) == 0 {
		q.order = append(q.order, scanID)
	}
	q.pending[scanID] = append(q.pending[scanID], job)
	q.depth++
	return nil
}

// Lease returns the next job to run, advancing the round-robin cursor
// across scans with ready work, or ok=false if nothing is pending.
func (q *Queue) Lease() (job *domainqueue.Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempts := len(q.order)
	for i := 0; i < attempts; i++ {
		if len(q.order) == 0 {
			break
		}
		if q.cursor >= len(q.order) {
			q.cursor = 0
		}
		scanID := q.order[q.cursor]
		deque := q.pending[scanID]
		if len(deque) == 0 {
			q.removeFromOrder(q.cursor)
			continue
		}

		job = deque[0]
		q.pending[scanID] = deque[1:]
		q.depth--
		q.active++

		if len(q.pending[scanID]) == 0 {
			delete(q.pending, scanID)
			q.removeFromOrder(q.cursor)
		} else {
			q.cursor = (q.cursor + 1) % len(q.order)
		}
		return job, true
	}
	return nil, false
}

// removeFromOrder deletes order[i], keeping the cursor pointed at a valid
// (or empty) slot. Caller holds q.mu.
func (q *Queue) removeFromOrder(i int) {
	q.order = append(q.order[:i], q.order[i+1:]...)
	if len(q.order) == 0 {
		q.cursor = 0
	} else if q.cursor >= len(q.order) {
		q.cursor = 0
	}
}

// Release marks a leased job's slot free, decrementing the active count.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active > 0 {
		q.active--
	}
}

// CancelScan drops every still-pending job for scanID (marking each
// cancelled) and reports how many were dropped. Jobs already leased are
// not touched here; the caller is expected to hold the leased Job
// references itself and cancel them directly (SPEC §4.5: "jobs already
// leased are signalled to the Worker Controller for active termination").
func (q *Queue) CancelScan(scanID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	deque, ok := q.pending[scanID]
	if !ok {
		return 0
	}
	for _, j := range deque {
		j.Cancel()
	}
	q.depth -= len(deque)
	delete(q.pending, scanID)
	for i, id := range q.order {
		if id == scanID {
			q.removeFromOrder(i)
			break
		}
	}
	return len(deque)
}

// Depth reports the number of jobs waiting for a worker slot.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Active reports the number of jobs currently leased to a worker.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}
