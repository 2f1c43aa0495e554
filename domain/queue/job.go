// Package queue holds the Job domain model: a queue entry pairing a pending
// Chunk with a cancellation signal (SPEC §3, §4.5).
package queue

import (
	"context"
	"time"
)

// Priority governs release order within a scan. The default is FIFO;
// no other priority is currently assigned by any component.
type Priority int

const (
	PriorityDefault Priority = 0
)

// Job is a queue entry representing a chunk awaiting a worker.
type Job struct {
	ScanID     string
	ChunkIndex int
	EnqueuedAt time.Time
	Priority   Priority

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Job for the given scan/chunk pair with a fresh
// cancellation signal derived from parent.
func New(parent context.Context, scanID string, chunkIndex int) *Job {
	ctx, cancel := context.WithCancel(parent)
	return &Job{
		ScanID:     scanID,
		ChunkIndex: chunkIndex,
		EnqueuedAt: time.Now(),
		Priority:   PriorityDefault,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context returns the job's cancellation context. The Worker Controller
// selects on Context().Done() to detect cancellation while a job is
// leased (SPEC §4.5: "jobs already leased are signalled to the Worker
// Controller for active termination").
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancel signals the job's cancellation context. Safe to call multiple
// times and safe to call whether or not the job has been leased yet.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// Cancelled reports whether the job's cancellation signal has fired.
func (j *Job) Cancelled() bool {
	select {
	case <-j.ctx.Done():
		return true
	default:
		return false
	}
}
