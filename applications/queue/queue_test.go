package queue

import (
	"context"
	"testing"

	domainqueue "github.com/ventiapi/orchestrator/domain/queue"
)

func TestEnqueueLeaseFIFO(t *testing.T) {
	q := New(10)
	j0 := domainqueue.New(context.Background(), "scan-1", 0)
	j1 := domainqueue.New(context.Background(), "scan-1", 1)
	if err := q.Enqueue(j0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(j1); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	got, ok := q.Lease()
	if !ok || got.ChunkIndex != 0 {
		t.Fatalf("expected chunk 0 leased first, got %+v ok=%v", got, ok)
	}
	got, ok = q.Lease()
	if !ok || got.ChunkIndex != 1 {
		t.Fatalf("expected chunk 1 leased second, got %+v ok=%v", got, ok)
	}
	if _, ok := q.Lease(); ok {
		t.Fatal("expected no more jobs to lease")
	}
}

func TestLeaseIsFairAcrossScans(t *testing.T) {
	q := New(10)
	q.Enqueue(domainqueue.New(context.Background(), "scan-a", 0))
	q.Enqueue(domainqueue.New(context.Background(), "scan-a", 1))
	q.Enqueue(domainqueue.New(context.Background(), "scan-b", 0))

	first, _ := q.Lease()
	second, _ := q.Lease()
	if first.ScanID == second.ScanID {
		t.Fatalf("expected round-robin to interleave scans, got %s then %s", first.ScanID, second.ScanID)
	}
}

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	q := New(1)
	if err := q.Enqueue(domainqueue.New(context.Background(), "scan-1", 0)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(domainqueue.New(context.Background(), "scan-1", 1)); err == nil {
		t.Fatal("expected QueueFull at capacity")
	}
}

func TestCancelScanDropsPendingJobs(t *testing.T) {
	q := New(10)
	j0 := domainqueue.New(context.Background(), "scan-1", 0)
	j1 := domainqueue.New(context.Background(), "scan-1", 1)
	q.Enqueue(j0)
	q.Enqueue(j1)

	dropped := q.CancelScan("scan-1")
	if dropped != 2 {
		t.Fatalf("expected 2 jobs dropped, got %d", dropped)
	}
	if !j0.Cancelled() || !j1.Cancelled() {
		t.Fatal("expected dropped jobs to be cancelled")
	}
	if q.Depth() != 0 {
		t.Fatalf("expected depth 0 after cancel, got %d", q.Depth())
	}
}

func TestLeaseReleaseTracksActive(t *testing.T) {
	q := New(10)
	q.Enqueue(domainqueue.New(context.Background(), "scan-1", 0))
	q.Lease()
	if q.Active() != 1 {
		t.Fatalf("expected 1 active after lease, got %d", q.Active())
	}
	q.Release()
	if q.Active() != 0 {
		t.Fatalf("expected 0 active after release, got %d", q.Active())
	}
}
