package workerctl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ventiapi/orchestrator/applications/queue"
	domainchunk "github.com/ventiapi/orchestrator/domain/chunk"
	domainqueue "github.com/ventiapi/orchestrator/domain/queue"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
	"github.com/ventiapi/orchestrator/infrastructure/worker"
)

type fakeLauncher struct {
	result worker.Result
	err    error
}

func (f *fakeLauncher) Launch(ctx context.Context, inv worker.Invocation) (worker.Result, error) {
	return f.result, f.err
}

type fakeSource struct{}

func (fakeSource) MiniSpecPath(scanID string, chunkIndex int) string { return "/tmp/mini.json" }
func (fakeSource) TargetURL(scanID string) string                    { return "https://example.test" }
func (fakeSource) Options(scanID string) (string, int, float64, bool, bool) {
	return "ventiapi", 400, 2.0, false, false
}
func (fakeSource) OutputDir(scanID string, chunkIndex int) string { return "/tmp/out" }

type recordingReporter struct {
	mu        sync.Mutex
	started   int
	completed []domainchunk.ExitKind
}

func (r *recordingReporter) ChunkStarted(scanID string, chunkIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingReporter) ChunkProgress(scanID string, chunkIndex int, pct int, currentEndpoint string) {
}

func (r *recordingReporter) ChunkCompleted(scanID string, chunkIndex int, kind domainchunk.ExitKind, errMessage, findingsPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, kind)
}

func TestControllerDispatchesLeasedJob(t *testing.T) {
	q := queue.New(10)
	q.Enqueue(domainqueue.New(context.Background(), "scan-1", 0))

	launcher := &fakeLauncher{result: worker.Result{Exit: worker.ExitSuccess}}
	reporter := &recordingReporter{}
	registry := worker.NewRegistry()
	ctl := New(q, launcher, registry, fakeSource{}, reporter, logging.New("test", "error", "text"), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go ctl.Run(ctx)

	deadline := time.After(1500 * time.Millisecond)
	for {
		reporter.mu.Lock()
		done := len(reporter.completed) == 1
		reporter.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for chunk completion report")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if reporter.completed[0] != domainchunk.ExitSuccess {
		t.Fatalf("expected success exit, got %v", reporter.completed[0])
	}
}

func TestControllerReportsUnknownProfile(t *testing.T) {
	q := queue.New(10)
	q.Enqueue(domainqueue.New(context.Background(), "scan-1", 0))

	source := unknownProfileSource{}
	reporter := &recordingReporter{}
	registry := worker.NewRegistry()
	ctl := New(q, &fakeLauncher{}, registry, source, reporter, logging.New("test", "error", "text"), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go ctl.Run(ctx)

	deadline := time.After(1500 * time.Millisecond)
	for {
		reporter.mu.Lock()
		done := len(reporter.completed) == 1
		reporter.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for chunk completion report")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if reporter.completed[0] != domainchunk.ExitError {
		t.Fatalf("expected error exit for unknown profile, got %v", reporter.completed[0])
	}
}

type unknownProfileSource struct{ fakeSource }

func (unknownProfileSource) Options(scanID string) (string, int, float64, bool, bool) {
	return "does-not-exist", 400, 2.0, false, false
}
