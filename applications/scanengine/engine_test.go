package scanengine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ventiapi/orchestrator/applications/partition"
	"github.com/ventiapi/orchestrator/applications/queue"
	domainchunk "github.com/ventiapi/orchestrator/domain/chunk"
	"github.com/ventiapi/orchestrator/domain/finding"
	"github.com/ventiapi/orchestrator/domain/scan"
	"github.com/ventiapi/orchestrator/infrastructure/cache"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	q := queue.New(10)
	mergeCache := cache.NewTTLCache(time.Minute)
	logger := logging.New("test", "error", "text")
	return New(q, root, mergeCache, logger), root
}

func startSingleChunkScan(t *testing.T, e *Engine) string {
	t.Helper()
	doc := map[string]interface{}{"paths": map[string]interface{}{
		"/a": map[string]interface{}{"get": map[string]interface{}{}},
	}}
	plan := partition.Plan("scan-1", doc, 4, 5, true)
	_, err := e.StartScan(context.Background(), "scan-1", "alice", "https://example.test", "spec-ref", scan.DefaultOptions(), plan, time.Hour)
	if err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	return "scan-1"
}

func TestStartScanWritesMiniSpecsAndEnqueuesJobs(t *testing.T) {
	e, root := newTestEngine(t)
	id := startSingleChunkScan(t, e)

	path := filepath.Join(root, "specs", id, "chunk-0.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected mini-spec written at %s: %v", path, err)
	}
	if e.queue.Depth() != 1 {
		t.Fatalf("expected 1 job enqueued, got %d", e.queue.Depth())
	}
}

func TestChunkLifecycleDrivesScanToCompleted(t *testing.T) {
	e, _ := newTestEngine(t)
	id := startSingleChunkScan(t, e)

	e.ChunkStarted(id, 0)
	st, err := e.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.State != scan.StateRunning {
		t.Fatalf("expected scan running, got %s", st.State)
	}

	e.ChunkProgress(id, 0, 50, "/a")
	st, _ = e.GetStatus(id)
	if st.Progress <= 30 {
		t.Fatalf("expected aggregate progress above initialization band, got %d", st.Progress)
	}

	findingsDir := e.OutputDir(id, 0)
	if err := os.MkdirAll(findingsDir, 0o750); err != nil {
		t.Fatalf("failed to create findings dir: %v", err)
	}
	findingsPath := filepath.Join(findingsDir, "findings.json")
	data, _ := json.Marshal([]finding.Finding{
		{Rule: "r1", Title: "t1", Severity: finding.SeverityHigh, Score: 7, Endpoint: "/a", Method: "GET"},
	})
	if err := os.WriteFile(findingsPath, data, 0o640); err != nil {
		t.Fatalf("failed to write findings fixture: %v", err)
	}

	e.ChunkCompleted(id, 0, domainchunk.ExitSuccess, "", findingsPath)

	st, err = e.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.State != scan.StateCompleted {
		t.Fatalf("expected scan completed, got %s", st.State)
	}
	if st.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", st.Progress)
	}

	page, err := e.GetFindings(context.Background(), id, 0, 10)
	if err != nil {
		t.Fatalf("GetFindings() error = %v", err)
	}
	if page.Total != 1 || page.Summary.High != 1 {
		t.Fatalf("unexpected findings page: %+v", page)
	}
}

func TestBudgetExhaustedCountsAsCompleted(t *testing.T) {
	e, _ := newTestEngine(t)
	id := startSingleChunkScan(t, e)

	e.ChunkStarted(id, 0)
	e.ChunkCompleted(id, 0, domainchunk.ExitBudgetExhausted, "", "")

	st, err := e.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.State != scan.StateCompleted {
		t.Fatalf("expected budget-exhausted to resolve to completed, got %s", st.State)
	}
}

func TestAllFailedChunksResolveToFailedScan(t *testing.T) {
	e, _ := newTestEngine(t)
	id := startSingleChunkScan(t, e)

	e.ChunkStarted(id, 0)
	e.ChunkCompleted(id, 0, domainchunk.ExitError, "boom", "")

	st, err := e.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.State != scan.StateFailed {
		t.Fatalf("expected scan failed, got %s", st.State)
	}
}

func TestGetFindingsRejectsNonTerminalScan(t *testing.T) {
	e, _ := newTestEngine(t)
	id := startSingleChunkScan(t, e)

	if _, err := e.GetFindings(context.Background(), id, 0, 10); err == nil {
		t.Fatal("expected error for non-terminal scan")
	}
}

func TestDeleteScanRemovesArtifactsAndRegistryEntry(t *testing.T) {
	e, root := newTestEngine(t)
	id := startSingleChunkScan(t, e)

	if err := e.DeleteScan(id); err != nil {
		t.Fatalf("DeleteScan() error = %v", err)
	}
	if _, err := e.GetStatus(id); err == nil {
		t.Fatal("expected scan to be gone after delete")
	}
	if _, err := os.Stat(filepath.Join(root, "specs", id)); !os.IsNotExist(err) {
		t.Fatalf("expected spec directory removed, stat err = %v", err)
	}
}

// TestDeleteScanOnAlreadyCancelledScanStillRemovesArtifacts pins DeleteScan's
// reuse of CancelScan: a scan with nothing left to cancel must still have
// its registry entry and artifacts removed, not fail with the Conflict
// CancelScan raises for an already-terminal scan.
func TestDeleteScanOnAlreadyCancelledScanStillRemovesArtifacts(t *testing.T) {
	e, root := newTestEngine(t)
	id := startSingleChunkScan(t, e)

	if err := e.CancelScan(id); err != nil {
		t.Fatalf("CancelScan() error = %v", err)
	}

	if err := e.DeleteScan(id); err != nil {
		t.Fatalf("DeleteScan() on an already-cancelled scan error = %v", err)
	}
	if _, err := e.GetStatus(id); err == nil {
		t.Fatal("expected scan to be gone after delete")
	}
	if _, err := os.Stat(filepath.Join(root, "specs", id)); !os.IsNotExist(err) {
		t.Fatalf("expected spec directory removed, stat err = %v", err)
	}
}

func TestListScansFiltersByOwnerUnlessAdmin(t *testing.T) {
	e, _ := newTestEngine(t)
	startSingleChunkScan(t, e)

	if got := e.List("alice", false); len(got) != 1 {
		t.Fatalf("expected 1 scan for owner, got %d", len(got))
	}
	if got := e.List("bob", false); len(got) != 0 {
		t.Fatalf("expected 0 scans for non-owner, got %d", len(got))
	}
	if got := e.List("bob", true); len(got) != 1 {
		t.Fatalf("expected admin view to see all scans, got %d", len(got))
	}
}
