package partition

import (
	"testing"

	"github.com/ventiapi/orchestrator/domain/specdoc"
)

func specWithPaths(paths ...string) specdoc.Document {
	pathsMap := map[string]interface{}{}
	for _, p := range paths {
		pathsMap[p] = map[string]interface{}{"get": map[string]interface{}{}}
	}
	return specdoc.Document{"paths": pathsMap}
}

func TestPlanHonorsChunkSize(t *testing.T) {
	doc := specWithPaths("/a", "/b", "/c", "/d", "/e")
	result := Plan("scan-1", doc, 2, 10, false)

	if len(result.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(result.Chunks))
	}
	for i, c := range result.Chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.ScanID != "scan-1" {
			t.Errorf("expected scan id propagated, got %q", c.ScanID)
		}
	}
}

func TestPlanForceSingleChunk(t *testing.T) {
	doc := specWithPaths("/a", "/b", "/c", "/d", "/e")
	result := Plan("scan-1", doc, 2, 10, true)

	if len(result.Chunks) != 1 {
		t.Fatalf("expected 1 chunk when forced single, got %d", len(result.Chunks))
	}
	if result.ParallelMode {
		t.Error("expected parallel_mode=false when forced single chunk")
	}
}
