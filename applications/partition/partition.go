// Package partition is the thin orchestration layer over domain/specdoc:
// it applies the configured chunk-size and max-parallelism policy and
// turns the resulting plan into domain/chunk.Chunk values for a Scan
// (SPEC §4.4).
package partition

import (
	"github.com/ventiapi/orchestrator/domain/chunk"
	"github.com/ventiapi/orchestrator/domain/specdoc"
)

// Result is a partitioning outcome ready to hand to the Job Queue.
type Result struct {
	Chunks       []*chunk.Chunk
	MiniSpecs    []specdoc.Document
	ParallelMode bool
}

// Plan partitions doc for scanID using the given chunk size and maximum
// parallelism, both drawn from scan options and worker policy
// respectively. forceSingleChunk implements §6.2's `parallel_mode=false`
// override: when set, the whole spec is emitted as one chunk regardless
// of its path count.
func Plan(scanID string, doc specdoc.Document, chunkSize, maxParallelism int, forceSingleChunk bool) Result {
	if forceSingleChunk {
		ops := specdoc.ExtractOperations(doc)
		groups := specdoc.GroupByPath(ops)
		mini := specdoc.Partition(doc, len(groups)+1, 1)
		return buildResult(scanID, mini)
	}
	return buildResult(scanID, specdoc.Partition(doc, chunkSize, maxParallelism))
}

func buildResult(scanID string, plan specdoc.Plan) Result {
	chunks := make([]*chunk.Chunk, len(plan.MiniSpecs))
	for i := range plan.MiniSpecs {
		endpoints := []chunk.Endpoint{}
		if i < len(plan.ChunkEndpoints) {
			endpoints = plan.ChunkEndpoints[i]
		}
		chunks[i] = chunk.New(scanID, i, endpoints)
	}
	return Result{
		Chunks:       chunks,
		MiniSpecs:    plan.MiniSpecs,
		ParallelMode: plan.ParallelMode,
	}
}
