// Package scanengine implements the Scan State Machine & Progress
// Aggregator (SPEC §4.7), the Result Merger (§4.8), and Artifact GC
// (§4.10 retention). It is the authoritative in-memory registry of scans
// and their chunks, and the bridge between the Partitioner/Job Queue and
// the Worker Controller.
package scanengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ventiapi/orchestrator/applications/partition"
	"github.com/ventiapi/orchestrator/applications/queue"
	domainchunk "github.com/ventiapi/orchestrator/domain/chunk"
	"github.com/ventiapi/orchestrator/domain/finding"
	domainqueue "github.com/ventiapi/orchestrator/domain/queue"
	"github.com/ventiapi/orchestrator/domain/scan"
	"github.com/ventiapi/orchestrator/infrastructure/cache"
	"github.com/ventiapi/orchestrator/infrastructure/errors"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
	"github.com/ventiapi/orchestrator/infrastructure/metrics"
	"github.com/ventiapi/orchestrator/infrastructure/security"
)

// entry is one scan's full in-memory record: the Scan aggregate, its
// Chunks, and a serializing lock (§4.7: "all state mutation goes through a
// serializing discipline per scan").
type entry struct {
	mu     sync.Mutex
	scan   *scan.Scan
	chunks []*domainchunk.Chunk
	spec   partition.Result
	jobs   []*domainqueue.Job
}

// Engine owns the scan registry and implements applications/workerctl's
// ChunkSource and Reporter interfaces.
type Engine struct {
	mu           sync.RWMutex
	scans        map[string]*entry
	queue        *queue.Queue
	artifactRoot string
	mergeCache   *cache.TTLCache
	logger       *logging.Logger
	cronSched    *cron.Cron
	metrics      *metrics.Metrics
}

// New builds an Engine rooted at artifactRoot, backed by q for job
// admission and mergeCache for the lazy-memoized merged-findings snapshot
// (§4.8 Open Question 2 resolution: lazy-on-first-read with memoization).
func New(q *queue.Queue, artifactRoot string, mergeCache *cache.TTLCache, logger *logging.Logger) *Engine {
	return &Engine{
		scans:        make(map[string]*entry),
		queue:        q,
		artifactRoot: artifactRoot,
		mergeCache:   mergeCache,
		logger:       logger,
		metrics:      metrics.Global(),
	}
}

// StartScan admits a new scan: it stores the partition plan, creates a
// pending Chunk per mini-spec, enqueues one Job per chunk, and returns the
// created Scan (§4.9 start-scan).
func (e *Engine) StartScan(ctx context.Context, id, ownerPrincipal, targetURL, specRef string, opts scan.Options, plan partition.Result, retention time.Duration) (*scan.Scan, error) {
	s := scan.New(id, ownerPrincipal, targetURL, specRef, opts, retention)
	s.ParallelMode = plan.ParallelMode
	s.TotalChunks = len(plan.Chunks)

	chunks := plan.Chunks

	en := &entry{scan: s, chunks: chunks, spec: plan}
	e.mu.Lock()
	e.scans[id] = en
	e.mu.Unlock()

	if err := e.writeMiniSpecs(id, plan); err != nil {
		return nil, err
	}

	for _, c := range chunks {
		// Jobs outlive the start-scan request, so their cancellation signal
		// is detached from ctx and fired only by CancelScan.
		job := domainqueue.New(context.WithoutCancel(ctx), id, c.Index)
		en.mu.Lock()
		en.jobs = append(en.jobs, job)
		en.mu.Unlock()
		if err := e.queue.Enqueue(job); err != nil {
			return nil, err
		}
	}
	e.metrics.SetQueueDepth(e.queue.Depth())

	s.SetProgress(30) // initialization phase complete: spec ingested, partitioned, enqueued (§4.7)
	return s, nil
}

// writeMiniSpecs persists each partitioned mini-spec to the path
// MiniSpecPath resolves, so the Worker Controller can hand a concrete file
// to the worker process.
func (e *Engine) writeMiniSpecs(scanID string, plan partition.Result) error {
	dir := filepath.Join(e.artifactRoot, "specs", scanID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Internal("failed to create mini-spec directory", err)
	}
	for i, mini := range plan.MiniSpecs {
		data, err := json.Marshal(mini)
		if err != nil {
			return errors.Internal("failed to encode mini-spec", err)
		}
		path := e.MiniSpecPath(scanID, i)
		if err := os.WriteFile(path, data, 0o640); err != nil {
			return errors.Internal("failed to persist mini-spec", err)
		}
	}
	return nil
}

func (e *Engine) get(scanID string) (*entry, error) {
	e.mu.RLock()
	en, ok := e.scans[scanID]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("scan", scanID)
	}
	return en, nil
}

// --- workerctl.ChunkSource ---

// MiniSpecPath resolves the partitioned mini-spec path for a chunk.
func (e *Engine) MiniSpecPath(scanID string, chunkIndex int) string {
	return filepath.Join(e.artifactRoot, "specs", scanID, fmt.Sprintf("chunk-%d.json", chunkIndex))
}

// TargetURL returns the scan's validated target.
func (e *Engine) TargetURL(scanID string) string {
	en, err := e.get(scanID)
	if err != nil {
		return ""
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.scan.TargetURL
}

// Options returns the profile id and per-scan run options for a chunk.
func (e *Engine) Options(scanID string) (profileID string, maxRequests int, rps float64, dangerousMode, fuzzAuth bool) {
	en, err := e.get(scanID)
	if err != nil {
		return "ventiapi", 400, 2.0, false, false
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	opts := en.scan.Options
	profile := "ventiapi"
	if len(opts.Scanners) > 0 {
		profile = opts.Scanners[0]
	}
	return profile, opts.MaxRequests, opts.RPS, opts.DangerousMode, opts.FuzzAuth
}

// OutputDir resolves the per-chunk artifact directory (§6.6).
func (e *Engine) OutputDir(scanID string, chunkIndex int) string {
	return filepath.Join(e.artifactRoot, "results", scanID, fmt.Sprintf("chunk-%d", chunkIndex))
}

// --- workerctl.Reporter ---

// ChunkStarted transitions the chunk (and, if this is the first chunk to
// start, the scan) to running (§4.7: "queued -> running: on first job
// leased by a worker").
func (e *Engine) ChunkStarted(scanID string, chunkIndex int) {
	en, err := e.get(scanID)
	if err != nil {
		return
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	en.scan.Transition(scan.StateRunning)
	if c := chunkAt(en.chunks, chunkIndex); c != nil {
		c.Transition(domainchunk.StateRunning)
	}
	e.recomputeProgressLocked(en)
}

// ChunkProgress records a chunk's reported progress/current-endpoint and
// recomputes the scan's aggregate progress (§4.7).
func (e *Engine) ChunkProgress(scanID string, chunkIndex int, pct int, currentEndpoint string) {
	en, err := e.get(scanID)
	if err != nil {
		return
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	if c := chunkAt(en.chunks, chunkIndex); c != nil {
		c.SetProgress(pct)
		c.CurrentEndpoint = currentEndpoint
	}
	e.recomputeProgressLocked(en)
}

// ChunkCompleted records a chunk's terminal outcome and, once every chunk
// has reached a terminal state, resolves the scan's own terminal state
// via the partial-success rule (§4.7).
func (e *Engine) ChunkCompleted(scanID string, chunkIndex int, kind domainchunk.ExitKind, errMessage, findingsPath string) {
	en, err := e.get(scanID)
	if err != nil {
		return
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	c := chunkAt(en.chunks, chunkIndex)
	if c == nil {
		return
	}
	if kind == domainchunk.ExitKilled {
		c.Transition(domainchunk.StateCancelled)
	} else {
		c.Complete(kind, errMessage)
	}
	c.FindingsPath = findingsPath

	duration := c.CompletedAt.Sub(c.StartedAt)
	e.metrics.RecordChunkCompleted("orchestrator", "ventiapi", string(c.ExitKind), duration)

	e.recomputeProgressLocked(en)
	e.resolveTerminalStateLocked(en)

	e.logger.LogSecurityEvent(context.Background(), "chunk_completed", map[string]interface{}{
		"scan_id":     scanID,
		"chunk_index": chunkIndex,
		"exit_kind":   string(kind),
	})
}

func chunkAt(chunks []*domainchunk.Chunk, index int) *domainchunk.Chunk {
	for _, c := range chunks {
		if c.Index == index {
			return c
		}
	}
	return nil
}

// recomputeProgressLocked applies §4.7's weighted phase formula: 0-30%
// initialization, 30-80% scales with mean chunk progress, 80-90% merge,
// 90-100% finalization. The merge/finalization bands have no intermediate
// steps: resolveTerminalStateLocked sets 100 once every chunk is terminal
// and at least one completed.
func (e *Engine) recomputeProgressLocked(en *entry) {
	if len(en.chunks) == 0 {
		return
	}
	total := 0
	for _, c := range en.chunks {
		total += c.Progress
	}
	mean := total / len(en.chunks)
	pct := 30 + (mean*50)/100
	en.scan.SetProgress(pct)
	if mean > 0 {
		en.scan.CurrentPhase = "scanning"
	}
}

// resolveTerminalStateLocked applies §4.7's completion rules once every
// chunk has reached a terminal state.
func (e *Engine) resolveTerminalStateLocked(en *entry) {
	allTerminal := true
	anyCompleted := false
	for _, c := range en.chunks {
		if !c.State.IsTerminal() {
			allTerminal = false
			break
		}
		if c.State == domainchunk.StateCompleted {
			anyCompleted = true
		}
	}
	if !allTerminal {
		return
	}

	if anyCompleted {
		en.scan.Transition(scan.StateCompleted)
		en.scan.SetProgress(100)
		en.scan.CurrentPhase = "finalized"
	} else {
		en.scan.Transition(scan.StateFailed)
		en.scan.ErrorSummary = "all chunks failed"
	}

	e.metrics.RecordScanCompleted("orchestrator", string(en.scan.State), time.Since(en.scan.StartedAt))
}

// Status is the §6.4 scan status body.
type Status struct {
	ScanID        string        `json:"scan_id"`
	State         scan.State    `json:"state"`
	Progress      int           `json:"progress"`
	CurrentPhase  string        `json:"current_phase"`
	FindingsCount int           `json:"findings_count"`
	ParallelMode  bool          `json:"parallel_mode"`
	TotalChunks   int           `json:"total_chunks"`
	ChunkStatus   []ChunkStatus `json:"chunk_status"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// ChunkStatus is one entry of Status.ChunkStatus (§6.4).
type ChunkStatus struct {
	ChunkIndex      int               `json:"chunk_index"`
	State           domainchunk.State `json:"state"`
	Progress        int               `json:"progress"`
	CurrentEndpoint string            `json:"current_endpoint,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// GetStatus builds the current status snapshot for a scan (§4.9
// get-scan-status).
func (e *Engine) GetStatus(scanID string) (Status, error) {
	en, err := e.get(scanID)
	if err != nil {
		return Status{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	st := Status{
		ScanID:       en.scan.ID,
		State:        en.scan.State,
		Progress:     en.scan.Progress,
		CurrentPhase: en.scan.CurrentPhase,
		ParallelMode: en.scan.ParallelMode,
		TotalChunks:  en.scan.TotalChunks,
		StartedAt:    en.scan.StartedAt,
		Error:        en.scan.ErrorSummary,
	}
	if !en.scan.CompletedAt.IsZero() {
		t := en.scan.CompletedAt
		st.CompletedAt = &t
	}
	for _, c := range en.chunks {
		st.ChunkStatus = append(st.ChunkStatus, ChunkStatus{
			ChunkIndex:      c.Index,
			State:           c.State,
			Progress:        c.Progress,
			CurrentEndpoint: c.CurrentEndpoint,
			Error:           c.ErrorMessage,
		})
	}
	sort.Slice(st.ChunkStatus, func(i, j int) bool { return st.ChunkStatus[i].ChunkIndex < st.ChunkStatus[j].ChunkIndex })
	return st, nil
}

// Owner returns the scan's owning principal id, used by the Control API to
// enforce owner-only access.
func (e *Engine) Owner(scanID string) (string, error) {
	en, err := e.get(scanID)
	if err != nil {
		return "", err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.scan.OwnerPrincipal, nil
}

// List returns a snapshot of every scan owned by ownerPrincipal, or every
// scan if includeAll is set (admin view, §4.9 list-scans).
func (e *Engine) List(ownerPrincipal string, includeAll bool) []Status {
	e.mu.RLock()
	ids := make([]string, 0, len(e.scans))
	for id := range e.scans {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	sort.Strings(ids)
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		en, err := e.get(id)
		if err != nil {
			continue
		}
		en.mu.Lock()
		owner := en.scan.OwnerPrincipal
		en.mu.Unlock()
		if !includeAll && owner != ownerPrincipal {
			continue
		}
		if st, err := e.GetStatus(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// FindingsPage is the §6.5 findings page body.
type FindingsPage struct {
	Findings []finding.Finding `json:"findings"`
	Summary  finding.Summary   `json:"summary"`
	Total    int               `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
}

// GetFindings returns a paginated page of the merged findings view
// (§4.8). The full merged set is computed on the first request and then
// served from the merge cache until that cache entry expires.
func (e *Engine) GetFindings(ctx context.Context, scanID string, offset, limit int) (FindingsPage, error) {
	en, err := e.get(scanID)
	if err != nil {
		return FindingsPage{}, err
	}
	en.mu.Lock()
	state := en.scan.State
	en.mu.Unlock()

	if !state.IsTerminal() {
		return FindingsPage{}, errors.NotReady("scan has not reached a terminal state")
	}

	all, err := e.mergedFindings(ctx, scanID)
	if err != nil {
		return FindingsPage{}, err
	}

	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := all[offset:end]
	return FindingsPage{
		Findings: page,
		Summary:  finding.Summarize(all),
		Total:    total,
		Offset:   offset,
		Limit:    limit,
	}, nil
}

// mergedFindings implements §4.8's merge algorithm with lazy memoization:
// on first request it reads every completed chunk's findings artifact in
// chunk-index order (no cross-chunk dedup), writes results/<scan_id>/
// merged.json, and caches the decoded slice; subsequent calls serve the
// cache.
func (e *Engine) mergedFindings(ctx context.Context, scanID string) ([]finding.Finding, error) {
	if cached, ok := e.mergeCache.Get(ctx, scanID); ok {
		return cached.([]finding.Finding), nil
	}

	en, err := e.get(scanID)
	if err != nil {
		return nil, err
	}
	en.mu.Lock()
	chunks := append([]*domainchunk.Chunk(nil), en.chunks...)
	en.mu.Unlock()
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	var merged []finding.Finding
	for _, c := range chunks {
		if c.State != domainchunk.StateCompleted || c.FindingsPath == "" {
			continue
		}
		items, err := readFindingsArtifact(c.FindingsPath, scanID, c.Index)
		if err != nil {
			e.logger.LogSecurityEvent(ctx, "findings_artifact_unreadable", map[string]interface{}{
				"scan_id": scanID, "chunk_index": c.Index, "error": err.Error(),
			})
			continue
		}
		merged = append(merged, items...)
	}

	mergedPath := filepath.Join(e.artifactRoot, "results", scanID, "merged.json")
	if data, err := json.Marshal(merged); err == nil {
		_ = os.MkdirAll(filepath.Dir(mergedPath), 0o750)
		_ = os.WriteFile(mergedPath, data, 0o640)
	}

	bySeverity := make(map[finding.Severity]int)
	for _, f := range merged {
		bySeverity[f.Severity]++
	}
	for sev, count := range bySeverity {
		e.metrics.RecordFindingsEmitted("orchestrator", "ventiapi", string(sev), count)
	}

	e.mergeCache.Set(ctx, scanID, merged)
	return merged, nil
}

func readFindingsArtifact(path, scanID string, chunkIndex int) ([]finding.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []finding.Finding
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].ScanID = scanID
		items[i].ChunkIndex = chunkIndex
		items[i].Evidence.Request = security.SanitizeString(items[i].Evidence.Request)
		items[i].Evidence.Response = security.SanitizeString(items[i].Evidence.Response)
		items[i].Evidence.Cap()
	}
	return items, nil
}

// CancelScan drops a scan's still-pending jobs from the queue, fires every
// job's cancellation context, and marks pending/running chunks cancelled;
// already-leased chunks are terminated by the Worker Controller observing
// that context (§4.5, §4.6).
func (e *Engine) CancelScan(scanID string) error {
	en, err := e.get(scanID)
	if err != nil {
		return err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	if !en.scan.Transition(scan.StateCancelled) {
		return errors.Conflict("scan is already in a terminal state")
	}
	e.queue.CancelScan(scanID)
	for _, j := range en.jobs {
		j.Cancel()
	}
	for _, c := range en.chunks {
		if c.State == domainchunk.StatePending || c.State == domainchunk.StateRunning {
			c.Transition(domainchunk.StateCancelled)
		}
	}
	return nil
}

// DeleteScan removes a scan's in-memory record and on-disk artifacts
// (§4.9 delete-scan): active workers are cancelled first, via CancelScan —
// a scan already in a terminal state has nothing left to cancel, so that
// Conflict is expected here and ignored rather than aborting the delete.
func (e *Engine) DeleteScan(scanID string) error {
	if _, err := e.get(scanID); err != nil {
		return err
	}
	if err := e.CancelScan(scanID); err != nil && !errors.IsConflict(err) {
		return err
	}

	e.mu.Lock()
	delete(e.scans, scanID)
	e.mu.Unlock()

	e.mergeCache.Delete(context.Background(), scanID)

	for _, dir := range []string{
		filepath.Join(e.artifactRoot, "specs", scanID),
		filepath.Join(e.artifactRoot, "results", scanID),
	} {
		if err := os.RemoveAll(dir); err != nil {
			return errors.Internal("failed to remove scan artifacts", err)
		}
	}
	return nil
}

// StartRetentionSweep schedules the Artifact GC as a fixed cron job
// (§4.10 retention: scans past their RetentionDeadline are purged).
func (e *Engine) StartRetentionSweep(schedule string) error {
	e.cronSched = cron.New()
	_, err := e.cronSched.AddFunc(schedule, e.sweepExpired)
	if err != nil {
		return fmt.Errorf("scanengine: invalid retention schedule %q: %w", schedule, err)
	}
	e.cronSched.Start()
	return nil
}

// StopRetentionSweep stops the cron scheduler, if running.
func (e *Engine) StopRetentionSweep() {
	if e.cronSched != nil {
		e.cronSched.Stop()
	}
}

func (e *Engine) sweepExpired() {
	now := time.Now()
	e.mu.RLock()
	var expired []string
	for id, en := range e.scans {
		en.mu.Lock()
		deadline := en.scan.RetentionDeadline
		terminal := en.scan.State.IsTerminal()
		en.mu.Unlock()
		if terminal && now.After(deadline) {
			expired = append(expired, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range expired {
		if err := e.DeleteScan(id); err != nil {
			e.logger.LogSecurityEvent(context.Background(), "retention_sweep_delete_failed", map[string]interface{}{
				"scan_id": id, "error": err.Error(),
			})
			continue
		}
		e.logger.LogSecurityEvent(context.Background(), "retention_sweep_deleted", map[string]interface{}{
			"scan_id": id,
		})
	}
}
