// Package workerctl implements the Worker Controller (SPEC §4.6): it
// leases jobs from the queue, spawns workers through infrastructure/worker,
// enforces the global concurrency cap, and reports terminal chunk outcomes
// back to the Scan Engine.
package workerctl

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ventiapi/orchestrator/applications/queue"
	domainchunk "github.com/ventiapi/orchestrator/domain/chunk"
	domainqueue "github.com/ventiapi/orchestrator/domain/queue"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
	"github.com/ventiapi/orchestrator/infrastructure/worker"
)

// ChunkSource resolves the endpoints/mini-spec path and target for a
// scan/chunk pair so the controller does not need to know about scan
// storage internals.
type ChunkSource interface {
	MiniSpecPath(scanID string, chunkIndex int) string
	TargetURL(scanID string) string
	Options(scanID string) (profileID string, maxRequests int, rps float64, dangerousMode, fuzzAuth bool)
	OutputDir(scanID string, chunkIndex int) string
}

// Reporter is notified of chunk lifecycle events so the Scan Engine can
// advance its state machine and progress aggregation (§4.7).
type Reporter interface {
	ChunkStarted(scanID string, chunkIndex int)
	ChunkProgress(scanID string, chunkIndex int, pct int, currentEndpoint string)
	ChunkCompleted(scanID string, chunkIndex int, kind domainchunk.ExitKind, errMessage, findingsPath string)
}

// Controller runs the lease/spawn/report loop against a bounded pool of
// concurrent worker slots (SPEC I7: max_parallel_workers).
type Controller struct {
	queue     *queue.Queue
	launcher  worker.Launcher
	registry  *worker.Registry
	source    ChunkSource
	reporter  Reporter
	logger    *logging.Logger
	slots     chan struct{}
	pollEvery time.Duration
}

// New builds a Controller with maxParallel concurrent worker slots.
func New(q *queue.Queue, launcher worker.Launcher, registry *worker.Registry, source ChunkSource, reporter Reporter, logger *logging.Logger, maxParallel int) *Controller {
	if maxParallel <= 0 {
		maxParallel = 5
	}
	return &Controller{
		queue:     q,
		launcher:  launcher,
		registry:  registry,
		source:    source,
		reporter:  reporter,
		logger:    logger,
		slots:     make(chan struct{}, maxParallel),
		pollEvery: 2 * time.Second,
	}
}

// Run drains the queue until ctx is cancelled, dispatching one goroutine
// per leased job and blocking on the slot channel to enforce the
// concurrency cap.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOnce(ctx)
		}
	}
}

func (c *Controller) drainOnce(ctx context.Context) {
	for {
		select {
		case c.slots <- struct{}{}:
		default:
			return
		}

		job, ok := c.queue.Lease()
		if !ok {
			<-c.slots
			return
		}

		go c.run(ctx, job)
	}
}

func (c *Controller) run(ctx context.Context, job *domainqueue.Job) {
	defer func() {
		<-c.slots
		c.queue.Release()
	}()

	scanID, chunkIndex := job.ScanID, job.ChunkIndex
	c.reporter.ChunkStarted(scanID, chunkIndex)

	profileID, maxRequests, rps, dangerousMode, fuzzAuth := c.source.Options(scanID)
	profile, ok := c.registry.Get(profileID)
	if !ok {
		c.reporter.ChunkCompleted(scanID, chunkIndex, domainchunk.ExitError,
			fmt.Sprintf("worker profile %q is not registered", profileID), "")
		return
	}

	inv := worker.Invocation{
		Profile:       profile,
		MiniSpecPath:  c.source.MiniSpecPath(scanID, chunkIndex),
		TargetURL:     c.source.TargetURL(scanID),
		OutputDir:     c.source.OutputDir(scanID, chunkIndex),
		MaxRequests:   maxRequests,
		RPS:           rps,
		DangerousMode: dangerousMode,
		FuzzAuth:      fuzzAuth,
		Timeout:       profile.Timeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.watchCancellation(runCtx, cancel, job)

	limitBytes := profile.ResourceLimits.MemoryLimitBytes
	inv.OnStart = func(pid int) {
		go c.monitorMemory(runCtx, scanID, chunkIndex, pid, limitBytes)
	}

	launchStart := time.Now()
	result, err := c.launcher.Launch(runCtx, inv)
	c.logger.LogServiceCall(ctx, profileID, "launch", time.Since(launchStart), err)
	if err != nil {
		c.reporter.ChunkCompleted(scanID, chunkIndex, domainchunk.ExitError, err.Error(), "")
		return
	}

	exitKind := mapExitKind(result.Exit)
	if job.Cancelled() {
		exitKind = domainchunk.ExitKilled
	}

	c.logger.LogSecurityEvent(ctx, "worker_exited", map[string]interface{}{
		"scan_id":     scanID,
		"chunk_index": chunkIndex,
		"exit_kind":   string(exitKind),
	})

	c.reporter.ChunkCompleted(scanID, chunkIndex, exitKind, result.Stderr, result.FindingsPath)
}

// watchCancellation propagates the job's own cancellation context (fired
// by the Scan Engine's CancelScan for every job of the scan, §4.5) into the
// worker's run context so Launch terminates the process promptly.
func (c *Controller) watchCancellation(ctx context.Context, cancel context.CancelFunc, job *domainqueue.Job) {
	select {
	case <-job.Context().Done():
		cancel()
	case <-ctx.Done():
	}
}

// monitorMemory polls one worker's RSS against its configured ceiling every
// pollEvery (2s, §4.6) so an approaching OOM kill is
// logged as a security/observability event before the kernel acts.
func (c *Controller) monitorMemory(ctx context.Context, scanID string, chunkIndex, pid int, limitBytes int64) {
	if limitBytes <= 0 {
		return
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := proc.MemoryInfo()
			if err != nil || info == nil {
				return
			}
			if int64(info.RSS) >= (limitBytes*9)/10 {
				c.logger.LogSecurityEvent(ctx, "worker_memory_approaching_limit", map[string]interface{}{
					"scan_id":     scanID,
					"chunk_index": chunkIndex,
					"pid":         pid,
					"rss_bytes":   info.RSS,
					"limit_bytes": limitBytes,
				})
			}
		}
	}
}

func mapExitKind(k worker.ExitKind) domainchunk.ExitKind {
	switch k {
	case worker.ExitSuccess:
		return domainchunk.ExitSuccess
	case worker.ExitBudgetExhausted:
		return domainchunk.ExitBudgetExhausted
	case worker.ExitTimeout:
		return domainchunk.ExitTimeout
	case worker.ExitKilled:
		return domainchunk.ExitKilled
	default:
		return domainchunk.ExitError
	}
}
