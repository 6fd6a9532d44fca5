// Package jobmanager implements the worker runtime from spec.md §4.8: a
// pool of claim loops with concurrency control, heartbeat ticker, and
// graceful shutdown. It is a generalization of a prior JobManager that
// ran a watcher loop plus a processor pool over a market-data priority
// queue; the watcher is gone (this queue has no freshness-driven
// producer — files are enqueued at upload time) but the safeGo
// panic-recovery wrapper, the Start/Stop lifecycle, and the per-slot
// processor loop shape are carried over unchanged.
package jobmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/pipeline"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// Config is the enumerated worker pool configuration from spec.md §4.8.
type Config struct {
	WorkerID     string
	Concurrency  int
	PollMS       int
	LLMTimeoutMS int

	PromptVersion string
	SchemaVersion string

	// PurgeInterval and PurgeRetention drive the supplemental terminal-job
	// purge from SPEC_FULL.md §14. PurgeInterval <= 0 disables it.
	PurgeInterval  time.Duration
	PurgeRetention time.Duration
}

// WorkerPool runs Config.Concurrency parallel claim loops against Jobs,
// each driving Processor end to end for its claimed job and maintaining
// a heartbeat at lock_ttl/3 alongside it (spec.md §4.8).
type WorkerPool struct {
	jobs      interfaces.JobRepository
	admin     interfaces.AdminJobRepository
	processor *pipeline.Processor
	logger    *common.Logger
	clock     common.Clock
	sink      common.EventSink
	hub       *JobEventHub
	config    Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps is the single collaborator-handle struct the worker pool takes,
// per SPEC_FULL.md §13. Hub is optional — callers that need to build a
// common.BroadcastEventSink wrapping the hub before Sink exists (the
// usual case) construct it with NewJobEventHub and pass it in; nil gets
// a fresh one.
type Deps struct {
	Jobs      interfaces.JobRepository
	Admin     interfaces.AdminJobRepository
	Processor *pipeline.Processor
	Logger    *common.Logger
	Clock     common.Clock
	Sink      common.EventSink
	Hub       *JobEventHub
	Config    Config
}

// New returns a WorkerPool over deps.
func New(deps Deps) *WorkerPool {
	hub := deps.Hub
	if hub == nil {
		hub = NewJobEventHub(deps.Logger)
	}
	return &WorkerPool{
		jobs:      deps.Jobs,
		admin:     deps.Admin,
		processor: deps.Processor,
		logger:    deps.Logger,
		clock:     deps.Clock,
		sink:      deps.Sink,
		hub:       hub,
		config:    deps.Config,
	}
}

// Hub returns the admin WebSocket event hub (SPEC_FULL.md §12, §14).
func (p *WorkerPool) Hub() *JobEventHub { return p.hub }

// safeGo launches a goroutine with panic recovery and logging.
func (p *WorkerPool) safeGo(name string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker pool goroutine")
			}
		}()
		fn()
	}()
}

// Start launches Config.Concurrency claim-loop slots, the event hub, and
// (if configured) the terminal-job purge loop. Safe to call multiple
// times — stops any existing loops first.
func (p *WorkerPool) Start() {
	if p.cancel != nil {
		p.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.safeGo("job-event-hub", func() { p.hub.Run() })

	concurrency := p.config.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	for i := 0; i < concurrency; i++ {
		slot := i
		p.safeGo(fmt.Sprintf("worker-slot-%d", slot), func() { p.runSlot(ctx) })
	}

	if p.config.PurgeInterval > 0 && p.admin != nil {
		p.safeGo("terminal-job-purge", func() { p.purgeLoop(ctx) })
	}

	p.logger.Info().
		Str("worker_id", p.config.WorkerID).
		Int("concurrency", concurrency).
		Int("poll_ms", p.config.PollMS).
		Msg("worker pool started")
}

// Stop cancels all slots and waits for in-flight processors to return,
// per spec.md §4.8's graceful shutdown: stop accepting new claims, wait
// for in-flight processors to return or abort their heartbeat losing the
// lease, close the pool.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.hub.Stop()
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *WorkerPool) pollInterval() time.Duration {
	ms := p.config.PollMS
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

// runSlot implements one idle -> claimed -> running -> finalizing -> idle
// cycle, repeated until ctx is cancelled (spec.md §4.8's per-slot state
// machine).
func (p *WorkerPool) runSlot(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := p.clock.Now()
		job, fc, err := p.jobs.Claim(ctx, p.config.WorkerID, now)
		if err != nil {
			p.logger.Warn().Err(err).Msg("claim failed")
			if !sleepOrDone(ctx, p.pollInterval()) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepOrDone(ctx, p.pollInterval()) {
				return
			}
			continue
		}

		p.sink.Emit(ctx, "job_claimed", map[string]any{"job_id": job.ID, "file_id": job.FileID, "worker_id": p.config.WorkerID})
		p.runClaimedJob(ctx, job, fc)
	}
}

// runClaimedJob drives one claimed job through the processor while
// maintaining its lease, then finalizes it.
func (p *WorkerPool) runClaimedJob(ctx context.Context, job *models.ProcessingJob, fc *models.FileContext) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	leaseLost := make(chan struct{})
	p.safeGo("heartbeat-"+job.ID, func() { p.heartbeatLoop(hbCtx, job, leaseLost) })

	processCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-leaseLost:
			cancel()
		case <-processCtx.Done():
		}
	}()

	err := p.processor.Process(processCtx, job, fc, pipeline.Params{
		PromptVersion: p.config.PromptVersion,
		SchemaVersion: p.config.SchemaVersion,
		LLMTimeoutMS:  p.config.LLMTimeoutMS,
	})
	stopHeartbeat()

	if err != nil {
		select {
		case <-leaseLost:
			p.logger.Warn().Str("job_id", job.ID).Msg("lease lost; job left for reclaim without finalizing")
			return
		default:
		}
		classified := asClassified(err)
		if finalizeErr := p.jobs.FinalizeFailure(ctx, job.ID, fc.FileID, classified, p.clock.Now()); finalizeErr != nil {
			p.logger.Error().Str("job_id", job.ID).Err(finalizeErr).Msg("failed to finalize job failure")
			return
		}
		p.sink.Emit(ctx, "job_failed", map[string]any{
			"job_id": job.ID, "file_id": fc.FileID, "error_code": string(classified.Code), "retriable": classified.Retriable,
		})
		return
	}

	p.sink.Emit(ctx, "job_succeeded", map[string]any{"job_id": job.ID, "file_id": fc.FileID})
}

// heartbeatLoop extends job's lease every lock_ttl/3 until ctx is done. A
// lost lease (Heartbeat returning ErrLeaseLost) closes leaseLost so the
// running processor's context is cancelled — it can no longer safely
// assume exclusive ownership of the job (spec.md §5).
func (p *WorkerPool) heartbeatLoop(ctx context.Context, job *models.ProcessingJob, leaseLost chan<- struct{}) {
	interval := time.Duration(job.LockTTLSeconds) * time.Second / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.jobs.Heartbeat(ctx, job.ID, p.config.WorkerID, p.clock.Now()); err != nil {
				p.logger.Warn().Str("job_id", job.ID).Err(err).Msg("heartbeat lost")
				p.sink.Emit(ctx, "job_heartbeat_lost", map[string]any{"job_id": job.ID, "worker_id": p.config.WorkerID})
				close(leaseLost)
				return
			}
		}
	}
}

// purgeLoop periodically deletes terminal processing_jobs rows older
// than Config.PurgeRetention, the supplemental feature from SPEC_FULL.md
// §14.
func (p *WorkerPool) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := p.clock.Now().Add(-p.config.PurgeRetention)
			n, err := p.admin.PurgeTerminal(ctx, cutoff)
			if err != nil {
				p.logger.Warn().Err(err).Msg("failed to purge terminal jobs")
				continue
			}
			if n > 0 {
				p.logger.Info().Int64("count", n).Msg("purged terminal jobs")
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// asClassified recovers the taxonomy.Classified a *pipeline.ClassifiedError
// carries. It is always that concrete type in practice since
// pipeline.Processor.Process never returns a bare error on failure; the
// fallback exists only to keep this boundary total.
func asClassified(err error) taxonomy.Classified {
	if pe, ok := err.(*pipeline.ClassifiedError); ok {
		return pe.Classified
	}
	return taxonomy.Classified{Code: taxonomy.CodeLLMCallFailed, Retriable: false, Message: taxonomy.Sanitize(err.Error())}
}
