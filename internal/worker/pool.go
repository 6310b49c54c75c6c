// Package worker ties the queue consumer to the processing pipeline: it
// deduplicates concurrent deliveries, enforces hard deadlines, classifies
// failures, and schedules retries with backoff.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/observability/logging"
	"mediaforge/internal/observability/metrics"
	"mediaforge/internal/pipeline"
	"mediaforge/internal/queue"
	"mediaforge/internal/storage"
)

// Processor is the slice of the orchestrator the pool drives. Tests swap in
// a fake.
type Processor interface {
	Process(ctx context.Context, assetID string) error
	Abandon(assetID string, cause error)
	Policy() pipeline.RetryPolicy
}

// Requeuer schedules another delivery of a task. Satisfied by
// *queue.Producer.
type Requeuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

type Config struct {
	Store     storage.Repository
	Processor Processor
	Requeuer  Requeuer
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// Pool is the queue handler. One Pool serves every consumer loop in the
// process.
type Pool struct {
	store     storage.Repository
	processor Processor
	requeuer  Requeuer
	metrics   *metrics.Recorder
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	wg sync.WaitGroup
}

func NewPool(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:     cfg.Store,
		processor: cfg.Processor,
		requeuer:  cfg.Requeuer,
		metrics:   cfg.Metrics,
		logger:    logging.WithComponent(logger, "worker"),
		inFlight:  make(map[string]struct{}),
	}
}

// Handle processes one delivered task. Duplicate deliveries of an asset that
// is already being processed are dropped; the checkpoint makes the eventual
// redelivery harmless.
func (p *Pool) Handle(ctx context.Context, task queue.Task) {
	p.mu.Lock()
	if _, busy := p.inFlight[task.AssetID]; busy {
		p.mu.Unlock()
		p.logger.Info("asset already in flight, dropping duplicate delivery", "asset_id", task.AssetID)
		return
	}
	p.inFlight[task.AssetID] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, task.AssetID)
		p.mu.Unlock()
	}()

	asset, ok := p.store.GetAsset(task.AssetID)
	if !ok {
		p.logger.Warn("task references unknown asset", "asset_id", task.AssetID)
		return
	}
	policy := p.processor.Policy().For(asset.Kind)

	jobCtx := ctx
	if policy.HardDeadline > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, policy.HardDeadline)
		defer cancel()
	}

	err := p.processor.Process(jobCtx, task.AssetID)
	if err == nil {
		return
	}
	if !pipeline.Retryable(err) {
		// The orchestrator already wrote the terminal state.
		return
	}

	attempt := task.Attempt + 1
	if attempt >= policy.MaxAttempts {
		p.processor.Abandon(task.AssetID, err)
		return
	}

	delay := policy.Backoff(attempt)
	p.metrics.RetryScheduled(string(asset.Kind), string(pipeline.Classify(err)))
	p.logger.Warn("scheduling retry", "asset_id", task.AssetID,
		"attempt", attempt, "delay", delay.Round(time.Millisecond), "error", err)

	p.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer p.wg.Done()
		requeueCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.requeuer.Enqueue(requeueCtx, queue.Task{AssetID: task.AssetID, Attempt: attempt}); err != nil {
			p.logger.Error("requeue failed, abandoning asset", "asset_id", task.AssetID, "error", err)
			p.processor.Abandon(task.AssetID, err)
		}
	})
}

// RecoverPending re-enqueues every asset left queued or running by a
// previous process. Running assets were mid-flight during a crash; their
// checkpoints make reprocessing cheap.
func (p *Pool) RecoverPending(ctx context.Context) {
	assets := p.store.ListAssetsByStatus(models.StatusQueued, models.StatusRunning)
	if len(assets) == 0 {
		return
	}
	p.logger.Info("recovering unfinished assets", "count", len(assets))
	for _, asset := range assets {
		if err := p.requeuer.Enqueue(ctx, queue.Task{AssetID: asset.ID}); err != nil {
			p.logger.Error("recovery enqueue failed", "asset_id", asset.ID, "error", err)
		}
	}
}

// Drain waits for pending retry timers to fire, bounded by ctx.
func (p *Pool) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
