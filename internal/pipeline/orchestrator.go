package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/observability/logging"
	"mediaforge/internal/observability/metrics"
	"mediaforge/internal/storage"
)

// Tools names the external binaries the pipeline shells out to.
type Tools struct {
	FFmpeg   string
	FFprobe  string
	PDFToPPM string
	PDFInfo  string
}

func (t Tools) withDefaults() Tools {
	if t.FFmpeg == "" {
		t.FFmpeg = "ffmpeg"
	}
	if t.FFprobe == "" {
		t.FFprobe = "ffprobe"
	}
	if t.PDFToPPM == "" {
		t.PDFToPPM = "pdftoppm"
	}
	if t.PDFInfo == "" {
		t.PDFInfo = "pdfinfo"
	}
	return t
}

// Config wires an Orchestrator.
type Config struct {
	Repository storage.Repository
	Store      ObjectStore
	Prober     Prober
	Runner     CommandRunner
	Notifier   Notifier
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	Policy     RetryPolicy
	Ladder     []Rendition
	Tools      Tools
	// WorkDir holds per-job scratch directories. Defaults to the OS temp dir.
	WorkDir string
}

// Orchestrator drives one asset through validation, probing, transcoding,
// and publication. Process is safe to call concurrently for distinct assets
// and idempotent for redelivered ones.
type Orchestrator struct {
	repo     storage.Repository
	store    ObjectStore
	prober   Prober
	runner   CommandRunner
	notifier Notifier
	metrics  *metrics.Recorder
	logger   *slog.Logger
	policy   RetryPolicy
	ladder   []Rendition
	tools    Tools
	workDir  string
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("pipeline: repository is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("pipeline: object store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "pipeline")
	orchestrator := &Orchestrator{
		repo:     cfg.Repository,
		store:    cfg.Store,
		prober:   cfg.Prober,
		runner:   cfg.Runner,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   logger,
		policy:   cfg.Policy,
		ladder:   cfg.Ladder,
		tools:    cfg.Tools.withDefaults(),
		workDir:  cfg.WorkDir,
	}
	if orchestrator.prober == nil {
		orchestrator.prober = NewFFProbe(orchestrator.tools.FFprobe)
	}
	if orchestrator.runner == nil {
		orchestrator.runner = NewExecRunner(logger)
	}
	if orchestrator.notifier == nil {
		orchestrator.notifier = NopNotifier{}
	}
	if orchestrator.policy == nil {
		orchestrator.policy = DefaultRetryPolicy()
	}
	if len(orchestrator.ladder) == 0 {
		orchestrator.ladder = DefaultLadder()
	}
	if orchestrator.workDir == "" {
		orchestrator.workDir = os.TempDir()
	}
	return orchestrator, nil
}

// Policy exposes the retry policy so the worker pool shares the same attempt
// budgets and deadlines.
func (o *Orchestrator) Policy() RetryPolicy {
	return o.policy
}

// Process runs one attempt for the asset. A nil return means the asset
// reached a terminal state (done, partial, or failed with a fatal error and
// recorded as such). A non-nil return means the attempt failed without a
// terminal write; the caller decides whether to retry based on the error
// class.
func (o *Orchestrator) Process(ctx context.Context, assetID string) error {
	asset, ok := o.repo.GetAsset(assetID)
	if !ok {
		o.logger.Warn("asset vanished before processing", "asset_id", assetID)
		return nil
	}
	if asset.Status.Terminal() {
		o.logger.Info("skipping terminal asset", "asset_id", assetID, "status", asset.Status)
		return nil
	}

	ctx = logging.ContextWithAssetID(ctx, asset.ID)
	logger := o.logger.With("asset_id", asset.ID, "kind", asset.Kind)

	running := models.StatusRunning
	asset, err := o.repo.UpdateAsset(asset.ID, storage.AssetUpdate{Status: &running})
	if err != nil {
		return infraError("mark running", err)
	}

	policy := o.policy.For(asset.Kind)
	if policy.SoftDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.SoftDeadline)
		defer cancel()
	}

	o.metrics.JobStarted()
	defer o.metrics.JobFinished()
	started := time.Now()
	logger.Info("processing asset", "object_key", asset.ObjectKey)

	switch asset.Kind {
	case models.KindVideo:
		err = o.processVideo(ctx, asset, logger)
	case models.KindImage:
		err = o.processImage(ctx, asset, logger)
	case models.KindAudio:
		err = o.processAudio(ctx, asset, logger)
	case models.KindFile:
		err = o.processFile(ctx, asset, logger)
	default:
		err = probeError("dispatch", fmt.Errorf("unsupported asset kind %q", asset.Kind))
	}

	if err == nil {
		logger.Info("asset processed", "elapsed", time.Since(started).Round(time.Millisecond))
		return nil
	}

	class := Classify(err)
	if class == ClassInfrastructure {
		logger.Warn("attempt failed, leaving asset retryable", "error", err)
		return err
	}

	logger.Error("asset failed", "class", class, "error", err)
	o.finalizeFailure(asset.ID, class, err)
	return nil
}

// Abandon is called when the retry budget is exhausted: the asset is written
// to its terminal failed (or partial, for video with usable renditions)
// state.
func (o *Orchestrator) Abandon(assetID string, cause error) {
	o.logger.Error("retry budget exhausted", "asset_id", assetID, "error", cause)
	o.finalizeFailure(assetID, Classify(cause), cause)
}

// finalizeFailure records the terminal state for a fatal or abandoned asset.
// Video assets with at least one published rendition finish partial and keep
// their master playable; everything else fails outright.
func (o *Orchestrator) finalizeFailure(assetID string, class ErrorClass, cause error) {
	asset, ok := o.repo.GetAsset(assetID)
	if !ok || asset.Status.Terminal() {
		return
	}

	status := models.StatusFailed
	update := storage.AssetUpdate{Status: &status}
	message := fmt.Sprintf("%s: %v", class, cause)
	update.Error = &message

	if asset.Kind == models.KindVideo && len(asset.Variants.HLSParts) > 0 && asset.Variants.Master != "" {
		status = models.StatusPartial
		update.ResultKey = &asset.Variants.Master
	}

	updated, err := o.repo.UpdateAsset(assetID, update)
	if err != nil {
		o.logger.Error("terminal write failed", "asset_id", assetID, "error", err)
		return
	}
	o.metrics.AssetProcessed(string(asset.Kind), string(status))
	o.notifier.Result(context.Background(), updated)
}

// finalizeSuccess writes the done state with progress 100 in a single
// durable update, then emits the result event.
func (o *Orchestrator) finalizeSuccess(ctx context.Context, assetID string, update storage.AssetUpdate) error {
	done := models.StatusDone
	full := 100.0
	empty := ""
	update.Status = &done
	update.Progress = &full
	update.Error = &empty

	updated, err := o.repo.UpdateAsset(assetID, update)
	if err != nil {
		return infraError("finalize", err)
	}
	o.metrics.AssetProcessed(string(updated.Kind), string(models.StatusDone))
	o.notifier.Result(ctx, updated)
	return nil
}

// progressReporter throttles datastore writes and event publishes to one per
// second per asset. The final 100 is written by finalizeSuccess, never here.
type progressReporter struct {
	orchestrator *Orchestrator
	asset        models.Asset

	mu   sync.Mutex
	last time.Time
}

func (o *Orchestrator) newProgressReporter(asset models.Asset) *progressReporter {
	return &progressReporter{orchestrator: o, asset: asset}
}

func (r *progressReporter) report(ctx context.Context, percent float64) {
	if percent > 99 {
		percent = 99
	}
	r.mu.Lock()
	if time.Since(r.last) < time.Second {
		r.mu.Unlock()
		return
	}
	r.last = time.Now()
	r.mu.Unlock()

	if _, err := r.orchestrator.repo.UpdateAsset(r.asset.ID, storage.AssetUpdate{Progress: &percent}); err != nil {
		r.orchestrator.logger.Debug("progress write failed", "asset_id", r.asset.ID, "error", err)
	}
	r.orchestrator.notifier.Progress(ctx, r.asset, percent)
}

// scratchDir creates a per-job working directory the caller must remove.
func (o *Orchestrator) scratchDir(assetID string) (string, error) {
	dir, err := os.MkdirTemp(o.workDir, "job-"+assetID+"-")
	if err != nil {
		return "", infraError("scratch dir", err)
	}
	return dir, nil
}
