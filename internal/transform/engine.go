package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"datastudio/internal/config"
	"datastudio/internal/dataset"
	"datastudio/internal/logging"
	"datastudio/internal/preflight"
	"datastudio/internal/publish"
	"datastudio/internal/staging"
)

// Result describes a published dataset.
type Result struct {
	RunID         string
	Kind          Kind
	RepoID        string
	Location      publish.Location
	Episodes      int
	Frames        int
	Tasks         int
	Rows          int64
	VideosCopied  int
	MissingAssets []MissingAsset
	Duration      time.Duration
}

// Engine runs transformation plans. It is safe for concurrent use; runs for
// the same destination are serialized by a lock file and the loser fails
// with ErrBusy.
type Engine struct {
	cfg       *config.Config
	publisher publish.Publisher
	logger    *slog.Logger
}

// NewEngine wires an engine. A nil publisher publishes locally into the
// configured datasets directory.
func NewEngine(cfg *config.Config, publisher publish.Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if publisher == nil {
		publisher = publish.NewLocal(cfg.Paths.DatasetsDir, logger)
	}
	return &Engine{cfg: cfg, publisher: publisher, logger: logging.NewComponentLogger(logger, "transform")}
}

// Filter builds and publishes a subset of one dataset.
func (e *Engine) Filter(ctx context.Context, runID string, req FilterRequest, reporter Reporter) (Result, error) {
	return e.run(ctx, runID, req.Destination, reporter, func() (Plan, error) {
		return NewFilterPlan(req)
	})
}

// Merge builds and publishes the concatenation of several datasets.
func (e *Engine) Merge(ctx context.Context, runID string, req MergeRequest, reporter Reporter) (Result, error) {
	return e.run(ctx, runID, req.Destination, reporter, func() (Plan, error) {
		return NewMergePlan(req, MergeOptions{
			SupportedVersions: e.cfg.Engine.SupportedVersions,
			DefaultToleranceS: e.cfg.Engine.DefaultToleranceS,
			FallbackChunkSize: e.cfg.Engine.ChunkSizeFallback,
		})
	})
}

// Run drives an already-built plan.
func (e *Engine) Run(ctx context.Context, runID string, plan Plan, reporter Reporter) (Result, error) {
	return e.run(ctx, runID, plan.Destination(), reporter, func() (Plan, error) { return plan, nil })
}

// pipeline carries the mutable state of one run.
type pipeline struct {
	runID    string
	reporter Reporter
	logger   *slog.Logger

	mu       sync.Mutex
	stage    Stage
	fraction float64
	sampler  *logging.ProgressSampler
}

func (p *pipeline) enter(stage Stage, fraction float64, message string) {
	p.mu.Lock()
	p.stage = stage
	if fraction > p.fraction {
		p.fraction = fraction
	}
	current := p.fraction
	p.mu.Unlock()

	p.reporter.Report(stage, current, message)
	p.logger.Info(message,
		logging.String(logging.FieldStage, string(stage)),
		logging.Float64("progress", current),
		logging.String(logging.FieldEventType, "stage_"+string(stage)),
	)
}

func (p *pipeline) currentStage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// stepProgress maps done/total into [from, to] and reports it.
func (p *pipeline) stepProgress(from, to float64, label string) func(done, total int) {
	return func(done, total int) {
		if total <= 0 {
			return
		}
		fraction := from + (to-from)*float64(done)/float64(total)
		message := fmt.Sprintf("%s %d/%d", label, done, total)

		p.mu.Lock()
		stage := p.stage
		if fraction > p.fraction {
			p.fraction = fraction
		}
		current := p.fraction
		shouldLog := p.sampler.ShouldLog(float64(done)/float64(total), label)
		p.mu.Unlock()

		p.reporter.Report(stage, current, message)
		if shouldLog {
			p.logger.Debug(message, logging.String(logging.FieldStage, string(stage)), logging.Float64("progress", current))
		}
	}
}

func (p *pipeline) fail(err error) error {
	p.mu.Lock()
	stage := p.stage
	current := p.fraction
	p.mu.Unlock()

	if ErrorKind(err) == "internal" {
		err = Wrap(nil, stage, "", "", err)
	}
	p.reporter.Report(StageFailed, current, err.Error())
	logging.ErrorWithContext(p.logger, "run failed", "run_failed",
		logging.String(logging.FieldStage, string(stage)),
		logging.String("kind", ErrorKind(err)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hintFor(err)),
	)
	return err
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "check that the sources share fps, features, and a supported version"
	case errors.Is(err, ErrNotFound):
		return "check the source repo ids and episode indices"
	case errors.Is(err, ErrBusy):
		return "wait for the other run on this destination to finish"
	case errors.Is(err, ErrPublish):
		return "check the publish target configuration and credentials"
	default:
		return "check logs for details"
	}
}

func (e *Engine) run(ctx context.Context, runID, destination string, reporter Reporter, build func() (Plan, error)) (Result, error) {
	start := time.Now()
	if reporter == nil {
		reporter = nopReporter{}
	}
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithRepoID(ctx, destination)
	p := &pipeline{
		runID:    runID,
		reporter: reporter,
		logger:   logging.WithContext(ctx, e.logger),
		sampler:  logging.NewProgressSampler(0.25),
	}
	p.enter(StageStarted, 0, "run started")

	plan, err := build()
	if err != nil {
		return Result{}, p.fail(err)
	}

	lock, err := staging.LockDestination(e.cfg.Paths.StagingDir, plan.Destination())
	if err != nil {
		if errors.Is(err, staging.ErrLocked) {
			return Result{}, p.fail(Wrap(ErrBusy, StageStarted, "lock destination", plan.Destination(), err))
		}
		return Result{}, p.fail(err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.logger.Warn("failed to release destination lock",
				logging.String("path", lock.Path()),
				logging.Error(err),
				logging.String(logging.FieldEventType, "lock_release_failed"),
				logging.String(logging.FieldErrorHint, "remove the lock file if no run is active"),
				logging.String(logging.FieldImpact, "later runs on this destination may report busy"),
			)
		}
	}()

	if v, ok := plan.(Validator); ok {
		p.enter(StageValidating, 0, "validating sources")
		if err := v.Validate(ctx); err != nil {
			return Result{}, p.fail(err)
		}
	}
	if err := e.checkScratchSpace(plan); err != nil {
		return Result{}, p.fail(err)
	}
	p.enter(p.currentStage(), progressValidated, "validation passed")

	res, err := e.build(ctx, p, plan)
	if err != nil {
		return Result{}, p.fail(err)
	}
	res.RunID = runID
	res.Kind = plan.Kind()
	res.Duration = time.Since(start)
	p.enter(StageDone, progressPublished, fmt.Sprintf("published %s to %s", plan.Destination(), res.Location.URI))
	return res, nil
}

// checkScratchSpace fails with ErrValidation when staging_dir is not usable or
// lacks room for the files the plan will write.
func (e *Engine) checkScratchSpace(plan Plan) error {
	access := preflight.CheckDirectoryAccess("Staging directory", e.cfg.Paths.StagingDir)
	if !access.Passed {
		return Wrap(ErrValidation, "", "preflight", access.Detail, nil)
	}
	need := plan.InputBytes(e.cfg.Engine.ChunkSizeFallback)
	space := preflight.CheckFreeSpace("Staging directory", e.cfg.Paths.StagingDir, need)
	if !space.Passed {
		return Wrap(ErrValidation, "", "preflight", space.Detail, nil)
	}
	return nil
}

// build runs every stage after validation. The scratch tree is always
// removed on return; after a successful local publish it is already empty.
func (e *Engine) build(ctx context.Context, p *pipeline, plan Plan) (Result, error) {
	p.enter(StageAssembling, progressValidated, "assembling metadata")
	idx, err := plan.ComputeIndexMaps()
	if err != nil {
		return Result{}, err
	}

	template := plan.Sources()[0]
	codec, err := dataset.CodecByName(e.cfg.Engine.RowCodec)
	if err != nil {
		return Result{}, Wrap(ErrValidation, StageAssembling, "row codec", "", err)
	}
	layout, err := dataset.NewLayout(template.ChunkSize(e.cfg.Engine.ChunkSizeFallback), codec.Extension(), template.Info.VideoExtension())
	if err != nil {
		return Result{}, Wrap(ErrValidation, StageAssembling, "layout", "", err)
	}
	meta, err := plan.AssembleMetadata(idx, layout)
	if err != nil {
		return Result{}, err
	}

	scratch, err := staging.NewScratch(e.cfg.Paths.StagingDir, p.runID, plan.Destination())
	if err != nil {
		return Result{}, Wrap(nil, StageAssembling, "create scratch", "", err)
	}
	defer func() {
		if err := scratch.Remove(); err != nil {
			p.logger.Warn("failed to remove scratch directory",
				logging.String("path", scratch.RunDir),
				logging.Error(err),
				logging.String(logging.FieldEventType, "scratch_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "run datastudio staging clean"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
		}
	}()
	p.enter(StageAssembling, progressAssembled,
		fmt.Sprintf("metadata assembled: %d episodes, %d tasks", len(meta.Episodes), len(meta.Tasks)))

	out := Output{
		Root:              scratch.Dir,
		Layout:            layout,
		Codec:             codec,
		Workers:           e.cfg.Engine.Workers,
		VerifyCopies:      e.cfg.Engine.VerifyCopies,
		FallbackChunkSize: e.cfg.Engine.ChunkSizeFallback,
		Logger:            p.logger,
	}

	p.enter(StageWritingRows, progressAssembled, "writing frame rows")
	out.Progress = p.stepProgress(progressAssembled, progressRows, "rows")
	rows, err := plan.TransformRows(ctx, idx, out)
	if err != nil {
		return Result{}, err
	}
	if rows.Foreign > 0 {
		logging.WarnWithContext(p.logger, "dropped rows belonging to other episodes", "foreign_rows_dropped",
			logging.Int64("rows", rows.Foreign),
			logging.String(logging.FieldImpact, "data files only contain their own episode"),
		)
	}
	p.enter(StageWritingRows, progressRows, fmt.Sprintf("rows written: %d", rows.Rows))

	p.enter(StageCopyingAssets, progressRows, "copying videos")
	out.Progress = p.stepProgress(progressRows, progressAssets, "videos")
	assets, err := plan.CopyAssets(ctx, idx, out)
	if err != nil {
		return Result{}, err
	}
	p.enter(StageCopyingAssets, progressAssets,
		fmt.Sprintf("assets copied: %d (%d missing)", assets.Copied, len(assets.Missing)))

	p.enter(StageWritingMetadata, progressAssets, "writing metadata")
	if err := writeMetadata(scratch.Dir, plan.Destination(), meta); err != nil {
		return Result{}, Wrap(nil, StageWritingMetadata, "write metadata", "", err)
	}
	p.enter(StageWritingMetadata, progressMetadata, "metadata written")

	p.enter(StagePublishing, progressMetadata, fmt.Sprintf("publishing via %s", e.publisher.Name()))
	loc, err := e.publisher.Publish(ctx, scratch.Dir, plan.Destination())
	if err != nil {
		return Result{}, Wrap(ErrPublish, StagePublishing, e.publisher.Name(), plan.Destination(), err)
	}

	return Result{
		RepoID:        plan.Destination(),
		Location:      loc,
		Episodes:      len(meta.Episodes),
		Frames:        meta.TotalFrames(),
		Tasks:         len(meta.Tasks),
		Rows:          rows.Rows,
		VideosCopied:  assets.Copied,
		MissingAssets: assets.Missing,
	}, nil
}
