package runs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"datastudio/internal/logging"
	"datastudio/internal/notifications"
	"datastudio/internal/transform"
)

// Runner launches engine runs in the background, one goroutine per run.
type Runner struct {
	engine   *transform.Engine
	tracker  *Tracker
	logger   *slog.Logger
	notifier notifications.Service

	mu   sync.Mutex
	done map[string]chan struct{}
	wg   sync.WaitGroup
}

// NewRunner wires a runner around engine and tracker.
func NewRunner(engine *transform.Engine, tracker *Tracker, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		engine:  engine,
		tracker: tracker,
		logger:  logging.NewComponentLogger(logger, "runner"),
		done:    make(map[string]chan struct{}),
	}
}

// SetNotifier announces every finished run through svc.
func (r *Runner) SetNotifier(svc notifications.Service) {
	r.notifier = svc
}

// Tracker returns the tracker runs report into.
func (r *Runner) Tracker() *Tracker { return r.tracker }

// Filter starts a filter run and returns its id.
func (r *Runner) Filter(ctx context.Context, req transform.FilterRequest) string {
	snap := r.tracker.Start(ctx, transform.KindFilter, req.Destination, []string{req.Source.RepoID})
	r.launch(ctx, snap.ID, func(ctx context.Context, reporter transform.Reporter) (transform.Result, error) {
		return r.engine.Filter(ctx, snap.ID, req, reporter)
	})
	return snap.ID
}

// Merge starts a merge run and returns its id.
func (r *Runner) Merge(ctx context.Context, req transform.MergeRequest) string {
	sources := make([]string, len(req.Sources))
	for i, src := range req.Sources {
		sources[i] = src.Ref.RepoID
	}
	snap := r.tracker.Start(ctx, transform.KindMerge, req.Destination, sources)
	r.launch(ctx, snap.ID, func(ctx context.Context, reporter transform.Reporter) (transform.Result, error) {
		return r.engine.Merge(ctx, snap.ID, req, reporter)
	})
	return snap.ID
}

// launch runs fn detached from ctx's cancellation; a started run always
// reaches done or failed.
func (r *Runner) launch(ctx context.Context, id string, fn func(context.Context, transform.Reporter) (transform.Result, error)) {
	done := make(chan struct{})
	r.mu.Lock()
	r.done[id] = done
	r.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.forget(id, done)

		res, err := fn(runCtx, r.tracker.Reporter(runCtx, id))
		final, finishErr := r.tracker.Finish(runCtx, id, res, err)
		if finishErr != nil {
			r.logger.Error("failed to record run outcome",
				logging.String(logging.FieldRunID, id),
				logging.Error(finishErr),
			)
		}
		r.notify(runCtx, final)
		if err == nil {
			r.logger.Info("run finished",
				logging.String(logging.FieldRunID, id),
				logging.String(logging.FieldRepoID, res.RepoID),
				logging.Duration("duration", res.Duration),
				logging.String(logging.FieldEventType, "run_finished"),
			)
		}
	}()
}

// forget releases a finished run's wait channel. Later waits are answered
// from the tracker.
func (r *Runner) forget(id string, done chan struct{}) {
	close(done)
	r.mu.Lock()
	delete(r.done, id)
	r.mu.Unlock()
}

// InFlight reports how many launched runs have not finished.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

func (r *Runner) notify(ctx context.Context, snap Snapshot) {
	if r.notifier == nil || snap.ID == "" {
		return
	}
	event := notifications.RunEvent{
		RunID:     snap.ID,
		Kind:      string(snap.Kind),
		RepoID:    snap.RepoID,
		Duration:  snap.Duration(snap.UpdatedAt),
		ErrorKind: snap.ErrorKind,
		Error:     snap.Error,
	}
	if snap.Result != nil {
		event.Episodes = int64(snap.Result.Episodes)
		event.Frames = int64(snap.Result.Frames)
		event.MissingAssets = snap.Result.MissingAssets
	}
	var err error
	if snap.Stage == transform.StageFailed {
		err = r.notifier.NotifyRunFailed(ctx, event)
	} else {
		err = r.notifier.NotifyRunCompleted(ctx, event)
	}
	if err != nil {
		logging.WarnWithContext(r.logger, "run notification failed", "notify_failed",
			logging.String(logging.FieldRunID, snap.ID),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.Error(err),
		)
	}
}

// Wait blocks until run id finishes or ctx ends, returning its last snapshot.
func (r *Runner) Wait(ctx context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	done, ok := r.done[id]
	r.mu.Unlock()
	if !ok {
		if snap, found := r.tracker.Get(id); found && snap.Terminal() {
			return snap, nil
		}
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	snap, ok := r.tracker.Get(id)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return snap, nil
}

// WaitAll blocks until every launched run has finished.
func (r *Runner) WaitAll() {
	r.wg.Wait()
}
