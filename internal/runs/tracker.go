package runs

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"datastudio/internal/logging"
	"datastudio/internal/transform"
)

// ErrUnknownRun is returned for run ids the tracker has never seen.
var ErrUnknownRun = errors.New("unknown run")

// DefaultPersistInterval bounds how often in-progress snapshots of one run are
// written to the store. Stage changes and terminal states are always written.
const DefaultPersistInterval = 500 * time.Millisecond

// Tracker holds the live status of every run in this process.
//
// Readers load the current map without locking; writers serialize on mu,
// clone the map, and swap in a new snapshot value.
type Tracker struct {
	snapshots atomic.Pointer[map[string]Snapshot]

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration

	// persistMu orders store writes; each write saves the latest snapshot.
	persistMu sync.Mutex
	store     *Store
	logger    *slog.Logger
	now       func() time.Time
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithPersistInterval sets the minimum spacing of in-progress writes per run.
func WithPersistInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.interval = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns an empty tracker. store may be nil, in which case
// snapshots only live in memory.
func NewTracker(store *Store, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Tracker{
		limiters: make(map[string]*rate.Limiter),
		interval: DefaultPersistInterval,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "runs"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	empty := make(map[string]Snapshot)
	t.snapshots.Store(&empty)
	return t
}

// Start registers a new run and returns its first snapshot.
func (t *Tracker) Start(ctx context.Context, kind transform.Kind, repoID string, sources []string) Snapshot {
	now := t.now().UTC()
	snap := Snapshot{
		ID:        uuid.NewString(),
		Kind:      kind,
		RepoID:    repoID,
		Sources:   append([]string(nil), sources...),
		Stage:     transform.StageStarted,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.swap(snap)
	t.limiters[snap.ID] = rate.NewLimiter(rate.Every(t.interval), 1)
	t.mu.Unlock()

	t.persist(ctx, snap.ID)
	return snap.clone()
}

// Update records a stage transition or progress report. Progress never moves
// backwards and updates to finished runs are ignored.
func (t *Tracker) Update(ctx context.Context, id string, stage transform.Stage, fraction float64, message string) (Snapshot, error) {
	t.mu.Lock()
	current, ok := (*t.snapshots.Load())[id]
	if !ok {
		t.mu.Unlock()
		return Snapshot{}, ErrUnknownRun
	}
	if current.Terminal() {
		t.mu.Unlock()
		return current.clone(), nil
	}

	next := current.clone()
	stageChanged := next.Stage != stage
	next.Stage = stage
	next.Progress = max(current.Progress, clamp(fraction))
	next.Message = message
	next.UpdatedAt = t.now().UTC()
	if stage == transform.StageFailed {
		next.Error = message
	}
	t.swap(next)

	write := stageChanged || next.Terminal()
	if limiter := t.limiters[id]; limiter != nil && limiter.Allow() {
		write = true
	}
	t.mu.Unlock()

	if write {
		t.persist(ctx, id)
	}
	return next.clone(), nil
}

// Finish records the final outcome of a run. A nil err marks it done.
func (t *Tracker) Finish(ctx context.Context, id string, res transform.Result, runErr error) (Snapshot, error) {
	t.mu.Lock()
	current, ok := (*t.snapshots.Load())[id]
	if !ok {
		t.mu.Unlock()
		return Snapshot{}, ErrUnknownRun
	}
	next := current.clone()
	now := t.now().UTC()
	next.UpdatedAt = now
	next.FinishedAt = &now
	if runErr != nil {
		next.Stage = transform.StageFailed
		next.ErrorKind = transform.ErrorKind(runErr)
		next.Error = runErr.Error()
		next.Message = runErr.Error()
	} else {
		next.Stage = transform.StageDone
		next.Progress = 1
		next.Result = summaryFromResult(res)
		if next.Message == "" {
			next.Message = "done"
		}
	}
	t.swap(next)
	delete(t.limiters, id)
	t.mu.Unlock()

	t.persist(ctx, id)
	return next.clone(), nil
}

// Get returns the current snapshot of id.
func (t *Tracker) Get(id string) (Snapshot, bool) {
	snap, ok := (*t.snapshots.Load())[id]
	if !ok {
		return Snapshot{}, false
	}
	return snap.clone(), true
}

// List returns every tracked run, oldest first.
func (t *Tracker) List() []Snapshot {
	current := *t.snapshots.Load()
	out := make([]Snapshot, 0, len(current))
	for _, snap := range current {
		out = append(out, snap.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reporter adapts the tracker to the engine's progress callback for one run.
func (t *Tracker) Reporter(ctx context.Context, id string) transform.Reporter {
	return transform.ReporterFunc(func(stage transform.Stage, fraction float64, message string) {
		if _, err := t.Update(ctx, id, stage, fraction, message); err != nil {
			t.logger.Debug("dropped progress for untracked run", logging.String(logging.FieldRunID, id))
		}
	})
}

// swap publishes a copy of the map with snap replacing its previous value.
// Callers hold mu.
func (t *Tracker) swap(snap Snapshot) {
	next := maps.Clone(*t.snapshots.Load())
	next[snap.ID] = snap
	t.snapshots.Store(&next)
}

func (t *Tracker) persist(ctx context.Context, id string) {
	if t.store == nil {
		return
	}
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	snap, ok := (*t.snapshots.Load())[id]
	if !ok {
		return
	}
	if err := t.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		logging.WarnWithContext(t.logger, "failed to persist run status", "run_persist_failed",
			logging.String(logging.FieldRunID, snap.ID),
			logging.String(logging.FieldStage, string(snap.Stage)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the run database"),
			logging.String(logging.FieldImpact, "runs list may show stale status for this run"),
		)
	}
}

func clamp(fraction float64) float64 {
	switch {
	case fraction < 0:
		return 0
	case fraction > 1:
		return 1
	default:
		return fraction
	}
}
