package runs_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"datastudio/internal/runs"
	"datastudio/internal/transform"
)

func mustOpenStore(t *testing.T) *runs.Store {
	t.Helper()
	store, err := runs.Open(filepath.Join(t.TempDir(), "state", "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestStoreSaveAndGet(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := created.Add(90 * time.Second)
	snap := runs.Snapshot{
		ID:         "3f0c2a9e-1111-4c2b-9a77-0c5d8b1e2f10",
		Kind:       transform.KindMerge,
		RepoID:     "lab/merged",
		Sources:    []string{"lab/a", "lab/b"},
		Stage:      transform.StageDone,
		Progress:   1,
		Message:    "published",
		Result:     &runs.Summary{Target: "local", URI: "/data/lab/merged", Episodes: 10, Frames: 400, Tasks: 4, Rows: 400},
		CreatedAt:  created,
		UpdatedAt:  finished,
		FinishedAt: &finished,
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for _, id := range []string{snap.ID, "3f0c2a9e"} {
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", id, err)
		}
		if got == nil {
			t.Fatalf("Get(%q) returned nil", id)
		}
		if got.ID != snap.ID || got.Kind != transform.KindMerge || got.Stage != transform.StageDone {
			t.Fatalf("unexpected snapshot: %#v", got)
		}
		if len(got.Sources) != 2 || got.Sources[1] != "lab/b" {
			t.Fatalf("sources = %v", got.Sources)
		}
		if got.Result == nil || got.Result.Episodes != 10 || got.Result.URI != "/data/lab/merged" {
			t.Fatalf("result = %#v", got.Result)
		}
		if !got.CreatedAt.Equal(created) || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
			t.Fatalf("times: created=%v finished=%v", got.CreatedAt, got.FinishedAt)
		}
	}

	missing, err := store.Get(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("Get missing failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown run, got %#v", missing)
	}
}

func TestStoreSaveUpdatesExistingRow(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	snap := runs.Snapshot{ID: "run-1", Kind: transform.KindFilter, RepoID: "lab/out", Stage: transform.StageWritingRows, Progress: 0.3, CreatedAt: now, UpdatedAt: now}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snap.Stage = transform.StageFailed
	snap.ErrorKind = "publish"
	snap.Error = "publish error: publishing: s3: lab/out: timeout"
	snap.FinishedAt = &now
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one row, got %d", len(all))
	}
	if all[0].Stage != transform.StageFailed || all[0].ErrorKind != "publish" || all[0].Error != snap.Error {
		t.Fatalf("row not updated: %#v", all[0])
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "middle", "new"} {
		created := base.Add(time.Duration(i) * time.Minute)
		if err := store.Save(ctx, runs.Snapshot{ID: id, Kind: transform.KindFilter, RepoID: "r", Stage: transform.StageDone, CreatedAt: created, UpdatedAt: created}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "middle" {
		t.Fatalf("unexpected order: %v", ids(got))
	}
}

func TestStoreAmbiguousPrefix(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"abc-1", "abc-2"} {
		if err := store.Save(ctx, runs.Snapshot{ID: id, Kind: transform.KindFilter, RepoID: "r", Stage: transform.StageDone, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if _, err := store.Get(ctx, "abc"); err == nil {
		t.Fatal("expected ambiguity error")
	}
	got, err := store.Get(ctx, "abc-2")
	if err != nil || got == nil || got.ID != "abc-2" {
		t.Fatalf("exact lookup: %#v, %v", got, err)
	}
}

func TestMarkInterruptedAndPrune(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := store.Save(ctx, runs.Snapshot{ID: "running", Kind: transform.KindMerge, RepoID: "r1", Stage: transform.StageCopyingAssets, Progress: 0.6, CreatedAt: old, UpdatedAt: old}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, runs.Snapshot{ID: "finished", Kind: transform.KindFilter, RepoID: "r2", Stage: transform.StageDone, CreatedAt: old, UpdatedAt: old, FinishedAt: &old}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, err := store.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one interrupted run, got %d", n)
	}
	got, err := store.Get(ctx, "running")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Stage != transform.StageFailed || got.ErrorKind != "interrupted" || got.FinishedAt == nil {
		t.Fatalf("run not marked interrupted: %#v", got)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected to prune 1 run, pruned %d", removed)
	}
	left, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(left) != 1 || left[0].ID != "running" {
		t.Fatalf("unexpected remaining runs: %v", ids(left))
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	first, err := runs.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UTC()
	if err := first.Save(context.Background(), runs.Snapshot{ID: "keep", Kind: transform.KindFilter, RepoID: "r", Stage: transform.StageDone, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := runs.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	got, err := second.Get(context.Background(), "keep")
	if err != nil || got == nil {
		t.Fatalf("expected persisted run, got %#v, %v", got, err)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("stamp version: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	store, err := runs.Open(path)
	if err == nil {
		_ = store.Close()
		t.Fatal("expected schema mismatch")
	}
	if !errors.Is(err, runs.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func ids(snaps []runs.Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}
