package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"datastudio/internal/transform"
)

// Store persists run snapshots in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const runColumns = "id, kind, repo_id, sources_json, stage, progress, message, error_kind, error_message, result_json, created_at, updated_at, finished_at"

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the run database at path, creating its
// parent directory when needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run database dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces the stored row for snap.ID.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	sources, err := json.Marshal(snap.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	var result any
	if snap.Result != nil {
		data, err := json.Marshal(snap.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = string(data)
	}

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                stage = excluded.stage,
                progress = excluded.progress,
                message = excluded.message,
                error_kind = excluded.error_kind,
                error_message = excluded.error_message,
                result_json = excluded.result_json,
                updated_at = excluded.updated_at,
                finished_at = excluded.finished_at`,
			snap.ID,
			string(snap.Kind),
			snap.RepoID,
			string(sources),
			string(snap.Stage),
			snap.Progress,
			nullableString(snap.Message),
			nullableString(snap.ErrorKind),
			nullableString(snap.Error),
			result,
			formatTime(snap.CreatedAt),
			formatTime(snap.UpdatedAt),
			nullableTime(snap.FinishedAt),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", snap.ID, err)
	}
	return nil
}

// Get returns the run with id, or nil when no such run was recorded.
// A unique id prefix is accepted as well.
func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	if id == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE substr(id, 1, ?) = ? ORDER BY id = ? DESC LIMIT 2`,
		len(id), id, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var found []Snapshot
	for rows.Next() {
		snap, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		found = append(found, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	switch {
	case len(found) == 0:
		return nil, nil
	case found[0].ID == id || len(found) == 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// List returns the most recent runs first. A limit of zero or less returns all runs.
func (s *Store) List(ctx context.Context, limit int) ([]Snapshot, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// MarkInterrupted fails every run still recorded as in progress. It is used
// at startup, when no run of a previous process can still be alive.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now().UTC())
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE runs SET stage = ?, error_kind = ?, error_message = ?, updated_at = ?, finished_at = ?
            WHERE stage NOT IN (?, ?)`,
			string(transform.StageFailed), "interrupted", "process exited before the run finished", now, now,
			string(transform.StageDone), string(transform.StageFailed),
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return affected, nil
}

// Prune deletes finished runs that ended before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`,
			formatTime(cutoff.UTC()))
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return affected, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Snapshot, error) {
	var (
		id, kind, repoID, stage string
		sourcesRaw              sql.NullString
		progress                float64
		message                 sql.NullString
		errorKind               sql.NullString
		errorMessage            sql.NullString
		resultRaw               sql.NullString
		createdRaw, updatedRaw  string
		finishedRaw             sql.NullString
	)
	if err := scanner.Scan(
		&id, &kind, &repoID, &sourcesRaw, &stage, &progress, &message,
		&errorKind, &errorMessage, &resultRaw, &createdRaw, &updatedRaw, &finishedRaw,
	); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		ID:        id,
		Kind:      transform.Kind(kind),
		RepoID:    repoID,
		Stage:     transform.Stage(stage),
		Progress:  progress,
		Message:   message.String,
		ErrorKind: errorKind.String,
		Error:     errorMessage.String,
	}
	if sourcesRaw.Valid && sourcesRaw.String != "" {
		if err := json.Unmarshal([]byte(sourcesRaw.String), &snap.Sources); err != nil {
			return Snapshot{}, fmt.Errorf("decode sources of %s: %w", id, err)
		}
	}
	if resultRaw.Valid && resultRaw.String != "" {
		var summary Summary
		if err := json.Unmarshal([]byte(resultRaw.String), &summary); err != nil {
			return Snapshot{}, fmt.Errorf("decode result of %s: %w", id, err)
		}
		snap.Result = &summary
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		snap.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		snap.UpdatedAt = t
	}
	if finishedRaw.Valid {
		if t, err := parseTimeString(finishedRaw.String); err == nil {
			snap.FinishedAt = &t
		}
	}
	return snap, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
