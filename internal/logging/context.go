package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for transformation run identifiers.
	FieldRunID = "run_id"
	// FieldStage is the standardized structured logging key for pipeline phase names.
	FieldStage = "stage"
	// FieldRepoID is the standardized structured logging key for dataset repository identifiers.
	FieldRepoID = "repo_id"
	// FieldEpisodeIndex is the standardized structured logging key for episode indices.
	FieldEpisodeIndex = "episode_index"
	// FieldVideoKey is the standardized structured logging key for video stream keys.
	FieldVideoKey = "video_key"
	// FieldEventType classifies a log line for filtering (e.g. "phase_start").
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do about a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey string

const (
	runIDKey  contextKey = "run_id"
	stageKey  contextKey = "stage"
	repoIDKey contextKey = "repo_id"
)

// WithRunID annotates context with the transformation run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline phase name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the phase name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRepoID annotates context with the destination repository identifier.
func WithRepoID(ctx context.Context, repoID string) context.Context {
	if repoID == "" {
		return ctx
	}
	return context.WithValue(ctx, repoIDKey, repoID)
}

// RepoIDFromContext returns the destination repository identifier if present.
func RepoIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(repoIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if stage, ok := StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if repo, ok := RepoIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRepoID, repo))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
