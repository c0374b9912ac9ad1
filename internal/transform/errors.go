package transform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks incompatible or malformed inputs detected before any write.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced dataset, episode, or data file that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAssetMissing marks an expected video file that is absent. It is logged, never returned by a run.
	ErrAssetMissing = errors.New("asset missing")
	// ErrPublish marks a failed hand-off of the scratch tree to durable storage.
	ErrPublish = errors.New("publish error")
	// ErrBusy marks a destination that another run is already building.
	ErrBusy = errors.New("destination busy")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage Stage, operation, message string, err error) error {
	detail := buildDetail(string(stage), operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorKind classifies err for status records.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPublish):
		return "publish"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrAssetMissing):
		return "asset_missing"
	default:
		return "internal"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "transform failure"
	}
	return strings.Join(parts, ": ")
}
