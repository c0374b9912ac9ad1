package runs

import (
	"time"

	"datastudio/internal/transform"
)

// Summary captures the outcome of a successful run.
type Summary struct {
	Target        string `json:"target"`
	URI           string `json:"uri"`
	Episodes      int    `json:"episodes"`
	Frames        int    `json:"frames"`
	Tasks         int    `json:"tasks"`
	Rows          int64  `json:"rows"`
	VideosCopied  int    `json:"videos_copied"`
	MissingAssets int    `json:"missing_assets"`
}

// Snapshot is the status of a run at one instant. Snapshots are values; the
// tracker replaces them wholesale instead of mutating fields in place.
type Snapshot struct {
	ID        string
	Kind      transform.Kind
	RepoID    string
	Sources   []string
	Stage     transform.Stage
	Progress  float64
	Message   string
	ErrorKind string
	Error     string
	Result    *Summary
	CreatedAt time.Time
	UpdatedAt time.Time
	// FinishedAt is set once the run reaches done or failed.
	FinishedAt *time.Time
}

// Terminal reports whether the run has finished.
func (s Snapshot) Terminal() bool {
	return s.Stage.Terminal()
}

// Duration returns the run's wall time so far, or its total once finished.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.CreatedAt.IsZero() {
		return 0
	}
	end := now
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	return end.Sub(s.CreatedAt)
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Sources = append([]string(nil), s.Sources...)
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func summaryFromResult(res transform.Result) *Summary {
	return &Summary{
		Target:        res.Location.Target,
		URI:           res.Location.URI,
		Episodes:      res.Episodes,
		Frames:        res.Frames,
		Tasks:         res.Tasks,
		Rows:          res.Rows,
		VideosCopied:  res.VideosCopied,
		MissingAssets: len(res.MissingAssets),
	}
}
