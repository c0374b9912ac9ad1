package transform

// Stage is one state of a run.
type Stage string

const (
	StageStarted         Stage = "started"
	StageValidating      Stage = "validating"
	StageAssembling      Stage = "assembling"
	StageWritingRows     Stage = "writing_rows"
	StageCopyingAssets   Stage = "copying_assets"
	StageWritingMetadata Stage = "writing_metadata"
	StagePublishing      Stage = "publishing"
	StageDone            Stage = "done"
	StageFailed          Stage = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Progress milestones. Row and asset work report fractions between their
// neighbouring milestones.
const (
	progressValidated = 0.10
	progressAssembled = 0.20
	progressRows      = 0.55
	progressAssets    = 0.85
	progressMetadata  = 0.92
	progressPublished = 1.0
)

// Reporter receives stage transitions and progress. Fractions are
// non-decreasing within a run; message is human readable.
type Reporter interface {
	Report(stage Stage, fraction float64, message string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(stage Stage, fraction float64, message string)

// Report calls f.
func (f ReporterFunc) Report(stage Stage, fraction float64, message string) {
	f(stage, fraction, message)
}

type nopReporter struct{}

func (nopReporter) Report(Stage, float64, string) {}
