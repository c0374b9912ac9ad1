package transform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"datastudio/internal/dataset"
)

// Kind names a transformation variant.
type Kind string

const (
	KindFilter Kind = "filter"
	KindMerge  Kind = "merge"
)

// Plan is one transformation variant. Engine drives every Plan through the
// same stages; the variants differ in how they validate, remap, and
// assemble metadata.
type Plan interface {
	Kind() Kind
	Destination() string
	Sources() []*dataset.Dataset
	ComputeIndexMaps() (IndexMaps, error)
	AssembleMetadata(idx IndexMaps, layout dataset.Layout) (Metadata, error)
	TransformRows(ctx context.Context, idx IndexMaps, out Output) (RowReport, error)
	CopyAssets(ctx context.Context, idx IndexMaps, out Output) (AssetReport, error)
	// InputBytes estimates the bytes the run will write, from the source files it reads.
	InputBytes(fallbackChunkSize int) int64
}

// Validator is implemented by plans with a validating stage.
type Validator interface {
	Validate(ctx context.Context) error
}

// FilterRequest selects a subset of one dataset's episodes.
type FilterRequest struct {
	Source   dataset.Ref
	Episodes []int
	// TaskOverrides maps an original episode index to a label appended to its tasks.
	TaskOverrides map[int]string
	Destination   string
}

// MergeSource is one input of a merge.
type MergeSource struct {
	Ref dataset.Ref
	// ToleranceS overrides the default timestamp tolerance; zero disables the check.
	ToleranceS *float64
}

// MergeRequest concatenates several datasets in order.
type MergeRequest struct {
	Sources     []MergeSource
	Destination string
}

// FilterPlan implements Plan for a filter request.
type FilterPlan struct {
	source    *dataset.Dataset
	selected  []int
	overrides map[int]string
	dest      string
}

// NewFilterPlan opens the source and normalizes the selection.
func NewFilterPlan(req FilterRequest) (*FilterPlan, error) {
	dest := strings.Trim(strings.TrimSpace(req.Destination), "/")
	if dest == "" {
		return nil, Wrap(ErrValidation, StageStarted, "filter", "destination repo id is required", nil)
	}
	if dest == strings.Trim(req.Source.RepoID, "/") {
		return nil, Wrap(ErrValidation, StageStarted, "filter", "destination must differ from the source", nil)
	}
	if len(req.Episodes) == 0 {
		return nil, Wrap(ErrValidation, StageStarted, "filter", "no episodes selected", nil)
	}
	selected, err := SelectEpisodes(req.Episodes)
	if err != nil {
		return nil, Wrap(ErrValidation, StageStarted, "filter", "invalid selection", err)
	}
	ds, err := openSource(req.Source)
	if err != nil {
		return nil, err
	}
	for _, idx := range selected {
		if _, ok := ds.Episode(idx); !ok {
			return nil, Wrap(ErrNotFound, StageStarted, "filter",
				fmt.Sprintf("episode %d not in %s", idx, ds.RepoID), nil)
		}
	}
	for idx := range req.TaskOverrides {
		if _, ok := ds.Episode(idx); !ok {
			return nil, Wrap(ErrNotFound, StageStarted, "filter",
				fmt.Sprintf("task override for episode %d not in %s", idx, ds.RepoID), nil)
		}
	}
	return &FilterPlan{source: ds, selected: selected, overrides: req.TaskOverrides, dest: dest}, nil
}

func (p *FilterPlan) Kind() Kind                  { return KindFilter }
func (p *FilterPlan) Destination() string         { return p.dest }
func (p *FilterPlan) Sources() []*dataset.Dataset { return []*dataset.Dataset{p.source} }

// Selected returns the ascending, deduplicated selection.
func (p *FilterPlan) Selected() []int { return append([]int(nil), p.selected...) }

func (p *FilterPlan) ComputeIndexMaps() (IndexMaps, error) {
	idx, err := RemapFilter(p.source, p.selected, p.overrides)
	if err != nil {
		return IndexMaps{}, Wrap(ErrNotFound, StageAssembling, "remap", "", err)
	}
	return idx, nil
}

func (p *FilterPlan) AssembleMetadata(idx IndexMaps, layout dataset.Layout) (Metadata, error) {
	episodes, stats, err := assembleEpisodes(p.Sources(), idx, true)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Info:     recomputeInfo(p.source.Info, episodes, idx.Tasks.Len(), layout),
		Episodes: episodes,
		Stats:    stats,
		Tasks:    idx.Tasks.Tasks(),
	}, nil
}

func (p *FilterPlan) TransformRows(ctx context.Context, idx IndexMaps, out Output) (RowReport, error) {
	return transformRows(ctx, p.Sources(), idx, out)
}

func (p *FilterPlan) CopyAssets(ctx context.Context, idx IndexMaps, out Output) (AssetReport, error) {
	return copyAssets(ctx, p.Sources(), idx, out)
}

func (p *FilterPlan) InputBytes(fallbackChunkSize int) int64 {
	return episodeBytes(p.source, p.selected, fallbackChunkSize)
}

// MergePlan implements Plan for a merge request.
type MergePlan struct {
	sources    []*dataset.Dataset
	tolerances []float64
	supported  []string
	fallback   int
	dest       string
}

// MergeOptions carries engine settings a merge needs before it runs.
type MergeOptions struct {
	SupportedVersions []string
	DefaultToleranceS float64
	FallbackChunkSize int
}

// NewMergePlan opens every source in order.
func NewMergePlan(req MergeRequest, opts MergeOptions) (*MergePlan, error) {
	dest := strings.Trim(strings.TrimSpace(req.Destination), "/")
	if dest == "" {
		return nil, Wrap(ErrValidation, StageStarted, "merge", "destination repo id is required", nil)
	}
	if len(req.Sources) == 0 {
		return nil, Wrap(ErrValidation, StageStarted, "merge", "no datasets to merge", nil)
	}
	plan := &MergePlan{supported: opts.SupportedVersions, fallback: opts.FallbackChunkSize, dest: dest}
	seen := make(map[string]struct{}, len(req.Sources))
	for _, src := range req.Sources {
		repo := strings.Trim(src.Ref.RepoID, "/")
		if repo == dest {
			return nil, Wrap(ErrValidation, StageStarted, "merge", "destination must differ from every source", nil)
		}
		if _, dup := seen[repo]; dup {
			return nil, Wrap(ErrValidation, StageStarted, "merge", fmt.Sprintf("source %s listed twice", repo), nil)
		}
		seen[repo] = struct{}{}

		tol := opts.DefaultToleranceS
		if src.ToleranceS != nil {
			tol = *src.ToleranceS
		}
		if tol < 0 {
			return nil, Wrap(ErrValidation, StageStarted, "merge", fmt.Sprintf("negative tolerance for %s", repo), nil)
		}
		ds, err := openSource(src.Ref)
		if err != nil {
			return nil, err
		}
		plan.sources = append(plan.sources, ds)
		plan.tolerances = append(plan.tolerances, tol)
	}
	return plan, nil
}

func (p *MergePlan) Kind() Kind                  { return KindMerge }
func (p *MergePlan) Destination() string         { return p.dest }
func (p *MergePlan) Sources() []*dataset.Dataset { return p.sources }

// Validate checks schema compatibility and then per-source timestamp spacing.
func (p *MergePlan) Validate(ctx context.Context) error {
	if err := ValidateCompatibility(p.sources, p.supported); err != nil {
		return Wrap(ErrValidation, StageValidating, "compatibility", "", err)
	}
	for i, ds := range p.sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ValidateTimestamps(ds, p.tolerances[i], p.fallback); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Wrap(ErrNotFound, StageValidating, "timestamps", ds.RepoID, err)
			}
			return Wrap(ErrValidation, StageValidating, "timestamps", "", err)
		}
	}
	return nil
}

func (p *MergePlan) ComputeIndexMaps() (IndexMaps, error) {
	return RemapMerge(p.sources), nil
}

func (p *MergePlan) AssembleMetadata(idx IndexMaps, layout dataset.Layout) (Metadata, error) {
	episodes, stats, err := assembleEpisodes(p.sources, idx, false)
	if err != nil {
		return Metadata{}, err
	}
	sources := make([]string, len(p.sources))
	for i, ds := range p.sources {
		sources[i] = ds.RepoID
	}
	return Metadata{
		Info:     recomputeInfo(p.sources[0].Info, episodes, idx.Tasks.Len(), layout),
		Episodes: episodes,
		Stats:    stats,
		Tasks:    idx.Tasks.Tasks(),
		Sources:  sources,
	}, nil
}

func (p *MergePlan) TransformRows(ctx context.Context, idx IndexMaps, out Output) (RowReport, error) {
	return transformRows(ctx, p.sources, idx, out)
}

func (p *MergePlan) CopyAssets(ctx context.Context, idx IndexMaps, out Output) (AssetReport, error) {
	return copyAssets(ctx, p.sources, idx, out)
}

func (p *MergePlan) InputBytes(fallbackChunkSize int) int64 {
	var total int64
	for _, ds := range p.sources {
		indices := make([]int, len(ds.Episodes))
		for i, ep := range ds.Episodes {
			indices[i] = ep.Index
		}
		total += episodeBytes(ds, indices, fallbackChunkSize)
	}
	return total
}

func openSource(ref dataset.Ref) (*dataset.Dataset, error) {
	ds, err := dataset.Open(ref)
	if err != nil {
		if errors.Is(err, dataset.ErrNotDataset) || errors.Is(err, fs.ErrNotExist) {
			return nil, Wrap(ErrNotFound, StageStarted, "open source", ref.RepoID, err)
		}
		return nil, Wrap(ErrValidation, StageStarted, "open source", ref.RepoID, err)
	}
	return ds, nil
}

// episodeBytes sums the sizes of the data and video files of the given
// episodes. Files that cannot be located or stat'ed count as zero.
func episodeBytes(ds *dataset.Dataset, indices []int, fallbackChunkSize int) int64 {
	var total int64
	add := func(path string, err error) {
		if err != nil {
			return
		}
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	keys := ds.Info.VideoKeys()
	for _, idx := range indices {
		add(ds.DataFile(idx, fallbackChunkSize))
		for _, key := range keys {
			add(ds.VideoFile(idx, key, fallbackChunkSize))
		}
	}
	return total
}
