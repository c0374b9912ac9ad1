package transform

import (
	"fmt"
	"math"
	"slices"

	"datastudio/internal/dataset"
)

// ValidateCompatibility checks every source against the first (template):
// supported codebase version, equal fps, equal feature key sets.
func ValidateCompatibility(sources []*dataset.Dataset, supported []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("no datasets to merge")
	}
	template := sources[0]
	templateKeys := template.Info.FeatureKeys()
	for i, ds := range sources {
		if !slices.Contains(supported, ds.Info.CodebaseVersion) {
			return fmt.Errorf("dataset %s version %q is not supported (supported: %v)", ds.RepoID, ds.Info.CodebaseVersion, supported)
		}
		if i == 0 {
			continue
		}
		if ds.Info.FPS != template.Info.FPS {
			return fmt.Errorf("fps mismatch: %s has %d, %s has %d", template.RepoID, template.Info.FPS, ds.RepoID, ds.Info.FPS)
		}
		if keys := ds.Info.FeatureKeys(); !slices.Equal(keys, templateKeys) {
			return fmt.Errorf("feature mismatch between %s and %s: %v vs %v", template.RepoID, ds.RepoID, templateKeys, keys)
		}
	}
	return nil
}

// ValidateTimestamps checks that the rows of every episode of ds advance by
// 1/fps: |ts[i] - ts[0] - i/fps| <= tolerance. A tolerance of zero disables
// the check.
func ValidateTimestamps(ds *dataset.Dataset, tolerance float64, fallbackChunkSize int) error {
	if tolerance <= 0 {
		return nil
	}
	if ds.Info.FPS <= 0 {
		return fmt.Errorf("dataset %s has no fps", ds.RepoID)
	}
	period := 1 / float64(ds.Info.FPS)
	for _, ep := range ds.Episodes {
		path, err := ds.DataFile(ep.Index, fallbackChunkSize)
		if err != nil {
			return err
		}
		var (
			first float64
			i     int
		)
		err = dataset.ReadRows(path, func(row dataset.Row) error {
			ts, ok, err := row.Float(dataset.ColumnTimestamp)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("row %d has no %s", i, dataset.ColumnTimestamp)
			}
			if i == 0 {
				first = ts
			}
			if drift := math.Abs(ts - first - float64(i)*period); drift > tolerance {
				return fmt.Errorf("dataset %s episode %d frame %d: timestamp %.6f drifts %.6fs from %d fps (tolerance %gs)",
					ds.RepoID, ep.Index, i, ts, drift, ds.Info.FPS, tolerance)
			}
			i++
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
