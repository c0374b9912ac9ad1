// Package transform builds new datasets from existing ones.
//
// A run is either a filter (a subset of one dataset's episodes) or a merge
// (several compatible datasets concatenated in order). Both variants are
// expressed as a Plan and driven by Engine through the same stage sequence:
//
//	started → validating (merge only) → assembling → writing_rows →
//	copying_assets → writing_metadata → publishing → done
//
// with failed reachable from every non-terminal stage. Everything is written
// into a run-private scratch tree; the destination only changes when the
// publisher hands that tree off, so a failed run leaves nothing behind.
package transform
