package transform

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"datastudio/internal/dataset"
)

// EpisodeMapping places one source episode in the new dataset.
type EpisodeMapping struct {
	// Source is the position of the owning dataset in the plan's source list.
	Source   int
	OldIndex int
	NewIndex int
	// Tasks is the episode's final label list, overrides included.
	Tasks []string
}

// IndexMaps holds the episode and task maps of one run. Immutable once built.
type IndexMaps struct {
	// Episodes is ordered by NewIndex, which runs 0..N-1.
	Episodes []EpisodeMapping
	Tasks    *dataset.TaskTable
	// TaskRemap[source][old task_index] is the new task_index. Old indices
	// whose label did not make it into the new table are absent.
	TaskRemap []map[int64]int64
}

// NumEpisodes returns the number of episodes in the new dataset.
func (m IndexMaps) NumEpisodes() int { return len(m.Episodes) }

// SelectEpisodes deduplicates the requested indices and returns them in
// ascending order.
func SelectEpisodes(indices []int) ([]int, error) {
	bm := roaring.New()
	for _, idx := range indices {
		if idx < 0 || int64(idx) > int64(^uint32(0)) {
			return nil, fmt.Errorf("episode index %d out of range", idx)
		}
		bm.Add(uint32(idx))
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out, nil
}

// RemapFilter maps the selected episodes (ascending) to 0..N-1. An override
// label is appended to an episode's task list unless already present. The task
// table is built from the final lists in first-seen order.
func RemapFilter(ds *dataset.Dataset, selected []int, overrides map[int]string) (IndexMaps, error) {
	maps := IndexMaps{Tasks: dataset.NewTaskTable()}
	for newIdx, oldIdx := range selected {
		ep, ok := ds.Episode(oldIdx)
		if !ok {
			return IndexMaps{}, fmt.Errorf("episode %d not in %s", oldIdx, ds.RepoID)
		}
		tasks := append([]string(nil), ep.Tasks...)
		if label, ok := overrides[oldIdx]; ok && label != "" && !contains(tasks, label) {
			tasks = append(tasks, label)
		}
		for _, label := range tasks {
			maps.Tasks.Add(label)
		}
		maps.Episodes = append(maps.Episodes, EpisodeMapping{Source: 0, OldIndex: oldIdx, NewIndex: newIdx, Tasks: tasks})
	}
	maps.TaskRemap = []map[int64]int64{taskRemap(ds, maps.Tasks)}
	return maps, nil
}

// RemapMerge concatenates every episode of every source, in source order and
// ascending within a source. Each source registers its task table labels (in
// index order) and then any episode label missing from that table, so every
// task_index a row can carry has a mapping.
func RemapMerge(sources []*dataset.Dataset) IndexMaps {
	maps := IndexMaps{Tasks: dataset.NewTaskTable()}
	next := 0
	for pos, ds := range sources {
		for _, task := range ds.Tasks {
			maps.Tasks.Add(task.Label)
		}
		for _, ep := range ds.Episodes {
			for _, label := range ep.Tasks {
				maps.Tasks.Add(label)
			}
			maps.Episodes = append(maps.Episodes, EpisodeMapping{
				Source:   pos,
				OldIndex: ep.Index,
				NewIndex: next,
				Tasks:    append([]string(nil), ep.Tasks...),
			})
			next++
		}
		maps.TaskRemap = append(maps.TaskRemap, taskRemap(ds, maps.Tasks))
	}
	return maps
}

func taskRemap(ds *dataset.Dataset, table *dataset.TaskTable) map[int64]int64 {
	out := make(map[int64]int64, len(ds.Tasks))
	for _, task := range ds.Tasks {
		if idx, ok := table.Index(task.Label); ok {
			out[int64(task.Index)] = int64(idx)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
