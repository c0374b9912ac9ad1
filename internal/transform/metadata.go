package transform

import (
	"fmt"
	"maps"

	"datastudio/internal/card"
	"datastudio/internal/dataset"
)

// Metadata is everything written under meta/ plus the card inputs.
type Metadata struct {
	Info     dataset.Info
	Episodes []dataset.Episode
	Stats    []dataset.EpisodeStats
	Tasks    []dataset.Task
	// Sources lists merged repo ids in order; empty for a filter.
	Sources []string
}

// TotalFrames sums episode lengths.
func (m Metadata) TotalFrames() int {
	total := 0
	for _, ep := range m.Episodes {
		total += ep.Length
	}
	return total
}

// assembleEpisodes builds the episode and stats tables in new-index order.
// With requireStats, an episode lacking statistics is a NotFound error;
// otherwise it is simply omitted from the stats table.
func assembleEpisodes(sources []*dataset.Dataset, idx IndexMaps, requireStats bool) ([]dataset.Episode, []dataset.EpisodeStats, error) {
	episodes := make([]dataset.Episode, 0, len(idx.Episodes))
	stats := make([]dataset.EpisodeStats, 0, len(idx.Episodes))
	for _, m := range idx.Episodes {
		src := sources[m.Source]
		ep, ok := src.Episode(m.OldIndex)
		if !ok {
			return nil, nil, Wrap(ErrNotFound, StageAssembling, "assemble episodes",
				fmt.Sprintf("episode %d missing from %s metadata", m.OldIndex, src.RepoID), nil)
		}
		episodes = append(episodes, dataset.Episode{
			Index:  m.NewIndex,
			Tasks:  append([]string{}, m.Tasks...),
			Length: ep.Length,
		})
		st, ok := src.Stats(m.OldIndex)
		if !ok {
			if requireStats {
				return nil, nil, Wrap(ErrNotFound, StageAssembling, "assemble episode stats",
					fmt.Sprintf("episode %d missing from %s statistics", m.OldIndex, src.RepoID), nil)
			}
			continue
		}
		stats = append(stats, dataset.EpisodeStats{Index: m.NewIndex, Stats: st})
	}
	return episodes, stats, nil
}

// recomputeInfo copies the template info and recomputes every aggregate from
// the new tables and layout.
func recomputeInfo(template dataset.Info, episodes []dataset.Episode, numTasks int, layout dataset.Layout) dataset.Info {
	info := template
	info.Features = maps.Clone(template.Features)

	n := len(episodes)
	frames := 0
	for _, ep := range episodes {
		frames += ep.Length
	}
	videoKeys := template.VideoKeys()

	info.TotalEpisodes = n
	info.TotalFrames = frames
	info.TotalTasks = numTasks
	info.TotalVideos = n * len(videoKeys)
	info.TotalChunks = layout.TotalChunks(n)
	info.ChunksSize = layout.ChunkSize
	info.Splits = map[string]string{"train": fmt.Sprintf("0:%d", n)}
	info.DataPath = layout.DataPathTemplate()
	info.VideoPath = ""
	if len(videoKeys) > 0 {
		info.VideoPath = layout.VideoPathTemplate()
	}
	return info
}

// writeMetadata writes meta/ and README.md under root. Existing files are truncated.
func writeMetadata(root, repoID string, meta Metadata) error {
	if err := dataset.WriteInfo(root, meta.Info); err != nil {
		return err
	}
	if err := dataset.WriteEpisodes(root, meta.Episodes); err != nil {
		return err
	}
	if err := dataset.WriteEpisodeStats(root, meta.Stats); err != nil {
		return err
	}
	if err := dataset.WriteTasks(root, meta.Tasks); err != nil {
		return err
	}
	return card.Card{RepoID: repoID, Info: meta.Info, Sources: meta.Sources}.Write(root)
}
