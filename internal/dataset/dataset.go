package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	MetaDir          = "meta"
	InfoFile         = "meta/info.json"
	EpisodesFile     = "meta/episodes.jsonl"
	EpisodeStatsFile = "meta/episodes_stats.jsonl"
	TasksFile        = "meta/tasks.jsonl"
	ReadmeFile       = "README.md"
)

// ErrNotDataset is returned by Open when the root lacks meta/info.json.
var ErrNotDataset = errors.New("not a dataset")

// Episode is one row of meta/episodes.jsonl.
type Episode struct {
	Index  int      `json:"episode_index"`
	Tasks  []string `json:"tasks"`
	Length int      `json:"length"`
}

// EpisodeStats is one row of meta/episodes_stats.jsonl. Stats is carried
// through transformations without interpretation.
type EpisodeStats struct {
	Index int             `json:"episode_index"`
	Stats json.RawMessage `json:"stats"`
}

// Ref identifies a dataset by repository id and the local directory holding it.
type Ref struct {
	RepoID string
	Root   string
}

// Dataset is the read-only, metadata-level view of a dataset on disk.
type Dataset struct {
	RepoID   string
	Root     string
	Info     Info
	Episodes []Episode
	Tasks    []Task

	byIndex map[int]int
	stats   map[int]json.RawMessage
}

// Open reads the metadata of the dataset at ref.Root.
func Open(ref Ref) (*Dataset, error) {
	root := strings.TrimSpace(ref.Root)
	if root == "" {
		return nil, fmt.Errorf("open dataset %q: root is required", ref.RepoID)
	}

	var info Info
	if err := readJSON(filepath.Join(root, InfoFile), &info); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open dataset %q: %w: %s missing", ref.RepoID, ErrNotDataset, InfoFile)
		}
		return nil, fmt.Errorf("open dataset %q: %w", ref.RepoID, err)
	}

	var episodes []Episode
	if err := readJSONLines(filepath.Join(root, EpisodesFile), func(dec *json.Decoder) error {
		var ep Episode
		if err := dec.Decode(&ep); err != nil {
			return err
		}
		episodes = append(episodes, ep)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("open dataset %q: read episodes: %w", ref.RepoID, err)
	}

	var tasks []Task
	if err := readJSONLines(filepath.Join(root, TasksFile), func(dec *json.Decoder) error {
		var task Task
		if err := dec.Decode(&task); err != nil {
			return err
		}
		tasks = append(tasks, task)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("open dataset %q: read tasks: %w", ref.RepoID, err)
	}

	var stats []EpisodeStats
	err := readJSONLines(filepath.Join(root, EpisodeStatsFile), func(dec *json.Decoder) error {
		var st EpisodeStats
		if err := dec.Decode(&st); err != nil {
			return err
		}
		stats = append(stats, st)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open dataset %q: read episode stats: %w", ref.RepoID, err)
	}

	ds, err := FromParts(ref.RepoID, root, info, episodes, tasks, stats)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", ref.RepoID, err)
	}
	return ds, nil
}

// FromParts assembles a Dataset from already-decoded metadata. Episodes and
// tasks are sorted by index; duplicate episode indices are an error.
func FromParts(repoID, root string, info Info, episodes []Episode, tasks []Task, stats []EpisodeStats) (*Dataset, error) {
	ds := &Dataset{
		RepoID:   repoID,
		Root:     root,
		Info:     info,
		Episodes: append([]Episode(nil), episodes...),
		Tasks:    append([]Task(nil), tasks...),
		byIndex:  make(map[int]int, len(episodes)),
		stats:    make(map[int]json.RawMessage, len(stats)),
	}
	sort.SliceStable(ds.Episodes, func(i, j int) bool { return ds.Episodes[i].Index < ds.Episodes[j].Index })
	for pos, ep := range ds.Episodes {
		if _, dup := ds.byIndex[ep.Index]; dup {
			return nil, fmt.Errorf("duplicate episode_index %d", ep.Index)
		}
		ds.byIndex[ep.Index] = pos
	}
	sort.SliceStable(ds.Tasks, func(i, j int) bool { return ds.Tasks[i].Index < ds.Tasks[j].Index })
	for _, st := range stats {
		ds.stats[st.Index] = st.Stats
	}
	return ds, nil
}

// NumEpisodes returns the number of episodes listed in meta/episodes.jsonl.
func (d *Dataset) NumEpisodes() int { return len(d.Episodes) }

// Episode returns the episode with the given dataset-local index.
func (d *Dataset) Episode(index int) (Episode, bool) {
	pos, ok := d.byIndex[index]
	if !ok {
		return Episode{}, false
	}
	return d.Episodes[pos], true
}

// Stats returns the opaque statistics blob for an episode.
func (d *Dataset) Stats(index int) (json.RawMessage, bool) {
	st, ok := d.stats[index]
	return st, ok
}

// TaskLabels maps source task indices to their labels.
func (d *Dataset) TaskLabels() map[int]string {
	out := make(map[int]string, len(d.Tasks))
	for _, task := range d.Tasks {
		out[task.Index] = task.Label
	}
	return out
}

// ChunkSize returns the info chunks_size, or fallback when it is unset.
func (d *Dataset) ChunkSize(fallback int) int {
	if d.Info.ChunksSize > 0 {
		return d.Info.ChunksSize
	}
	return fallback
}

// DataFile returns the absolute path of the frame-row file for an episode.
func (d *Dataset) DataFile(index, fallbackChunkSize int) (string, error) {
	rel, err := RenderPath(d.Info.DataPath, map[string]int{
		"episode_chunk": index / d.ChunkSize(fallbackChunkSize),
		"episode_index": index,
	}, nil)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.Root, filepath.FromSlash(rel)), nil
}

// VideoFile returns the absolute path of an episode's video for one stream.
func (d *Dataset) VideoFile(index int, videoKey string, fallbackChunkSize int) (string, error) {
	if d.Info.VideoPath == "" {
		return "", fmt.Errorf("dataset %q has no video_path template", d.RepoID)
	}
	rel, err := RenderPath(d.Info.VideoPath, map[string]int{
		"episode_chunk": index / d.ChunkSize(fallbackChunkSize),
		"episode_index": index,
	}, map[string]string{"video_key": videoKey})
	if err != nil {
		return "", err
	}
	return filepath.Join(d.Root, filepath.FromSlash(rel)), nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSONLines calls fn once per JSON value in the file.
func readJSONLines(path string, fn func(*json.Decoder) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	dec := json.NewDecoder(bufio.NewReader(file))
	for {
		if !dec.More() {
			return nil
		}
		if err := fn(dec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
	}
}
