package testsupport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"datastudio/internal/dataset"
)

// EpisodeFixture describes one synthetic episode. The first label in Tasks is
// written as the task_index of every frame row.
type EpisodeFixture struct {
	Length int
	Tasks  []string
	// Jitter is added to every timestamp after the first frame.
	Jitter float64
}

// DatasetFixture describes a synthetic on-disk dataset.
type DatasetFixture struct {
	RepoID    string
	Root      string
	FPS       int
	ChunkSize int
	// OmitChunkSize writes chunks_size as 0 while still laying files out by ChunkSize.
	OmitChunkSize bool
	VideoKeys     []string
	// Codec is the row codec name; empty means jsonl.
	Codec    string
	Version  string
	Episodes []EpisodeFixture
	// SkipVideos lists episode indices whose video files are not written.
	SkipVideos map[int]bool
}

// WriteDataset materializes fixture under fixture.Root and returns the dataset ref.
// Tasks are registered in first-seen order across episodes. Video files contain
// "<repo>/<key>/<episode>" so tests can trace provenance after a copy.
func WriteDataset(t testing.TB, fixture DatasetFixture) dataset.Ref {
	t.Helper()

	if fixture.FPS == 0 {
		fixture.FPS = 10
	}
	if fixture.ChunkSize == 0 {
		fixture.ChunkSize = 1000
	}
	if fixture.Codec == "" {
		fixture.Codec = "jsonl"
	}
	if fixture.Version == "" {
		fixture.Version = "v2.1"
	}
	codec, err := dataset.CodecByName(fixture.Codec)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	layout, err := dataset.NewLayout(fixture.ChunkSize, codec.Extension(), ".mp4")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}

	features := map[string]dataset.Feature{
		"timestamp":         {Dtype: "float32", Shape: []int{1}},
		"frame_index":       {Dtype: "int64", Shape: []int{1}},
		"episode_index":     {Dtype: "int64", Shape: []int{1}},
		"index":             {Dtype: "int64", Shape: []int{1}},
		"task_index":        {Dtype: "int64", Shape: []int{1}},
		"observation.state": {Dtype: "float32", Shape: []int{2}},
	}
	for _, key := range fixture.VideoKeys {
		features[key] = dataset.Feature{Dtype: dataset.VideoDtype, Shape: []int{3, 4, 4}}
	}

	tasks := dataset.NewTaskTable()
	episodes := make([]dataset.Episode, 0, len(fixture.Episodes))
	stats := make([]dataset.EpisodeStats, 0, len(fixture.Episodes))
	totalFrames := 0
	for idx, ep := range fixture.Episodes {
		for _, label := range ep.Tasks {
			tasks.Add(label)
		}
		episodes = append(episodes, dataset.Episode{Index: idx, Tasks: append([]string(nil), ep.Tasks...), Length: ep.Length})
		stats = append(stats, dataset.EpisodeStats{
			Index: idx,
			Stats: json.RawMessage(fmt.Sprintf(`{"frame_index":{"max":[%d],"min":[0]}}`, max(ep.Length-1, 0))),
		})

		writeRows(t, fixture, layout, codec, idx, ep, tasks, totalFrames)
		totalFrames += ep.Length

		if fixture.SkipVideos[idx] {
			continue
		}
		for _, key := range fixture.VideoKeys {
			target := filepath.Join(fixture.Root, filepath.FromSlash(layout.VideoPath(idx, key)))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				t.Fatalf("mkdir video dir: %v", err)
			}
			content := fmt.Sprintf("%s/%s/%d", fixture.RepoID, key, idx)
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				t.Fatalf("write video: %v", err)
			}
		}
	}

	info := dataset.Info{
		CodebaseVersion: fixture.Version,
		RobotType:       "so100",
		TotalEpisodes:   len(fixture.Episodes),
		TotalFrames:     totalFrames,
		TotalTasks:      tasks.Len(),
		TotalVideos:     len(fixture.Episodes) * len(fixture.VideoKeys),
		TotalChunks:     layout.TotalChunks(len(fixture.Episodes)),
		ChunksSize:      fixture.ChunkSize,
		FPS:             fixture.FPS,
		Splits:          map[string]string{"train": fmt.Sprintf("0:%d", len(fixture.Episodes))},
		DataPath:        layout.DataPathTemplate(),
		Features:        features,
	}
	if fixture.OmitChunkSize {
		info.ChunksSize = 0
	}
	if len(fixture.VideoKeys) > 0 {
		info.VideoPath = layout.VideoPathTemplate()
	}

	if err := dataset.WriteInfo(fixture.Root, info); err != nil {
		t.Fatalf("write info: %v", err)
	}
	if err := dataset.WriteEpisodes(fixture.Root, episodes); err != nil {
		t.Fatalf("write episodes: %v", err)
	}
	if err := dataset.WriteEpisodeStats(fixture.Root, stats); err != nil {
		t.Fatalf("write stats: %v", err)
	}
	if err := dataset.WriteTasks(fixture.Root, tasks.Tasks()); err != nil {
		t.Fatalf("write tasks: %v", err)
	}
	return dataset.Ref{RepoID: fixture.RepoID, Root: fixture.Root}
}

func writeRows(t testing.TB, fixture DatasetFixture, layout dataset.Layout, codec dataset.Codec, idx int, ep EpisodeFixture, tasks *dataset.TaskTable, offset int) {
	t.Helper()

	target := filepath.Join(fixture.Root, filepath.FromSlash(layout.DataPath(idx)))
	writer, err := dataset.CreateRowFile(target, codec)
	if err != nil {
		t.Fatalf("create row file: %v", err)
	}
	var taskIndex *int64
	if len(ep.Tasks) > 0 {
		ti, _ := tasks.Index(ep.Tasks[0])
		v := int64(ti)
		taskIndex = &v
	}
	for frame := 0; frame < ep.Length; frame++ {
		ts := float64(frame) / float64(fixture.FPS)
		if frame > 0 {
			ts += ep.Jitter
		}
		row := dataset.NewRow(int64(idx), taskIndex, map[string]json.RawMessage{
			"frame_index":       json.RawMessage(fmt.Sprintf("%d", frame)),
			"index":             json.RawMessage(fmt.Sprintf("%d", offset+frame)),
			"timestamp":         mustJSON(t, ts),
			"observation.state": mustJSON(t, []float64{float64(idx), float64(frame)}),
		})
		if err := writer.Write(row); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close row file: %v", err)
	}
}

// ReadAllRows returns every row of a data file.
func ReadAllRows(t testing.TB, path string) []dataset.Row {
	t.Helper()

	var rows []dataset.Row
	if err := dataset.ReadRows(path, func(row dataset.Row) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		t.Fatalf("read rows %s: %v", path, err)
	}
	return rows
}

func mustJSON(t testing.TB, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
