package dataset

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeMinimalDataset(t *testing.T, root string) {
	t.Helper()

	info := Info{
		CodebaseVersion: "v2.1",
		TotalEpisodes:   2,
		TotalFrames:     5,
		TotalTasks:      1,
		ChunksSize:      1000,
		FPS:             30,
		Splits:          map[string]string{"train": "0:2"},
		DataPath:        "data/chunk-{episode_chunk:03d}/episode_{episode_index:06d}.jsonl",
		VideoPath:       "videos/chunk-{episode_chunk:03d}/{video_key}/episode_{episode_index:06d}.mp4",
		Features: map[string]Feature{
			"observation.images.top": {Dtype: VideoDtype, Shape: []int{3, 2, 2}},
			"observation.images.a":   {Dtype: VideoDtype, Shape: []int{3, 2, 2}},
			"action":                 {Dtype: "float32", Shape: []int{2}},
		},
	}
	if err := WriteInfo(root, info); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}
	// written out of order on purpose
	if err := WriteEpisodes(root, []Episode{
		{Index: 1, Tasks: []string{"stack"}, Length: 3},
		{Index: 0, Tasks: []string{"pick"}, Length: 2},
	}); err != nil {
		t.Fatalf("WriteEpisodes: %v", err)
	}
	if err := WriteTasks(root, []Task{{Index: 1, Label: "stack"}, {Index: 0, Label: "pick"}}); err != nil {
		t.Fatalf("WriteTasks: %v", err)
	}
}

func TestOpenReadsMetadataSorted(t *testing.T) {
	root := t.TempDir()
	writeMinimalDataset(t, root)

	ds, err := Open(Ref{RepoID: "lab/demo", Root: root})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ds.NumEpisodes() != 2 {
		t.Fatalf("expected 2 episodes, got %d", ds.NumEpisodes())
	}
	if ds.Episodes[0].Index != 0 || ds.Episodes[1].Index != 1 {
		t.Fatalf("episodes not sorted: %+v", ds.Episodes)
	}
	if ds.Tasks[0].Label != "pick" || ds.Tasks[1].Label != "stack" {
		t.Fatalf("tasks not sorted: %+v", ds.Tasks)
	}
	ep, ok := ds.Episode(1)
	if !ok || ep.Length != 3 {
		t.Fatalf("Episode(1) = %+v, %v", ep, ok)
	}
	if _, ok := ds.Episode(7); ok {
		t.Fatal("expected missing episode 7")
	}
	if _, ok := ds.Stats(0); ok {
		t.Fatal("expected no stats without episodes_stats.jsonl")
	}
	keys := ds.Info.VideoKeys()
	if len(keys) != 2 || keys[0] != "observation.images.a" || keys[1] != "observation.images.top" {
		t.Fatalf("unexpected video keys %v", keys)
	}
}

func TestOpenMissingInfo(t *testing.T) {
	_, err := Open(Ref{RepoID: "lab/none", Root: t.TempDir()})
	if !errors.Is(err, ErrNotDataset) {
		t.Fatalf("expected ErrNotDataset, got %v", err)
	}
}

func TestOpenRejectsDuplicateEpisodes(t *testing.T) {
	root := t.TempDir()
	writeMinimalDataset(t, root)
	if err := WriteEpisodes(root, []Episode{{Index: 0, Length: 1}, {Index: 0, Length: 2}}); err != nil {
		t.Fatalf("WriteEpisodes: %v", err)
	}
	if _, err := Open(Ref{RepoID: "lab/dup", Root: root}); err == nil {
		t.Fatal("expected duplicate episode error")
	}
}

func TestDatasetFilePaths(t *testing.T) {
	root := t.TempDir()
	writeMinimalDataset(t, root)
	ds, err := Open(Ref{RepoID: "lab/demo", Root: root})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	data, err := ds.DataFile(1, 50)
	if err != nil {
		t.Fatalf("DataFile: %v", err)
	}
	if want := filepath.Join(root, "data", "chunk-000", "episode_000001.jsonl"); data != want {
		t.Fatalf("DataFile = %q, want %q", data, want)
	}
	video, err := ds.VideoFile(1, "observation.images.top", 50)
	if err != nil {
		t.Fatalf("VideoFile: %v", err)
	}
	if want := filepath.Join(root, "videos", "chunk-000", "observation.images.top", "episode_000001.mp4"); video != want {
		t.Fatalf("VideoFile = %q, want %q", video, want)
	}
}

func TestRenderPath(t *testing.T) {
	got, err := RenderPath("data/chunk-{episode_chunk:03d}/episode_{episode_index:06d}.parquet",
		map[string]int{"episode_chunk": 2, "episode_index": 2041}, nil)
	if err != nil {
		t.Fatalf("RenderPath: %v", err)
	}
	if got != "data/chunk-002/episode_002041.parquet" {
		t.Fatalf("RenderPath = %q", got)
	}
	if _, err := RenderPath("{unknown}/x", nil, nil); err == nil {
		t.Fatal("expected unknown placeholder error")
	}
}

func TestLayoutPlacement(t *testing.T) {
	layout, err := NewLayout(1000, ".jsonl.zst", ".mp4")
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if got := layout.DataPath(1001); got != "data/chunk-001/episode_001001.jsonl.zst" {
		t.Fatalf("DataPath = %q", got)
	}
	if got := layout.VideoPath(1001, "cam"); got != "videos/chunk-001/cam/episode_001001.mp4" {
		t.Fatalf("VideoPath = %q", got)
	}
	if got := layout.TotalChunks(1001); got != 2 {
		t.Fatalf("TotalChunks(1001) = %d", got)
	}
	if got := layout.TotalChunks(0); got != 0 {
		t.Fatalf("TotalChunks(0) = %d", got)
	}
	rendered, err := RenderPath(layout.DataPathTemplate(), map[string]int{"episode_chunk": 1, "episode_index": 1001}, nil)
	if err != nil {
		t.Fatalf("RenderPath: %v", err)
	}
	if rendered != layout.DataPath(1001) {
		t.Fatalf("template %q renders %q, want %q", layout.DataPathTemplate(), rendered, layout.DataPath(1001))
	}
	if _, err := NewLayout(0, ".jsonl", ".mp4"); err == nil {
		t.Fatal("expected chunk size error")
	}
}

func TestTaskTableFirstSeenOrder(t *testing.T) {
	table := NewTaskTable()
	if table.Add("b") != 0 || table.Add("a") != 1 || table.Add("b") != 0 {
		t.Fatal("unexpected indices")
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d", table.Len())
	}
	if label, ok := table.Label(1); !ok || label != "a" {
		t.Fatalf("Label(1) = %q, %v", label, ok)
	}
	tasks := table.Tasks()
	if tasks[0] != (Task{Index: 0, Label: "b"}) || tasks[1] != (Task{Index: 1, Label: "a"}) {
		t.Fatalf("Tasks = %+v", tasks)
	}
}

func TestRowRoundTripAllCodecs(t *testing.T) {
	for _, name := range []string{"zstd", "lz4", "jsonl"} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			if err != nil {
				t.Fatalf("CodecByName: %v", err)
			}
			path := filepath.Join(t.TempDir(), "chunk-000", "episode_000000"+codec.Extension())
			writer, err := CreateRowFile(path, codec)
			if err != nil {
				t.Fatalf("CreateRowFile: %v", err)
			}
			task := int64(4)
			for i := 0; i < 3; i++ {
				row := NewRow(7, &task, map[string]json.RawMessage{
					"timestamp": json.RawMessage(`0.5`),
					"action":    json.RawMessage(`[1,2]`),
				})
				if err := writer.Write(row); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if writer.Count() != 3 {
				t.Fatalf("Count = %d", writer.Count())
			}
			if err := writer.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			var got []Row
			if err := ReadRows(path, func(row Row) error {
				got = append(got, row)
				return nil
			}); err != nil {
				t.Fatalf("ReadRows: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 rows, got %d", len(got))
			}
			if got[0].EpisodeIndex != 7 || !got[0].HasTaskIndex || got[0].TaskIndex != 4 {
				t.Fatalf("unexpected row %+v", got[0])
			}
			ts, ok, err := got[0].Float("timestamp")
			if err != nil || !ok || ts != 0.5 {
				t.Fatalf("Float(timestamp) = %v, %v, %v", ts, ok, err)
			}
			action, ok := got[0].Column("action")
			if !ok || string(action) != "[1,2]" {
				t.Fatalf("Column(action) = %s", action)
			}
		})
	}
}

func TestRowMarshalIsStable(t *testing.T) {
	var row Row
	if err := json.Unmarshal([]byte(`{"z":1,"episode_index":3.0,"a":"x"}`), &row); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if row.EpisodeIndex != 3 || row.HasTaskIndex {
		t.Fatalf("unexpected row %+v", row)
	}
	row.EpisodeIndex = 9
	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"a":"x","episode_index":9,"z":1}` {
		t.Fatalf("Marshal = %s", data)
	}
}

func TestRowRejectsBadIndices(t *testing.T) {
	cases := []string{
		`{"timestamp":0}`,
		`{"episode_index":1.5}`,
		`{"episode_index":"one"}`,
		`{"episode_index":1,"task_index":null}`,
	}
	for _, input := range cases {
		var row Row
		if err := json.Unmarshal([]byte(input), &row); err == nil {
			t.Fatalf("expected error for %s", input)
		}
	}
}

func TestCodecForPath(t *testing.T) {
	cases := map[string]string{
		"episode_000000.jsonl.zst": "zstd",
		"episode_000000.jsonl.lz4": "lz4",
		"episode_000000.jsonl":     "jsonl",
	}
	for path, want := range cases {
		codec, err := CodecForPath(path)
		if err != nil {
			t.Fatalf("CodecForPath(%q): %v", path, err)
		}
		if codec.Name() != want {
			t.Fatalf("CodecForPath(%q) = %s, want %s", path, codec.Name(), want)
		}
	}
	if _, err := CodecForPath("episode_000000.parquet"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestWriteInfoOverwrites(t *testing.T) {
	root := t.TempDir()
	if err := WriteInfo(root, Info{TotalEpisodes: 5}); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}
	if err := WriteInfo(root, Info{TotalEpisodes: 2}); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, InfoFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.TotalEpisodes != 2 {
		t.Fatalf("TotalEpisodes = %d", info.TotalEpisodes)
	}
}
