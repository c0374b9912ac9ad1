package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteInfo writes meta/info.json under root, replacing any existing file.
func WriteInfo(root string, info Info) error {
	data, err := json.MarshalIndent(info, "", "    ")
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}
	target := filepath.Join(root, InfoFile)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	if err := os.WriteFile(target, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write info: %w", err)
	}
	return nil
}

// WriteEpisodes writes meta/episodes.jsonl in slice order.
func WriteEpisodes(root string, episodes []Episode) error {
	return writeJSONLines(filepath.Join(root, EpisodesFile), len(episodes), func(i int) any { return episodes[i] })
}

// WriteEpisodeStats writes meta/episodes_stats.jsonl in slice order.
func WriteEpisodeStats(root string, stats []EpisodeStats) error {
	return writeJSONLines(filepath.Join(root, EpisodeStatsFile), len(stats), func(i int) any { return stats[i] })
}

// WriteTasks writes meta/tasks.jsonl in slice order.
func WriteTasks(root string, tasks []Task) error {
	return writeJSONLines(filepath.Join(root, TasksFile), len(tasks), func(i int) any { return tasks[i] })
}

// writeJSONLines truncates path and writes one JSON record per line.
func writeJSONLines(path string, n int, record func(int) any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for i := 0; i < n; i++ {
		if err := enc.Encode(record(i)); err != nil {
			return fmt.Errorf("encode %s record %d: %w", filepath.Base(path), i, err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}
