package dataset

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
)

// VideoDtype marks a feature whose frames are stored as per-episode video files.
const VideoDtype = "video"

// Feature describes one column of the frame schema.
type Feature struct {
	Dtype string          `json:"dtype"`
	Shape []int           `json:"shape"`
	Names json.RawMessage `json:"names,omitempty"`
	Info  json.RawMessage `json:"info,omitempty"`
}

// Info mirrors meta/info.json.
type Info struct {
	CodebaseVersion string             `json:"codebase_version"`
	RobotType       string             `json:"robot_type,omitempty"`
	TotalEpisodes   int                `json:"total_episodes"`
	TotalFrames     int                `json:"total_frames"`
	TotalTasks      int                `json:"total_tasks"`
	TotalVideos     int                `json:"total_videos"`
	TotalChunks     int                `json:"total_chunks"`
	ChunksSize      int                `json:"chunks_size"`
	FPS             int                `json:"fps"`
	Splits          map[string]string  `json:"splits"`
	DataPath        string             `json:"data_path"`
	VideoPath       string             `json:"video_path,omitempty"`
	Features        map[string]Feature `json:"features"`
}

// VideoKeys returns the sorted feature keys stored as video streams.
func (i Info) VideoKeys() []string {
	keys := make([]string, 0)
	for key, feature := range i.Features {
		if feature.Dtype == VideoDtype {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// FeatureKeys returns the sorted set of feature keys.
func (i Info) FeatureKeys() []string {
	keys := make([]string, 0, len(i.Features))
	for key := range i.Features {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// VideoExtension returns the extension of the video path template, defaulting to .mp4.
func (i Info) VideoExtension() string {
	if ext := path.Ext(i.VideoPath); ext != "" {
		return ext
	}
	return ".mp4"
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)(?::0?(\d+)d)?\}`)

// RenderPath expands a python-style path template such as
// "data/chunk-{episode_chunk:03d}/episode_{episode_index:06d}.parquet".
// Integer values honour the zero-pad width; unknown placeholders are an error.
func RenderPath(template string, ints map[string]int, strs map[string]string) (string, error) {
	var renderErr error
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		name, width := groups[1], groups[2]
		if value, ok := ints[name]; ok {
			if width == "" {
				return strconv.Itoa(value)
			}
			w, _ := strconv.Atoi(width)
			return fmt.Sprintf("%0*d", w, value)
		}
		if value, ok := strs[name]; ok {
			return value
		}
		if renderErr == nil {
			renderErr = fmt.Errorf("path template %q: unknown placeholder %q", template, name)
		}
		return match
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}
