package dataset

import (
	"fmt"
	"path"
)

// Canonical path templates written into info.json of new datasets. The data
// extension is appended per codec.
const (
	DataPathPrefix    = "data/chunk-{episode_chunk:03d}/episode_{episode_index:06d}"
	VideoPathTemplate = "videos/chunk-{episode_chunk:03d}/{video_key}/episode_{episode_index:06d}"
)

// Layout maps new episode indices to chunk directories and canonical file
// names. Placement depends only on the index and ChunkSize.
type Layout struct {
	ChunkSize int
	DataExt   string
	VideoExt  string
}

// NewLayout validates the chunk size and extensions.
func NewLayout(chunkSize int, dataExt, videoExt string) (Layout, error) {
	if chunkSize <= 0 {
		return Layout{}, fmt.Errorf("layout: chunk size must be positive, got %d", chunkSize)
	}
	if dataExt == "" || videoExt == "" {
		return Layout{}, fmt.Errorf("layout: data and video extensions are required")
	}
	return Layout{ChunkSize: chunkSize, DataExt: dataExt, VideoExt: videoExt}, nil
}

// ChunkIndex returns episodeIndex // ChunkSize.
func (l Layout) ChunkIndex(episodeIndex int) int {
	return episodeIndex / l.ChunkSize
}

// DataPath returns the slash-separated relative path of an episode's row file.
func (l Layout) DataPath(episodeIndex int) string {
	return fmt.Sprintf("data/chunk-%03d/episode_%06d%s", l.ChunkIndex(episodeIndex), episodeIndex, l.DataExt)
}

// VideoPath returns the slash-separated relative path of an episode's video for one stream.
func (l Layout) VideoPath(episodeIndex int, videoKey string) string {
	return path.Join("videos", fmt.Sprintf("chunk-%03d", l.ChunkIndex(episodeIndex)), videoKey,
		fmt.Sprintf("episode_%06d%s", episodeIndex, l.VideoExt))
}

// DataPathTemplate is the info.json data_path value matching DataPath.
func (l Layout) DataPathTemplate() string {
	return DataPathPrefix + l.DataExt
}

// VideoPathTemplate is the info.json video_path value matching VideoPath.
func (l Layout) VideoPathTemplate() string {
	return VideoPathTemplate + l.VideoExt
}

// TotalChunks returns the number of chunk directories needed for n episodes.
func (l Layout) TotalChunks(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + l.ChunkSize - 1) / l.ChunkSize
}
