// Package dataset models episodic robot-demonstration datasets as they are
// laid out on local storage: a meta/ directory of JSON and JSON-lines
// documents, chunked per-episode frame-row files under data/, and per-stream
// episode videos under videos/.
//
// Open reads a dataset's metadata without touching its row or video files.
// Layout computes canonical chunked paths for newly written datasets, and the
// row codecs stream frame rows through zstd, lz4, or plain JSON-lines files.
package dataset
