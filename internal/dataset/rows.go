package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	gojson "github.com/goccy/go-json"
)

// Column names with a fixed semantic type at the row-transformation boundary.
const (
	ColumnEpisodeIndex = "episode_index"
	ColumnTaskIndex    = "task_index"
	ColumnTimestamp    = "timestamp"
	ColumnFrameIndex   = "frame_index"
)

// Row is one frame. EpisodeIndex and TaskIndex are decoded into typed fields;
// every other column is kept as raw JSON and written back unchanged.
type Row struct {
	EpisodeIndex int64
	TaskIndex    int64
	HasTaskIndex bool

	columns map[string]json.RawMessage
}

// UnmarshalJSON decodes a frame row, requiring an integral episode_index.
func (r *Row) UnmarshalJSON(data []byte) error {
	var columns map[string]json.RawMessage
	if err := gojson.Unmarshal(data, &columns); err != nil {
		return err
	}
	raw, ok := columns[ColumnEpisodeIndex]
	if !ok {
		return fmt.Errorf("frame row missing %s", ColumnEpisodeIndex)
	}
	ep, err := scalarInt(raw)
	if err != nil {
		return fmt.Errorf("frame row %s: %w", ColumnEpisodeIndex, err)
	}
	delete(columns, ColumnEpisodeIndex)

	*r = Row{EpisodeIndex: ep, columns: columns}
	if raw, ok := columns[ColumnTaskIndex]; ok {
		task, err := scalarInt(raw)
		if err != nil {
			return fmt.Errorf("frame row %s: %w", ColumnTaskIndex, err)
		}
		r.TaskIndex = task
		r.HasTaskIndex = true
		delete(columns, ColumnTaskIndex)
	}
	return nil
}

// MarshalJSON encodes the row with sorted keys so identical rows always
// produce identical bytes.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.columns)+2)
	for key, value := range r.columns {
		out[key] = value
	}
	out[ColumnEpisodeIndex] = json.RawMessage(strconv.FormatInt(r.EpisodeIndex, 10))
	if r.HasTaskIndex {
		out[ColumnTaskIndex] = json.RawMessage(strconv.FormatInt(r.TaskIndex, 10))
	}
	return gojson.Marshal(out)
}

// Float returns a numeric column as float64.
func (r Row) Float(column string) (float64, bool, error) {
	raw, ok := r.columns[column]
	if !ok {
		return 0, false, nil
	}
	var value float64
	if err := gojson.Unmarshal(raw, &value); err != nil {
		return 0, true, fmt.Errorf("frame row %s: %w", column, err)
	}
	return value, true, nil
}

// Column returns the raw JSON of a payload column.
func (r Row) Column(column string) (json.RawMessage, bool) {
	raw, ok := r.columns[column]
	return raw, ok
}

// NewRow builds a row from typed indices and raw payload columns.
func NewRow(episodeIndex int64, taskIndex *int64, columns map[string]json.RawMessage) Row {
	row := Row{EpisodeIndex: episodeIndex, columns: make(map[string]json.RawMessage, len(columns))}
	for key, value := range columns {
		if key == ColumnEpisodeIndex || key == ColumnTaskIndex {
			continue
		}
		row.columns[key] = value
	}
	if taskIndex != nil {
		row.TaskIndex = *taskIndex
		row.HasTaskIndex = true
	}
	return row
}

// scalarInt extracts an integer from a JSON number. Values such as 3.0 are
// accepted; fractional values are rejected.
func scalarInt(raw json.RawMessage) (int64, error) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, fmt.Errorf("expected integer, got %s", string(raw))
	}
	if v, err := num.Int64(); err == nil {
		return v, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %s", num.String())
	}
	return int64(f), nil
}

// ReadRows streams every row of the file at path through fn, in file order.
func ReadRows(path string, fn func(Row) error) error {
	codec, err := CodecForPath(path)
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := codec.NewReader(bufio.NewReader(file))
	if err != nil {
		return fmt.Errorf("open %s reader for %s: %w", codec.Name(), filepath.Base(path), err)
	}
	defer reader.Close()

	dec := gojson.NewDecoder(reader)
	for line := 0; ; line++ {
		var row Row
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode %s row %d: %w", filepath.Base(path), line, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// RowWriter writes rows to a new data file.
type RowWriter struct {
	file    *os.File
	buf     *bufio.Writer
	encoder io.WriteCloser
	json    *gojson.Encoder
	count   int
}

// CreateRowFile creates path (and its parent directories), truncating any existing file.
func CreateRowFile(path string, codec Codec) (*RowWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(file)
	encoder, err := codec.NewWriter(buf)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("open %s writer: %w", codec.Name(), err)
	}
	enc := gojson.NewEncoder(encoder)
	enc.SetEscapeHTML(false)
	return &RowWriter{file: file, buf: buf, encoder: encoder, json: enc}, nil
}

// Write appends one row.
func (w *RowWriter) Write(row Row) error {
	if err := w.json.Encode(row); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of rows written so far.
func (w *RowWriter) Count() int { return w.count }

// Close flushes the codec and closes the file.
func (w *RowWriter) Close() error {
	encErr := w.encoder.Close()
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	return errors.Join(encErr, flushErr, closeErr)
}
