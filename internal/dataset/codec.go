package dataset

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec encodes the byte stream of a JSON-lines row file.
type Codec interface {
	Name() string
	Extension() string
	NewReader(io.Reader) (io.ReadCloser, error)
	NewWriter(io.Writer) (io.WriteCloser, error)
}

var codecs = []Codec{zstdCodec{}, lz4Codec{}, plainCodec{}}

// CodecByName returns the codec registered under name (zstd, lz4, jsonl).
func CodecByName(name string) (Codec, error) {
	for _, c := range codecs {
		if c.Name() == strings.ToLower(strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown row codec %q", name)
}

// CodecForPath selects a codec by file extension.
func CodecForPath(path string) (Codec, error) {
	for _, c := range codecs {
		if strings.HasSuffix(path, c.Extension()) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unsupported row file format: %s", path)
}

type zstdCodec struct{}

func (zstdCodec) Name() string      { return "zstd" }
func (zstdCodec) Extension() string { return ".jsonl.zst" }

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

type lz4Codec struct{}

func (lz4Codec) Name() string      { return "lz4" }
func (lz4Codec) Extension() string { return ".jsonl.lz4" }

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lz4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

type plainCodec struct{}

func (plainCodec) Name() string      { return "jsonl" }
func (plainCodec) Extension() string { return ".jsonl" }

func (plainCodec) NewReader(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }

func (plainCodec) NewWriter(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
