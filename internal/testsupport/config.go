package testsupport

import (
	"path/filepath"
	"testing"

	"datastudio/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DatasetsDir = filepath.Join(base, "datasets")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Engine.Workers = 2
	cfgVal.Engine.RowCodec = "jsonl"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRowCodec overrides the codec used for written data files.
func WithRowCodec(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.RowCodec = name
	}
}

// WithChunkSizeFallback overrides the chunk size used when sources omit one.
func WithChunkSizeFallback(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.ChunkSizeFallback = size
	}
}

// WithVerifyCopies toggles hash verification of copied videos.
func WithVerifyCopies(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.VerifyCopies = enabled
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
