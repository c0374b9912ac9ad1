package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"datastudio/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "datastudio", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	wantDatasets := filepath.Join(tempHome, ".cache", "datastudio", "datasets")
	if cfg.Paths.DatasetsDir != wantDatasets {
		t.Fatalf("unexpected datasets dir: got %q want %q", cfg.Paths.DatasetsDir, wantDatasets)
	}
	if cfg.Publish.Target != "local" {
		t.Fatalf("expected local publish target, got %q", cfg.Publish.Target)
	}
	if cfg.Engine.RowCodec != "zstd" {
		t.Fatalf("expected zstd row codec, got %q", cfg.Engine.RowCodec)
	}
	if len(cfg.Engine.SupportedVersions) != 1 || cfg.Engine.SupportedVersions[0] != "v2.1" {
		t.Fatalf("unexpected supported versions: %v", cfg.Engine.SupportedVersions)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DATASTUDIO_S3_ACCESS_KEY", "env-access")
	t.Setenv("DATASTUDIO_S3_SECRET_KEY", "env-secret")

	configPath := filepath.Join(tempHome, "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"datasets_dir": "~/datasets",
			"staging_dir":  "~/scratch",
		},
		"engine": map[string]any{
			"workers":   8,
			"row_codec": "LZ4",
		},
		"publish": map[string]any{
			"target":   "minio",
			"bucket":   "robot-data",
			"prefix":   "/datasets/",
			"endpoint": "localhost:9000",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.DatasetsDir != filepath.Join(tempHome, "datasets") {
		t.Fatalf("unexpected datasets dir: %q", cfg.Paths.DatasetsDir)
	}
	if cfg.Engine.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.RowCodec != "lz4" {
		t.Fatalf("expected codec normalized to lz4, got %q", cfg.Engine.RowCodec)
	}
	if cfg.Publish.Prefix != "datasets" {
		t.Fatalf("expected trimmed prefix, got %q", cfg.Publish.Prefix)
	}
	if cfg.Publish.AccessKey != "env-access" || cfg.Publish.SecretKey != "env-secret" {
		t.Fatalf("expected credentials from env, got %q/%q", cfg.Publish.AccessKey, cfg.Publish.SecretKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"unknown codec", func(c *config.Config) { c.Engine.RowCodec = "parquet" }, "engine.row_codec"},
		{"no workers", func(c *config.Config) { c.Engine.Workers = 0 }, "engine.workers"},
		{"negative tolerance", func(c *config.Config) { c.Engine.DefaultToleranceS = -1 }, "default_tolerance_s"},
		{"s3 without bucket", func(c *config.Config) { c.Publish.Target = "s3" }, "publish.bucket"},
		{"minio without endpoint", func(c *config.Config) {
			c.Publish.Target = "minio"
			c.Publish.Bucket = "b"
		}, "publish.endpoint"},
		{"unknown target", func(c *config.Config) { c.Publish.Target = "ftp" }, "publish.target"},
		{"ntfy topic without scheme", func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/topic" }, "notifications.ntfy_topic"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDatasetRootJoinsRepoID(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DatasetsDir = "/data"
	if got := cfg.DatasetRoot("org/name"); got != filepath.Join("/data", "org", "name") {
		t.Fatalf("unexpected dataset root %q", got)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config should load cleanly: exists=%v err=%v", exists, err)
	}
}
