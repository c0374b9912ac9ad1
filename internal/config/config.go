package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DatasetsDir string `toml:"datasets_dir"`
	StagingDir  string `toml:"staging_dir"`
	LogDir      string `toml:"log_dir"`
}

// Engine contains settings for the filter/merge transformation pipeline.
type Engine struct {
	// ChunkSizeFallback applies only when a source info document omits chunks_size.
	ChunkSizeFallback int `toml:"chunk_size_fallback"`
	// Workers bounds per-episode parallelism while rewriting rows and copying videos.
	Workers int `toml:"workers"`
	// RowCodec selects the encoding of written data files: zstd, lz4, or jsonl.
	RowCodec string `toml:"row_codec"`
	// VerifyCopies hashes every copied video file against its source.
	VerifyCopies      bool     `toml:"verify_copies"`
	SupportedVersions []string `toml:"supported_versions"`
	// DefaultToleranceS is the merge timestamp tolerance used when a source does not set one.
	DefaultToleranceS float64 `toml:"default_tolerance_s"`
	StaleStagingHours int     `toml:"stale_staging_hours"`
}

// Publish selects where finished datasets are handed off to.
type Publish struct {
	Target    string `toml:"target"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications configures ntfy announcements of finished runs.
type Notifications struct {
	// NtfyTopic is the full topic URL; empty disables notifications.
	NtfyTopic       string `toml:"ntfy_topic"`
	RequestTimeoutS int    `toml:"request_timeout_s"`
}

// Config encapsulates all configuration values for datastudio.
//
// Configuration sections by subsystem:
//   - Paths: dataset home, scratch staging root, and log directory
//   - Engine: chunking fallback, parallelism, row codec, merge tolerance
//   - Publish: local move or S3/MinIO upload of finished datasets
//   - Notifications: ntfy topic for run outcomes
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	Publish       Publish       `toml:"publish"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load finds, decodes, normalizes, and validates the configuration. It
// returns the config, the file it came from, and whether that file exists.
// A missing file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	source, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		if err := decodeFile(source, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, source, exists, nil
}

// decodeFile strictly decodes TOML at path over cfg; unknown keys are errors.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath honours an explicit path as-is. Otherwise the user config
// wins over ./datastudio.toml, and the user path is reported when neither exists.
func resolveConfigPath(explicit string) (string, bool, error) {
	if explicit != "" {
		target, err := expandPath(explicit)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(target)
		if err != nil {
			return "", false, err
		}
		return target, exists, nil
	}

	userPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, projectPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	}
	return !info.IsDir(), nil
}

// EnsureDirectories creates the directories the engine writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DatasetsDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatasetRoot returns the local directory holding the dataset with the given repo id.
func (c *Config) DatasetRoot(repoID string) string {
	return filepath.Join(c.Paths.DatasetsDir, filepath.FromSlash(strings.Trim(repoID, "/")))
}

// RunDatabasePath returns the SQLite file used to persist run history.
func (c *Config) RunDatabasePath() string {
	return filepath.Join(c.Paths.LogDir, "runs.db")
}

// expandPath resolves a leading "~" or "~/" against the home directory and
// returns an absolute, cleaned path. "~user" forms are left alone.
func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") || strings.HasPrefix(value, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if value == "~" {
			value = home
		} else {
			value = filepath.Join(home, value[2:])
		}
	}
	absolute, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
