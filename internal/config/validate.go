package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEngine() error {
	if c.Engine.ChunkSizeFallback <= 0 {
		return errors.New("engine.chunk_size_fallback must be positive")
	}
	if c.Engine.Workers < 1 {
		return errors.New("engine.workers must be at least 1")
	}
	switch c.Engine.RowCodec {
	case "zstd", "lz4", "jsonl":
	default:
		return fmt.Errorf("engine.row_codec: unsupported value %q (want zstd, lz4, or jsonl)", c.Engine.RowCodec)
	}
	if c.Engine.DefaultToleranceS < 0 {
		return errors.New("engine.default_tolerance_s must not be negative")
	}
	if c.Engine.StaleStagingHours < 0 {
		return errors.New("engine.stale_staging_hours must not be negative")
	}
	return nil
}

func (c *Config) validatePublish() error {
	switch c.Publish.Target {
	case "local":
		return nil
	case "s3":
		if c.Publish.Bucket == "" {
			return errors.New("publish.bucket must be set when publish.target is s3")
		}
		return nil
	case "minio":
		if c.Publish.Bucket == "" {
			return errors.New("publish.bucket must be set when publish.target is minio")
		}
		if c.Publish.Endpoint == "" {
			return errors.New("publish.endpoint must be set when publish.target is minio")
		}
		if c.Publish.AccessKey == "" || c.Publish.SecretKey == "" {
			return errors.New("publish.access_key and publish.secret_key must be set when publish.target is minio (or DATASTUDIO_S3_ACCESS_KEY/DATASTUDIO_S3_SECRET_KEY)")
		}
		return nil
	default:
		return fmt.Errorf("publish.target: unsupported value %q (want local, s3, or minio)", c.Publish.Target)
	}
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeoutS < 0 {
		return errors.New("notifications.request_timeout_s must not be negative")
	}
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic: %q must be an http(s) URL", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
