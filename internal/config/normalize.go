package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizePublish()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DatasetsDir) == "" {
		c.Paths.DatasetsDir = defaultDatasetsDir
	}
	if c.Paths.DatasetsDir, err = expandPath(c.Paths.DatasetsDir); err != nil {
		return fmt.Errorf("paths.datasets_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.RowCodec = strings.ToLower(strings.TrimSpace(c.Engine.RowCodec))
	if c.Engine.RowCodec == "" {
		c.Engine.RowCodec = defaultRowCodec
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = defaultWorkers
	}
	versions := make([]string, 0, len(c.Engine.SupportedVersions))
	for _, v := range c.Engine.SupportedVersions {
		if v = strings.TrimSpace(v); v != "" {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		versions = append(versions, DefaultSupportedVersions...)
	}
	c.Engine.SupportedVersions = versions
}

func (c *Config) normalizePublish() {
	c.Publish.Target = strings.ToLower(strings.TrimSpace(c.Publish.Target))
	if c.Publish.Target == "" {
		c.Publish.Target = defaultPublishTarget
	}
	c.Publish.Bucket = strings.TrimSpace(c.Publish.Bucket)
	c.Publish.Prefix = strings.Trim(strings.TrimSpace(c.Publish.Prefix), "/")
	c.Publish.Endpoint = strings.TrimSpace(c.Publish.Endpoint)
	if strings.TrimSpace(c.Publish.Region) == "" {
		c.Publish.Region = defaultPublishRegion
	}
	if c.Publish.AccessKey == "" {
		if value, ok := os.LookupEnv("DATASTUDIO_S3_ACCESS_KEY"); ok {
			c.Publish.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.Publish.SecretKey == "" {
		if value, ok := os.LookupEnv("DATASTUDIO_S3_SECRET_KEY"); ok {
			c.Publish.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutS == 0 {
		c.Notifications.RequestTimeoutS = defaultNtfyTimeoutS
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
