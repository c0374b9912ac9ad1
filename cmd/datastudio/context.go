package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"datastudio/internal/config"
	"datastudio/internal/dataset"
	"datastudio/internal/logging"
	"datastudio/internal/notifications"
	"datastudio/internal/publish"
	"datastudio/internal/runs"
	"datastudio/internal/transform"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	storeOnce sync.Once
	store     *runs.Store
	storeErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// JSONMode reports whether --json was given.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) ensureStore() (*runs.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		c.store, c.storeErr = runs.Open(cfg.RunDatabasePath())
	})
	return c.store, c.storeErr
}

// newRunner wires engine, publisher, tracker, and notifier for a filter or merge command.
func (c *commandContext) newRunner(ctx context.Context) (*runs.Runner, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := c.ensureStore()
	if err != nil {
		return nil, fmt.Errorf("open run database: %w", err)
	}
	publisher, err := publish.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := transform.NewEngine(cfg, publisher, logger)
	runner := runs.NewRunner(engine, runs.NewTracker(store, logger), logger)
	runner.SetNotifier(notifications.NewService(cfg))
	return runner, nil
}

// datasetRef resolves a repo id to its directory under datasets_dir.
func (c *commandContext) datasetRef(repoID string) (dataset.Ref, error) {
	repoID = strings.Trim(strings.TrimSpace(repoID), "/")
	if repoID == "" {
		return dataset.Ref{}, errors.New("repo id is required")
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return dataset.Ref{}, err
	}
	return dataset.Ref{RepoID: repoID, Root: cfg.DatasetRoot(repoID)}, nil
}

func (c *commandContext) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
