package preflight

import (
	"context"

	"datastudio/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Datasets directory", cfg.Paths.DatasetsDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	// object-store targets with a custom endpoint (MinIO, S3-compatible)
	if cfg.Publish.Target != "local" && cfg.Publish.Endpoint != "" {
		results = append(results, CheckEndpoint(ctx, "Object store", cfg.Publish.Endpoint, cfg.Publish.UseSSL))
	}
	return results
}

// FirstFailure returns the first failing result, if any.
func FirstFailure(results []Result) (Result, bool) {
	for _, r := range results {
		if !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}
