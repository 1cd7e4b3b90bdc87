package installer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/oshokin/composite-installer/internal/config"
	"github.com/oshokin/composite-installer/internal/domain/release"
	"github.com/oshokin/composite-installer/internal/extractor"
	"github.com/oshokin/composite-installer/internal/fetcher"
	"github.com/oshokin/composite-installer/internal/forge"
	"github.com/oshokin/composite-installer/internal/logger"
	"github.com/oshokin/composite-installer/internal/merger"
	"github.com/oshokin/composite-installer/internal/repository/versions"
	"github.com/oshokin/composite-installer/internal/retry"
)

// Options are inputs accepted by the installer entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// OutputDir overrides the configured output directory when set.
	OutputDir string
	// Concurrency overrides the configured staging worker limit when positive.
	Concurrency int
	// Force reinstalls components that are already current and skips the
	// running-process guard.
	Force bool
}

// newDownloadClient bounds connection setup and the wait for response
// headers without capping total transfer time: archives stream arbitrarily
// long, and mid-body stalls are cut off by the fetcher's own watchdog.
func newDownloadClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// Run loads the configuration, assembles the pipeline and executes it.
// It is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) (*release.PipelineResult, error) {
	ctx = logger.WithName(ctx, "composite-installer")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}

	if opts.Concurrency > 0 {
		cfg.Concurrency = opts.Concurrency
	}

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	pipeline := &Pipeline{
		Resolver: forge.NewGitHubResolver(
			forge.NewGitHubClient(cfg.Timeout, cfg.Token),
			retry.DefaultPolicy(),
		),
		Fetcher:         fetcher.New(newDownloadClient(cfg.Timeout), retry.DefaultPolicy(), tempDir),
		Extractor:       extractor.New(tempDir),
		Merger:          merger.New(),
		Versions:        versions.NewFileRepository(cfg.VersionsFile),
		Reporter:        LogReporter{},
		OutputDir:       cfg.OutputDir,
		CleanupPatterns: cfg.CleanupPatterns,
		Concurrency:     cfg.Concurrency,
		Force:           opts.Force,
	}

	logger.InfoKV(ctx, "Starting composite install",
		"repositories", len(cfg.Repositories),
		"output", cfg.OutputDir,
		"concurrency", cfg.Concurrency)

	result, err := pipeline.Run(ctx, cfg.Repositories)
	if err != nil {
		return result, err
	}

	for _, repo := range result.Failed() {
		logger.ErrorKV(ctx, "Component failed",
			"repository", repo.Spec.Slug(),
			"stage", string(repo.Stage),
			"kind", string(repo.Kind),
			"error", repo.Err)
	}

	switch outcome := result.Outcome(); outcome {
	case release.AllSucceeded:
		logger.Info(ctx, "Composite install is up to date")
	default:
		return result, fmt.Errorf("composite install finished with outcome %s", outcome)
	}

	return result, nil
}
