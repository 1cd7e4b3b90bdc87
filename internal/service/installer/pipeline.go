package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	goversion "github.com/hashicorp/go-version"

	"github.com/oshokin/composite-installer/internal/domain/release"
	"github.com/oshokin/composite-installer/internal/extractor"
	"github.com/oshokin/composite-installer/internal/fetcher"
	"github.com/oshokin/composite-installer/internal/forge"
	"github.com/oshokin/composite-installer/internal/logger"
	"github.com/oshokin/composite-installer/internal/merger"
	"github.com/oshokin/composite-installer/internal/repository/versions"
)

// AssetFetcher downloads and verifies one resolved asset.
type AssetFetcher interface {
	Fetch(ctx context.Context, descriptor *release.Descriptor) (*fetcher.DownloadedAsset, error)
}

// ArchiveExtractor unpacks a downloaded archive into a staging tree.
type ArchiveExtractor interface {
	Extract(ctx context.Context, asset *fetcher.DownloadedAsset) (*extractor.StagedTree, error)
}

// TreeMerger applies a staging tree to a destination directory.
type TreeMerger interface {
	Merge(ctx context.Context, staged *extractor.StagedTree, dest string, flatten bool) (*merger.Report, error)
}

// Pipeline wires the resolver, fetcher, extractor and merger into one run
// over a list of repository specs. All fields except Reporter are required.
type Pipeline struct {
	// Resolver finds the latest release and selects the asset.
	Resolver forge.Resolver
	// Fetcher downloads and verifies assets.
	Fetcher AssetFetcher
	// Extractor unpacks downloaded archives into staging trees.
	Extractor ArchiveExtractor
	// Merger applies staging trees to the output directory.
	Merger TreeMerger
	// Versions persists the installed tag per repository between runs.
	Versions versions.Repository
	// Reporter receives progress events. Nil disables reporting.
	Reporter Reporter
	// OutputDir is the root of the composite install tree.
	OutputDir string
	// CleanupPatterns are glob patterns removed from the output tree after
	// all merges succeed, matched against file base names.
	CleanupPatterns []string
	// Concurrency bounds how many repositories stage at the same time.
	Concurrency int
	// Force disables the skip-if-up-to-date check and the running-process
	// guard.
	Force bool
}

// stagedComponent is the outcome of one repository's staging phase: either a
// tree ready to merge, a skip decision, or a failure with its stage attached.
type stagedComponent struct {
	tag     string
	staged  *extractor.StagedTree
	skipped bool
	stage   release.Stage
	err     error
}

// Run executes the pipeline over the given specs. Staging runs concurrently,
// merges are applied sequentially in spec order. The returned error covers
// infrastructure failures only (install record, process guard); individual
// repository failures are reported through the PipelineResult.
func (p *Pipeline) Run(ctx context.Context, specs []release.RepositorySpec) (*release.PipelineResult, error) {
	reporter := p.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}

	if !p.Force {
		running, err := runningOutputExecutables(p.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("check output directory: %w", err)
		}

		if len(running) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrOutputInUse, running)
		}
	}

	record, err := p.Versions.Load(ctx)
	if errors.Is(err, versions.ErrNotFound) {
		record = &versions.Record{}
	} else if err != nil {
		return nil, err
	}

	components := p.stageAll(ctx, specs, record, reporter)

	result := &release.PipelineResult{
		Repositories: make([]release.RepositoryResult, len(specs)),
	}

	installed := 0

	for i, spec := range specs {
		component := components[i]

		switch {
		case component.err != nil:
			result.Repositories[i] = failedResult(spec, component.tag, component.stage, component.err)
			reporter.Publish(ctx, Event{Slug: spec.Slug(), Phase: PhaseFailed, Version: component.tag, Err: component.err})
		case component.skipped:
			result.Repositories[i] = release.RepositoryResult{
				Spec:    spec,
				Status:  release.StatusSkipped,
				Version: component.tag,
			}
			reporter.Publish(ctx, Event{Slug: spec.Slug(), Phase: PhaseSkipped, Version: component.tag})
		default:
			result.Repositories[i] = p.mergeComponent(ctx, spec, component, record, reporter)
		}
	}

	for _, repo := range result.Repositories {
		if repo.Status == release.StatusSucceeded {
			installed++
		}
	}

	if installed > 0 {
		p.cleanupOutput(ctx)

		if err = p.Versions.Save(ctx, record); err != nil {
			return result, fmt.Errorf("save install record: %w", err)
		}
	}

	return result, nil
}

// stageAll resolves, fetches and extracts every spec concurrently under the
// configured worker limit. The returned slice is index-aligned with specs.
func (p *Pipeline) stageAll(
	ctx context.Context,
	specs []release.RepositorySpec,
	record *versions.Record,
	reporter Reporter,
) []stagedComponent {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		components = make([]stagedComponent, len(specs))
		semaphore  = make(chan struct{}, concurrency)
		wg         sync.WaitGroup
	)

	for i, spec := range specs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			components[i] = p.stageOne(ctx, spec, record, reporter)
		}()
	}

	wg.Wait()

	return components
}

// stageOne runs the staging phases for a single repository.
func (p *Pipeline) stageOne(
	ctx context.Context,
	spec release.RepositorySpec,
	record *versions.Record,
	reporter Reporter,
) stagedComponent {
	slug := spec.Slug()
	ctx = logger.WithKV(ctx, "repository", slug)

	reporter.Publish(ctx, Event{Slug: slug, Phase: PhaseResolving})

	descriptor, err := p.Resolver.Resolve(ctx, spec)
	if err != nil {
		return stagedComponent{stage: release.StageResolve, err: err}
	}

	if !p.Force && upToDate(record.Version(slug), descriptor.Tag) {
		return stagedComponent{tag: descriptor.Tag, skipped: true}
	}

	reporter.Publish(ctx, Event{Slug: slug, Phase: PhaseDownloading, Version: descriptor.Tag})

	downloaded, err := p.Fetcher.Fetch(ctx, descriptor)
	if err != nil {
		return stagedComponent{tag: descriptor.Tag, stage: release.StageFetch, err: err}
	}

	defer func() {
		if discardErr := downloaded.Discard(); discardErr != nil {
			logger.WarnKV(ctx, "Unable to remove downloaded archive", "error", discardErr)
		}
	}()

	reporter.Publish(ctx, Event{Slug: slug, Phase: PhaseExtracting, Version: descriptor.Tag})

	staged, err := p.Extractor.Extract(ctx, downloaded)
	if err != nil {
		return stagedComponent{tag: descriptor.Tag, stage: release.StageExtract, err: err}
	}

	return stagedComponent{tag: descriptor.Tag, staged: staged}
}

// mergeComponent applies one staged tree to the output directory.
func (p *Pipeline) mergeComponent(
	ctx context.Context,
	spec release.RepositorySpec,
	component stagedComponent,
	record *versions.Record,
	reporter Reporter,
) release.RepositoryResult {
	slug := spec.Slug()

	if err := ctx.Err(); err != nil {
		_ = component.staged.Remove()
		reporter.Publish(ctx, Event{Slug: slug, Phase: PhaseFailed, Version: component.tag, Err: err})

		return failedResult(spec, component.tag, release.StageMerge, err)
	}

	reporter.Publish(ctx, Event{Slug: slug, Phase: PhaseMerging, Version: component.tag})

	dest := p.OutputDir
	if spec.Subdirectory != "" {
		dest = filepath.Join(dest, filepath.FromSlash(spec.Subdirectory))
	}

	report, err := p.Merger.Merge(ctx, component.staged, dest, !spec.KeepRoot)
	if err != nil {
		failed := failedResult(spec, component.tag, release.StageMerge, err)

		// A failed merge may have already replaced files; the caller still
		// has to know which ones.
		if report != nil {
			failed.Overwritten = report.Overwritten
		}

		reporter.Publish(ctx, Event{Slug: slug, Phase: PhaseFailed, Version: component.tag, Err: err})

		return failed
	}

	record.Set(slug, component.tag)
	reporter.Publish(ctx, Event{Slug: slug, Phase: PhaseSucceeded, Version: component.tag})

	return release.RepositoryResult{
		Spec:        spec,
		Status:      release.StatusSucceeded,
		Version:     component.tag,
		Overwritten: report.Overwritten,
	}
}

// cleanupOutput removes files matching the configured cleanup patterns from
// the output tree. Cleanup failures are logged, never fatal.
func (p *Pipeline) cleanupOutput(ctx context.Context) {
	if len(p.CleanupPatterns) == 0 {
		return
	}

	err := filepath.WalkDir(p.OutputDir, func(filePath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil || entry.IsDir() {
			return walkErr
		}

		for _, pattern := range p.CleanupPatterns {
			matched, matchErr := path.Match(pattern, entry.Name())
			if matchErr != nil {
				continue
			}

			if matched {
				if removeErr := os.Remove(filePath); removeErr != nil {
					logger.WarnKV(ctx, "Unable to remove file during cleanup",
						"path", filePath, "error", removeErr)
				}

				break
			}
		}

		return nil
	})
	if err != nil {
		logger.WarnKV(ctx, "Cleanup pass failed", "error", err)
	}
}

// failedResult builds a failure result with the error kind attached.
func failedResult(spec release.RepositorySpec, tag string, stage release.Stage, err error) release.RepositoryResult {
	return release.RepositoryResult{
		Spec:    spec,
		Status:  release.StatusFailed,
		Version: tag,
		Stage:   stage,
		Kind:    classifyKind(err),
		Err:     err,
	}
}

// upToDate reports whether the recorded tag already satisfies the resolved
// one. Tags that parse as versions are compared semantically, so a recorded
// newer build does not get downgraded; everything else falls back to string
// equality.
func upToDate(recorded, resolved string) bool {
	if recorded == "" {
		return false
	}

	recordedVersion, recordedErr := goversion.NewVersion(recorded)
	resolvedVersion, resolvedErr := goversion.NewVersion(resolved)

	if recordedErr == nil && resolvedErr == nil {
		return recordedVersion.GreaterThanOrEqual(resolvedVersion)
	}

	return recorded == resolved
}

// classifyKind maps a pipeline error onto the domain error taxonomy.
func classifyKind(err error) release.ErrorKind {
	var (
		assetSelectionErr *forge.AssetSelectionError
		rateLimitedErr    *forge.RateLimitedError
		unavailableErr    *forge.ForgeUnavailableError
		integrityErr      *fetcher.IntegrityError
		traversalErr      *extractor.PathTraversalError
		extractionErr     *extractor.ExtractionError
		conflictErr       *merger.TypeConflictError
		mergeErr          *merger.MergeIOError
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return release.KindCanceled
	case errors.Is(err, forge.ErrNoReleases):
		return release.KindNotFound
	case errors.As(err, &assetSelectionErr):
		return release.KindAssetSelection
	case errors.As(err, &rateLimitedErr):
		return release.KindRateLimited
	case errors.As(err, &unavailableErr):
		return release.KindForgeUnavailable
	case errors.As(err, &integrityErr):
		return release.KindIntegrity
	case errors.Is(err, extractor.ErrUnsupportedFormat):
		return release.KindUnsupportedFormat
	case errors.As(err, &traversalErr):
		return release.KindPathTraversal
	case errors.As(err, &extractionErr):
		return release.KindExtraction
	case errors.As(err, &conflictErr), errors.As(err, &mergeErr):
		return release.KindMergeIO
	default:
		return release.KindUnknown
	}
}
