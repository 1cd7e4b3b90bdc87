package installer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/composite-installer/internal/domain/release"
	"github.com/oshokin/composite-installer/internal/extractor"
	"github.com/oshokin/composite-installer/internal/fetcher"
	"github.com/oshokin/composite-installer/internal/forge"
	"github.com/oshokin/composite-installer/internal/merger"
	"github.com/oshokin/composite-installer/internal/repository/versions"
)

// fakeResolver returns a canned tag or error per repository slug.
type fakeResolver struct {
	tags map[string]string
	errs map[string]error
}

func (r *fakeResolver) Resolve(_ context.Context, spec release.RepositorySpec) (*release.Descriptor, error) {
	slug := spec.Slug()

	if err, ok := r.errs[slug]; ok {
		return nil, err
	}

	return &release.Descriptor{
		Spec: spec,
		Tag:  r.tags[slug],
		Asset: release.Asset{
			Name:        spec.Name + ".zip",
			DownloadURL: "https://downloads.invalid/" + slug,
		},
	}, nil
}

// fakeFetcher hands out empty temp files and counts calls per slug.
type fakeFetcher struct {
	dir string

	mu    sync.Mutex
	calls map[string]int
}

func newFakeFetcher(dir string) *fakeFetcher {
	return &fakeFetcher{dir: dir, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, descriptor *release.Descriptor) (*fetcher.DownloadedAsset, error) {
	f.mu.Lock()
	f.calls[descriptor.Spec.Slug()]++
	f.mu.Unlock()

	file, err := os.CreateTemp(f.dir, "asset-*")
	if err != nil {
		return nil, err
	}

	if err = file.Close(); err != nil {
		return nil, err
	}

	return &fetcher.DownloadedAsset{Path: file.Name(), Descriptor: descriptor}, nil
}

func (f *fakeFetcher) callCount(slug string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[slug]
}

// fakeExtractor materializes a canned file tree per slug, with an optional
// delay to shuffle staging completion order in concurrent tests.
type fakeExtractor struct {
	dir    string
	files  map[string]map[string]string
	delays map[string]time.Duration
}

func (e *fakeExtractor) Extract(ctx context.Context, asset *fetcher.DownloadedAsset) (*extractor.StagedTree, error) {
	slug := asset.Descriptor.Spec.Slug()

	if delay := e.delays[slug]; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	root, err := os.MkdirTemp(e.dir, "stage-*")
	if err != nil {
		return nil, err
	}

	for name, content := range e.files[slug] {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}

		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}

	return extractor.NewStagedTree(root), nil
}

// testPipeline assembles a pipeline over fakes with a real merger and a real
// versions file, returning the pieces the tests poke at.
func testPipeline(t *testing.T, resolver forge.Resolver, files map[string]map[string]string) (*Pipeline, *fakeFetcher, string) {
	t.Helper()

	base := t.TempDir()
	outputDir := filepath.Join(base, "out")
	fetch := newFakeFetcher(base)

	pipeline := &Pipeline{
		Resolver:    resolver,
		Fetcher:     fetch,
		Extractor:   &fakeExtractor{dir: base, files: files},
		Merger:      merger.New(),
		Versions:    versions.NewFileRepository(filepath.Join(base, "versions.yaml")),
		OutputDir:   outputDir,
		Concurrency: 2,
	}

	return pipeline, fetch, outputDir
}

// TestPipeline_PartialFailureIsolation verifies one failing repository does
// not affect the others and the overall outcome reflects the mix.
func TestPipeline_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	specs := []release.RepositorySpec{
		{Owner: "acme", Name: "alpha"},
		{Owner: "acme", Name: "beta"},
		{Owner: "acme", Name: "gamma"},
	}

	resolver := &fakeResolver{
		tags: map[string]string{"acme/alpha": "v1.0.0", "acme/gamma": "v3.0.0"},
		errs: map[string]error{"acme/beta": forge.ErrNoReleases},
	}

	pipeline, _, outputDir := testPipeline(t, resolver, map[string]map[string]string{
		"acme/alpha": {"alpha.txt": "a"},
		"acme/gamma": {"gamma.txt": "g"},
	})

	result, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, release.PartiallyFailed, result.Outcome())

	require.Equal(t, release.StatusSucceeded, result.Repositories[0].Status)
	require.Equal(t, "v1.0.0", result.Repositories[0].Version)

	require.Equal(t, release.StatusFailed, result.Repositories[1].Status)
	require.Equal(t, release.StageResolve, result.Repositories[1].Stage)
	require.Equal(t, release.KindNotFound, result.Repositories[1].Kind)
	require.ErrorIs(t, result.Repositories[1].Err, forge.ErrNoReleases)

	require.Equal(t, release.StatusSucceeded, result.Repositories[2].Status)

	// The successful components are fully merged.
	for _, name := range []string{"alpha.txt", "gamma.txt"} {
		_, statErr := os.Stat(filepath.Join(outputDir, name))
		require.NoError(t, statErr)
	}

	// Only the successful components are recorded.
	record, err := pipeline.Versions.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", record.Version("acme/alpha"))
	require.Empty(t, record.Version("acme/beta"))
	require.Equal(t, "v3.0.0", record.Version("acme/gamma"))
}

// TestPipeline_SkipWhenUpToDate verifies a second run over an unchanged
// release neither downloads nor merges anything.
func TestPipeline_SkipWhenUpToDate(t *testing.T) {
	t.Parallel()

	specs := []release.RepositorySpec{{Owner: "acme", Name: "alpha"}}
	resolver := &fakeResolver{tags: map[string]string{"acme/alpha": "v1.0.0"}}

	pipeline, fetch, _ := testPipeline(t, resolver, map[string]map[string]string{
		"acme/alpha": {"alpha.txt": "a"},
	})

	first, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, release.StatusSucceeded, first.Repositories[0].Status)
	require.Equal(t, 1, fetch.callCount("acme/alpha"))

	second, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, release.StatusSkipped, second.Repositories[0].Status)
	require.Equal(t, "v1.0.0", second.Repositories[0].Version)
	require.Equal(t, release.AllSucceeded, second.Outcome())
	require.Equal(t, 1, fetch.callCount("acme/alpha"))
}

// TestPipeline_ForceReinstalls verifies Force bypasses the up-to-date check.
func TestPipeline_ForceReinstalls(t *testing.T) {
	t.Parallel()

	specs := []release.RepositorySpec{{Owner: "acme", Name: "alpha"}}
	resolver := &fakeResolver{tags: map[string]string{"acme/alpha": "v1.0.0"}}

	pipeline, fetch, _ := testPipeline(t, resolver, map[string]map[string]string{
		"acme/alpha": {"alpha.txt": "a"},
	})

	_, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)

	pipeline.Force = true

	result, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, release.StatusSucceeded, result.Repositories[0].Status)
	require.Equal(t, 2, fetch.callCount("acme/alpha"))
}

// TestPipeline_MergeOrderFollowsConfiguration verifies the last configured
// component wins shared paths even when it finishes staging first.
func TestPipeline_MergeOrderFollowsConfiguration(t *testing.T) {
	t.Parallel()

	specs := []release.RepositorySpec{
		{Owner: "acme", Name: "base"},
		{Owner: "acme", Name: "overlay"},
	}

	resolver := &fakeResolver{
		tags: map[string]string{"acme/base": "v1.0.0", "acme/overlay": "v2.0.0"},
	}

	pipeline, _, outputDir := testPipeline(t, resolver, map[string]map[string]string{
		"acme/base":    {"shared.txt": "base", "base-only.txt": "keep"},
		"acme/overlay": {"shared.txt": "overlay"},
	})

	// Stall the first component so the second finishes staging before it.
	pipeline.Extractor.(*fakeExtractor).delays = map[string]time.Duration{
		"acme/base": 50 * time.Millisecond,
	}

	result, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, release.AllSucceeded, result.Outcome())

	content, err := os.ReadFile(filepath.Join(outputDir, "shared.txt"))
	require.NoError(t, err)
	require.Equal(t, "overlay", string(content))

	require.Empty(t, result.Repositories[0].Overwritten)
	require.Equal(t, []string{"shared.txt"}, result.Repositories[1].Overwritten)
}

// TestPipeline_SubdirectoryMergeTarget verifies a spec's subdirectory scopes
// its merge below the output root.
func TestPipeline_SubdirectoryMergeTarget(t *testing.T) {
	t.Parallel()

	specs := []release.RepositorySpec{
		{Owner: "acme", Name: "bridge", Subdirectory: ".trex"},
	}

	resolver := &fakeResolver{tags: map[string]string{"acme/bridge": "v1.0.0"}}

	pipeline, _, outputDir := testPipeline(t, resolver, map[string]map[string]string{
		"acme/bridge": {"bridge.txt": "b"},
	})

	_, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(outputDir, ".trex", "bridge.txt"))
	require.NoError(t, err)
	require.Equal(t, "b", string(content))
}

// recordingReporter captures published events for assertions.
type recordingReporter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingReporter) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recordingReporter) byPhase(phase Phase) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Event

	for _, event := range r.events {
		if event.Phase == phase {
			matched = append(matched, event)
		}
	}

	return matched
}

// TestPipeline_MergeFailureIsReported verifies a failed merge publishes a
// failure event and still carries the files replaced before the abort.
func TestPipeline_MergeFailureIsReported(t *testing.T) {
	t.Parallel()

	specs := []release.RepositorySpec{{Owner: "acme", Name: "alpha"}}
	resolver := &fakeResolver{tags: map[string]string{"acme/alpha": "v1.0.0"}}

	pipeline, _, outputDir := testPipeline(t, resolver, map[string]map[string]string{
		"acme/alpha": {
			"a.txt":      "new",
			"z-conflict": "now-a-file",
		},
	})

	// An existing directory where the staged tree has a file aborts the
	// merge after a.txt has already been replaced.
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "z-conflict"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "a.txt"), []byte("old"), 0o644))

	reporter := &recordingReporter{}
	pipeline.Reporter = reporter

	result, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)

	repo := result.Repositories[0]
	require.Equal(t, release.StatusFailed, repo.Status)
	require.Equal(t, release.StageMerge, repo.Stage)
	require.Equal(t, release.KindMergeIO, repo.Kind)
	require.Equal(t, []string{"a.txt"}, repo.Overwritten)

	failures := reporter.byPhase(PhaseFailed)
	require.Len(t, failures, 1)
	require.Equal(t, "acme/alpha", failures[0].Slug)
	require.Equal(t, "v1.0.0", failures[0].Version)
	require.Error(t, failures[0].Err)
}

// TestPipeline_CleanupPatterns verifies matching files are removed from the
// output tree after a successful run.
func TestPipeline_CleanupPatterns(t *testing.T) {
	t.Parallel()

	specs := []release.RepositorySpec{{Owner: "acme", Name: "alpha"}}
	resolver := &fakeResolver{tags: map[string]string{"acme/alpha": "v1.0.0"}}

	pipeline, _, outputDir := testPipeline(t, resolver, map[string]map[string]string{
		"acme/alpha": {
			"bin/alpha.txt":        "keep",
			"bin/alpha.pdb":        "debug",
			"CRC.txt":              "checksums",
			"artifacts_readme.txt": "notes",
		},
	})
	pipeline.CleanupPatterns = []string{"*.pdb", "CRC.txt", "artifacts_readme.txt"}

	_, err := pipeline.Run(context.Background(), specs)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outputDir, "bin", "alpha.txt"))
	require.NoError(t, err)

	for _, name := range []string{"bin/alpha.pdb", "CRC.txt", "artifacts_readme.txt"} {
		_, err = os.Stat(filepath.Join(outputDir, filepath.FromSlash(name)))
		require.ErrorIs(t, err, os.ErrNotExist)
	}
}

// TestUpToDate exercises the version comparison fallback rules.
func TestUpToDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		recorded string
		resolved string
		want     bool
	}{
		{name: "no record", recorded: "", resolved: "v1.0.0", want: false},
		{name: "equal versions", recorded: "v1.0.0", resolved: "v1.0.0", want: true},
		{name: "recorded older", recorded: "v1.0.0", resolved: "v1.1.0", want: false},
		{name: "recorded newer", recorded: "v2.0.0", resolved: "v1.9.0", want: true},
		{name: "non-semantic equal", recorded: "release-2024", resolved: "release-2024", want: true},
		{name: "non-semantic different", recorded: "release-2024", resolved: "release-2025", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, upToDate(tc.recorded, tc.resolved))
		})
	}
}
