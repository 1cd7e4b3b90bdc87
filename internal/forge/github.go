package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/google/go-github/v75/github"

	"github.com/oshokin/composite-installer/internal/domain/release"
	"github.com/oshokin/composite-installer/internal/logger"
	"github.com/oshokin/composite-installer/internal/retry"
)

// Resolver resolves a repository spec to the release asset to install.
type Resolver interface {
	Resolve(ctx context.Context, spec release.RepositorySpec) (*release.Descriptor, error)
}

// GitHubResolver queries the GitHub releases API for the latest published
// release of a repository.
type GitHubResolver struct {
	// client is the configured go-github client.
	client *github.Client
	// policy drives retries of transient API failures.
	policy retry.Policy
}

// NewGitHubResolver wraps the provided go-github client. The caller owns the
// client configuration (authentication transport, base URL, timeouts).
func NewGitHubResolver(client *github.Client, policy retry.Policy) *GitHubResolver {
	return &GitHubResolver{
		client: client,
		policy: policy,
	}
}

// NewGitHubClient builds a go-github client with the request timeout and an
// optional authentication token.
func NewGitHubClient(timeout time.Duration, token string) *github.Client {
	client := github.NewClient(&http.Client{Timeout: timeout})
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return client
}

// Resolve queries the latest published release and selects the single asset
// matching the spec. Transient forge failures are retried per the policy.
func (r *GitHubResolver) Resolve(ctx context.Context, spec release.RepositorySpec) (*release.Descriptor, error) {
	var resolved *release.Release

	err := r.policy.Do(ctx, func(ctx context.Context) error {
		rel, err := r.latestRelease(ctx, spec)
		if err != nil {
			return err
		}

		resolved = rel

		return nil
	})
	if err != nil {
		return nil, err
	}

	asset, err := selectAsset(spec, resolved.Assets)
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Resolved latest release",
		"repository", spec.Slug(), "tag", resolved.TagName, "asset", asset.Name)

	return &release.Descriptor{
		Spec:  spec,
		Tag:   resolved.TagName,
		Asset: asset,
	}, nil
}

// latestRelease fetches and converts the latest-release response, mapping
// API failures into the typed forge errors.
func (r *GitHubResolver) latestRelease(ctx context.Context, spec release.RepositorySpec) (*release.Release, error) {
	rel, _, err := r.client.Repositories.GetLatestRelease(ctx, spec.Owner, spec.Name)
	if err != nil {
		return nil, classifyAPIError(spec, err)
	}

	// The latest-release endpoint excludes drafts and pre-releases, but the
	// flags are still checked: a release that slipped through must not be
	// installed silently.
	if rel.GetDraft() {
		return nil, fmt.Errorf("%s: latest release is a draft: %w", spec.Slug(), ErrNoReleases)
	}

	if rel.GetPrerelease() && !spec.IncludePrereleases {
		return nil, fmt.Errorf("%s: latest release is a pre-release: %w", spec.Slug(), ErrNoReleases)
	}

	assets := make([]release.Asset, 0, len(rel.Assets))
	for _, asset := range rel.Assets {
		assets = append(assets, release.Asset{
			ID:          asset.GetID(),
			Name:        asset.GetName(),
			DownloadURL: asset.GetBrowserDownloadURL(),
			Size:        int64(asset.GetSize()),
			Digest:      asset.GetDigest(),
		})
	}

	return &release.Release{
		TagName:    rel.GetTagName(),
		Prerelease: rel.GetPrerelease(),
		Draft:      rel.GetDraft(),
		Assets:     assets,
	}, nil
}

// classifyAPIError maps go-github errors to the forge error taxonomy.
func classifyAPIError(spec release.RepositorySpec, err error) error {
	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &RateLimitedError{
			Repository: spec.Slug(),
			RetryAfter: time.Until(rateLimitErr.Rate.Reset.Time),
			Err:        err,
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var retryAfter time.Duration
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}

		return &RateLimitedError{
			Repository: spec.Slug(),
			RetryAfter: retryAfter,
			Err:        err,
		}
	}

	var responseErr *github.ErrorResponse
	if errors.As(err, &responseErr) && responseErr.Response != nil {
		status := responseErr.Response.StatusCode
		if status == http.StatusNotFound {
			return fmt.Errorf("%s: %w", spec.Slug(), ErrNoReleases)
		}

		return &ForgeUnavailableError{
			Repository: spec.Slug(),
			StatusCode: status,
			Err:        err,
		}
	}

	// Network-level failure (connection reset, timeout): transient.
	return &ForgeUnavailableError{
		Repository: spec.Slug(),
		Err:        err,
	}
}

// selectAsset picks the single asset the spec identifies.
// Zero or multiple candidates fail loudly: an arbitrary pick would silently
// ship the wrong artifact.
func selectAsset(spec release.RepositorySpec, assets []release.Asset) (release.Asset, error) {
	var matches []release.Asset

	for _, asset := range assets {
		if spec.AssetPattern == "" {
			matches = append(matches, asset)
			continue
		}

		// Pattern validity is checked at configuration time.
		if ok, _ := path.Match(spec.AssetPattern, asset.Name); ok {
			matches = append(matches, asset)
		}
	}

	if len(matches) != 1 {
		names := make([]string, 0, len(matches))
		for _, asset := range matches {
			names = append(names, asset.Name)
		}

		return release.Asset{}, &AssetSelectionError{
			Repository: spec.Slug(),
			Pattern:    spec.AssetPattern,
			Matches:    names,
		}
	}

	return matches[0], nil
}
