package release

import (
	"errors"
	"fmt"
	"path"
)

// errNoOwner is returned when a repository spec is missing the owner part.
var errNoOwner = errors.New("repository owner must be provided")

// errNoName is returned when a repository spec is missing the repository name.
var errNoName = errors.New("repository name must be provided")

// RepositorySpec identifies one upstream project tracked by the installer.
// Specs are supplied at configuration time and never mutated by the pipeline.
type RepositorySpec struct {
	// Owner is the forge account or organization owning the repository.
	Owner string `yaml:"owner"`
	// Name is the repository name within the owner's namespace.
	Name string `yaml:"name"`
	// AssetPattern is an optional glob matched against asset names to pick
	// the platform-appropriate artifact. When empty, the release must carry
	// exactly one asset.
	AssetPattern string `yaml:"asset_pattern,omitempty"`
	// Subdirectory is an optional path below the output root that this
	// component's files are merged into.
	Subdirectory string `yaml:"subdirectory,omitempty"`
	// KeepRoot disables flattening of a single wrapping top-level directory
	// inside the extracted archive. Release zips usually wrap their payload
	// in one directory, so flattening is the default.
	KeepRoot bool `yaml:"keep_root,omitempty"`
	// IncludePrereleases makes pre-release versions eligible for resolution.
	IncludePrereleases bool `yaml:"include_prereleases,omitempty"`
}

// Slug returns the canonical "owner/name" identifier of the repository.
func (s RepositorySpec) Slug() string {
	return s.Owner + "/" + s.Name
}

// Validate checks required fields and the asset pattern syntax.
func (s RepositorySpec) Validate() error {
	if s.Owner == "" {
		return errNoOwner
	}

	if s.Name == "" {
		return errNoName
	}

	if s.AssetPattern != "" {
		if _, err := path.Match(s.AssetPattern, ""); err != nil {
			return fmt.Errorf("asset pattern %q: %w", s.AssetPattern, err)
		}
	}

	return nil
}

// Asset is a single downloadable file attached to a release.
type Asset struct {
	// ID is the forge-assigned asset identifier.
	ID int64
	// Name is the asset filename as published.
	Name string
	// DownloadURL is the direct download location of the asset bytes.
	DownloadURL string
	// Size is the declared asset size in bytes, or 0 when unknown.
	Size int64
	// Digest is the content digest in "<algorithm>:<hex>" form when the
	// forge provides one, empty otherwise.
	Digest string
}

// Release is a tagged, published version of a repository on the forge.
type Release struct {
	// TagName is the release tag, typically a semantic version.
	TagName string
	// Prerelease marks the release as a pre-release.
	Prerelease bool
	// Draft marks the release as an unpublished draft.
	Draft bool
	// Assets are the downloadable files attached to the release.
	Assets []Asset
}

// Descriptor is the result of resolving one RepositorySpec: the release tag
// and the single asset selected for download.
type Descriptor struct {
	// Spec is the repository the descriptor was resolved for.
	Spec RepositorySpec
	// Tag is the resolved release tag.
	Tag string
	// Asset is the asset selected according to the spec's pattern.
	Asset Asset
}
