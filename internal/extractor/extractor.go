package extractor

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/composite-installer/internal/fetcher"
	"github.com/oshokin/composite-installer/internal/logger"
)

const (
	// stageDirPattern names the per-asset staging directories.
	stageDirPattern = "composite-installer-stage-*"

	// stageDirPermissions keeps staged trees private to the current user.
	stageDirPermissions = 0o700

	// dirPermissions is used for intermediate directories inside the stage.
	dirPermissions = 0o755
)

// ErrUnsupportedFormat is returned for archives the extractor cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// PathTraversalError reports an archive entry that would escape the staging
// root. The whole archive is rejected: a partially-trusted archive is not
// trustworthy.
type PathTraversalError struct {
	// Entry is the offending archive entry name.
	Entry string
}

// Error implements the error interface.
func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("archive entry escapes staging root: %s", e.Entry)
}

// ExtractionError reports an entry-level failure during extraction.
type ExtractionError struct {
	// Entry is the archive entry being extracted when the failure occurred.
	Entry string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Entry, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// StagedTree is the filesystem subtree produced by extracting one asset.
// It lives in a private temporary directory until the merger consumes it.
type StagedTree struct {
	// root is the staging directory holding the extracted files.
	root string
}

// NewStagedTree wraps an existing directory as a staged tree.
func NewStagedTree(root string) *StagedTree {
	return &StagedTree{root: root}
}

// Root returns the staging directory path.
func (t *StagedTree) Root() string {
	return t.root
}

// ContentRoot returns the directory the merger should copy from.
// With flatten enabled and the tree consisting of exactly one top-level
// directory, that directory is the content root: release archives usually
// wrap their payload in a single versioned folder.
func (t *StagedTree) ContentRoot(flatten bool) (string, error) {
	if !flatten {
		return t.root, nil
	}

	entries, err := os.ReadDir(t.root)
	if err != nil {
		return "", fmt.Errorf("read staging root: %w", err)
	}

	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(t.root, entries[0].Name()), nil
	}

	return t.root, nil
}

// Remove deletes the staging directory and everything under it.
func (t *StagedTree) Remove() error {
	if t == nil || t.root == "" {
		return nil
	}

	return os.RemoveAll(t.root)
}

// Extractor unpacks downloaded assets into staging directories.
type Extractor struct {
	// tempDir is where staging directories are created ("" for the system default).
	tempDir string
}

// New creates an Extractor staging under the provided temporary directory.
func New(tempDir string) *Extractor {
	return &Extractor{tempDir: tempDir}
}

// Extract unpacks the downloaded asset into a fresh staging directory.
// Either every entry is extracted or the staging directory is removed and an
// error returned; the merger never sees a partial tree.
func (e *Extractor) Extract(ctx context.Context, asset *fetcher.DownloadedAsset) (*StagedTree, error) {
	assetName := asset.Descriptor.Asset.Name
	if !strings.EqualFold(filepath.Ext(assetName), ".zip") {
		return nil, fmt.Errorf("%s: %w", assetName, ErrUnsupportedFormat)
	}

	reader, err := zip.OpenReader(asset.Path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%s: %w", assetName, ErrUnsupportedFormat)
		}

		return nil, fmt.Errorf("open archive %s: %w", assetName, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	// Validate every entry before writing anything: traversal rejects the
	// whole archive, not just the offending entry.
	for _, file := range reader.File {
		if !entryIsLocal(file.Name) {
			return nil, &PathTraversalError{Entry: file.Name}
		}
	}

	stageRoot, err := os.MkdirTemp(e.tempDir, stageDirPattern)
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	if err = os.Chmod(stageRoot, stageDirPermissions); err != nil {
		_ = os.RemoveAll(stageRoot)

		return nil, fmt.Errorf("restrict staging directory: %w", err)
	}

	for _, file := range reader.File {
		if err = ctx.Err(); err != nil {
			_ = os.RemoveAll(stageRoot)

			return nil, err
		}

		if err = extractEntry(file, stageRoot); err != nil {
			_ = os.RemoveAll(stageRoot)

			return nil, &ExtractionError{Entry: file.Name, Err: err}
		}
	}

	logger.DebugKV(ctx, "Extracted asset",
		"asset", assetName, "entries", len(reader.File), "stage", stageRoot)

	return NewStagedTree(stageRoot), nil
}

// entryIsLocal reports whether the archive entry stays inside the staging
// root: relative, without ".." segments, and not absolute.
func entryIsLocal(name string) bool {
	if name == "" {
		return false
	}

	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}

	return filepath.IsLocal(filepath.FromSlash(name))
}

// extractEntry writes a single archive entry below the staging root.
func extractEntry(file *zip.File, stageRoot string) error {
	destPath := filepath.Join(stageRoot, filepath.FromSlash(file.Name))

	// Second line of defense behind entryIsLocal.
	if !strings.HasPrefix(destPath, filepath.Clean(stageRoot)+string(os.PathSeparator)) {
		return &PathTraversalError{Entry: file.Name}
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(destPath, file.FileInfo().Mode().Perm()|stageDirPermissions)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), dirPermissions); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}

	source, err := file.Open()
	if err != nil {
		return fmt.Errorf("open archive entry: %w", err)
	}

	defer func() {
		_ = source.Close()
	}()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.FileInfo().Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}

	_, err = io.Copy(dest, source)
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("copy entry contents: %w", err)
	}

	return nil
}
