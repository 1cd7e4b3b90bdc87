package merger

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/composite-installer/internal/extractor"
)

// DirPermissions is applied to directories created in the output tree.
const DirPermissions os.FileMode = 0o755

// TypeConflictError is returned when a staged entry and the existing output
// entry at the same path disagree on being a file or a directory.
type TypeConflictError struct {
	// Path is the conflicting path, relative to the merge destination.
	Path string
	// ExistingIsDir reports what is already present in the output tree.
	ExistingIsDir bool
}

func (e *TypeConflictError) Error() string {
	if e.ExistingIsDir {
		return fmt.Sprintf("merge %s: destination is a directory, staged entry is a file", e.Path)
	}

	return fmt.Sprintf("merge %s: destination is a file, staged entry is a directory", e.Path)
}

// MergeIOError wraps a filesystem failure during the merge of one entry.
type MergeIOError struct {
	// Path is the entry being merged, relative to the destination.
	Path string
	// Err is the underlying filesystem error.
	Err error
}

func (e *MergeIOError) Error() string {
	return fmt.Sprintf("merge %s: %v", e.Path, e.Err)
}

func (e *MergeIOError) Unwrap() error {
	return e.Err
}

// Report describes what one merge did to the output tree.
type Report struct {
	// Copied is the number of regular files written.
	Copied int
	// Overwritten lists relative paths that replaced an existing file,
	// in walk order.
	Overwritten []string
}

// Merger applies staged trees into a destination directory. All merges
// through the same Merger are serialized, which keeps the overwrite order
// equal to the call order.
type Merger struct {
	mu sync.Mutex
}

// New returns a Merger ready for use.
func New() *Merger {
	return &Merger{}
}

// Merge copies the staged tree into dest, creating intermediate directories
// as needed. Existing files are replaced and recorded in the report. The
// staged tree is deleted when Merge returns, whether it succeeded or not.
// On failure the partial report is returned together with the error so the
// caller still knows which files were already replaced.
func (m *Merger) Merge(
	ctx context.Context,
	staged *extractor.StagedTree,
	dest string,
	flatten bool,
) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		_ = staged.Remove()
	}()

	source, err := staged.ContentRoot(flatten)
	if err != nil {
		return &Report{}, &MergeIOError{Path: ".", Err: err}
	}

	if err = os.MkdirAll(dest, DirPermissions); err != nil {
		return &Report{}, &MergeIOError{Path: ".", Err: err}
	}

	report := &Report{}

	err = filepath.WalkDir(source, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &MergeIOError{Path: path, Err: walkErr}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		relative, err := filepath.Rel(source, path)
		if err != nil {
			return &MergeIOError{Path: path, Err: err}
		}

		if relative == "." {
			return nil
		}

		if entry.IsDir() {
			return m.mergeDirectory(dest, relative)
		}

		return m.mergeFile(dest, path, relative, report)
	})

	return report, err
}

// mergeDirectory ensures the destination directory exists, refusing to
// replace an existing regular file with a directory.
func (m *Merger) mergeDirectory(dest, relative string) error {
	target := filepath.Join(dest, relative)

	info, err := os.Stat(target)

	switch {
	case err == nil && !info.IsDir():
		return &TypeConflictError{Path: filepath.ToSlash(relative), ExistingIsDir: false}
	case err == nil:
		return nil
	case !os.IsNotExist(err):
		return &MergeIOError{Path: filepath.ToSlash(relative), Err: err}
	}

	if err = os.MkdirAll(target, DirPermissions); err != nil {
		return &MergeIOError{Path: filepath.ToSlash(relative), Err: err}
	}

	return nil
}

// mergeFile applies one staged file to the destination through go-update's
// temp-write-then-rename step.
func (m *Merger) mergeFile(dest, source, relative string, report *Report) error {
	slashRelative := filepath.ToSlash(relative)
	target := filepath.Join(dest, relative)

	overwriting := false

	info, err := os.Stat(target)

	switch {
	case err == nil && info.IsDir():
		return &TypeConflictError{Path: slashRelative, ExistingIsDir: true}
	case err == nil:
		overwriting = true
	case !os.IsNotExist(err):
		return &MergeIOError{Path: slashRelative, Err: err}
	}

	sourceInfo, err := os.Stat(source)
	if err != nil {
		return &MergeIOError{Path: slashRelative, Err: err}
	}

	reader, err := os.Open(source)
	if err != nil {
		return &MergeIOError{Path: slashRelative, Err: err}
	}
	defer reader.Close()

	// go-update renames the current file aside before the swap, so the
	// target has to exist even on first install.
	if !overwriting {
		placeholder, createErr := os.Create(target)
		if createErr != nil {
			return &MergeIOError{Path: slashRelative, Err: createErr}
		}

		if createErr = placeholder.Close(); createErr != nil {
			return &MergeIOError{Path: slashRelative, Err: createErr}
		}
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: sourceInfo.Mode().Perm(),
	}

	if err = goupdate.Apply(reader, options); err != nil {
		return &MergeIOError{Path: slashRelative, Err: err}
	}

	oldTarget := target + ".old"
	if _, err = os.Stat(oldTarget); err == nil {
		_ = os.Remove(oldTarget)
	}

	report.Copied++
	if overwriting {
		report.Overwritten = append(report.Overwritten, slashRelative)
	}

	return nil
}
