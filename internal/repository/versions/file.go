package versions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/composite-installer/internal/config"
)

// Record holds the last successfully installed version per repository slug.
type Record struct {
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `yaml:"updated_at"`
	// Installed maps "owner/name" slugs to the installed release tag.
	Installed map[string]string `yaml:"installed"`
}

// Version returns the installed tag for a slug, or "" when unknown.
func (r *Record) Version(slug string) string {
	if r == nil || r.Installed == nil {
		return ""
	}

	return r.Installed[slug]
}

// Set records the installed tag for a slug.
func (r *Record) Set(slug, tag string) {
	if r.Installed == nil {
		r.Installed = make(map[string]string)
	}

	r.Installed[slug] = tag
}

// Repository defines persistence operations for the install record.
type Repository interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record *Record) error
}

// FileRepository persists the install record to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the record file.
	path string
	// mu protects concurrent access to the record file.
	mu sync.Mutex
}

// ErrNotFound is returned when no record has been written yet.
var ErrNotFound = errors.New("install record not found")

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the record from disk.
func (r *FileRepository) Load(_ context.Context) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read install record: %w", err)
	}

	var record Record
	if err = yaml.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("decode install record: %w", err)
	}

	return &record, nil
}

// Save writes the record to disk.
func (r *FileRepository) Save(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.UpdatedAt = time.Now().UTC()

	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode install record: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write install record: %w", err)
	}

	return nil
}
