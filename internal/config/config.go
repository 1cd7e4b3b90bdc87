package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/composite-installer/internal/domain/release"
)

// Config holds the installer settings shared by all pipeline components.
type Config struct {
	// Repositories lists the tracked upstream projects in merge order.
	// Later entries win path collisions in the output tree.
	Repositories []release.RepositorySpec `yaml:"repositories"`
	// OutputDir is the directory the composite install is merged into.
	OutputDir string `yaml:"output_dir"`
	// TempDir optionally overrides the staging area for downloads and
	// extraction. Defaults to the system temporary directory.
	TempDir string `yaml:"temp_dir,omitempty"`
	// VersionsFile is the path to the last-installed-versions record.
	VersionsFile string `yaml:"versions_file,omitempty"`
	// CleanupPatterns are glob patterns matched against file names removed
	// from the output tree after all merges (debug symbols and the like).
	CleanupPatterns []string `yaml:"cleanup_patterns,omitempty"`
	// Token authenticates forge API calls when set. The GITHUB_TOKEN
	// environment variable is used as a fallback.
	Token string `yaml:"token,omitempty"`
	// Timeout bounds each forge metadata request.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Concurrency bounds how many repositories are staged in parallel.
	Concurrency int `yaml:"concurrency,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for installer settings.
	DefaultConfigFilename = "composite-installer-settings.yaml"

	// DefaultVersionsFilename is the default filename for the installed-versions record.
	DefaultVersionsFilename = "composite-installer-versions.yaml"

	// DefaultOutputDir is the default composite install directory.
	DefaultOutputDir = "composite"

	// DefaultTimeout is the default duration for forge metadata requests.
	DefaultTimeout = 30 * time.Second

	// DefaultConcurrency is the default staging worker limit. Kept small to
	// respect forge rate limits.
	DefaultConcurrency = 2

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// tokenEnvVariable is consulted when no token is configured.
	tokenEnvVariable = "GITHUB_TOKEN"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNoRepositories is returned when the repository list is empty.
	errNoRepositories = errors.New("at least one repository must be configured")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and applies defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if len(cfg.Repositories) == 0 {
		return errNoRepositories
	}

	for _, spec := range cfg.Repositories {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("repository %s: %w", spec.Slug(), err)
		}
	}

	for _, pattern := range cfg.CleanupPatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("cleanup pattern %q: %w", pattern, err)
		}
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	if cfg.VersionsFile == "" {
		cfg.VersionsFile = DefaultVersionsFilename
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv(tokenEnvVariable)
	}

	return nil
}
