package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/composite-installer/internal/config"
	"github.com/oshokin/composite-installer/internal/logger"
	"github.com/oshokin/composite-installer/internal/service/installer"
	"github.com/oshokin/composite-installer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// outputDir overrides the configured output directory.
	outputDir string

	// concurrency overrides the configured staging worker limit.
	concurrency int

	// force reinstalls components even when they are already current.
	force bool

	// logLevel sets the logging verbosity.
	logLevel string

	// rootCmd represents the base command that assembles the composite
	// install directory from the configured releases.
	rootCmd = &cobra.Command{
		Use:   "composite-installer",
		Short: "Download the latest releases and merge them into one install directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// The errors are already logged with per-repository detail.
			cmd.SilenceUsage = true

			options := &installer.Options{
				ConfigPath:  configPath,
				OutputDir:   outputDir,
				Concurrency: concurrency,
				Force:       force,
			}

			_, err := installer.Run(ctx, options)

			return err
		},
	}
)

// Execute runs the composite-installer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (defaults to the configured one)")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "staging worker limit (defaults to the configured one)")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false, "reinstall components even when already current")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error)")
}
