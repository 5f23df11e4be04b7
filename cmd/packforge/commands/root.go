// Package commands implements the packforge CLI.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/packforge/packforge/config"
	"github.com/packforge/packforge/fs"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "packforge",
	Short: "Release publisher for build artifacts",
	Long: `packforge publishes build artifacts to package registries.

It locates the latest completed build run, fetches and merges its dist
artifacts, generates a signed provenance attestation, waits for approval,
and uploads the set to the configured registry.

Examples:
  packforge publish --action publish-testpypi --ref refs/heads/main
  packforge publish --action publish-pypi --ref refs/tags/v1.2.0
  packforge release prepare --apply`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the configuration file (default: XDG config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(releaseCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration from --config or the default path.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(fs.NewOSFS("/"), path)
}
