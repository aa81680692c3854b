package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markerrelay/relay/internal/config"
)

var (
	configDir string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Relay fiducial marker layouts from a detector to a remote map service",
	Long: `marker_relay turns per-frame marker detections into map coordinates,
tracks which markers are on the map and pushes the layout to a remote
service whenever it changes.

Frames are newline-delimited JSON read from stdin, a file or a UDP socket.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// loadConfig reads the config file, falling back to defaults when it is
// missing. --log-level overrides the file.
func loadConfig() error {
	if err := config.Load(configDir); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		slog.Warn("Config file not found, using defaults", "dir", configDir)
	}
	if logLevel != "" {
		viper.Set("logLevel", logLevel)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing "+config.FileName)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
}
