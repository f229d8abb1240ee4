package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eleven/artcache/internal/config"
	"github.com/eleven/artcache/pkg/utils"
)

var (
	cfgFile     string
	logLevel    string
	libraryRoot string
	offline     bool

	cfg       *config.Configuration
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "artcache",
	Short: "Artwork cache for a local music library",
	Long: `artcache keeps album, artist and playlist artwork for a music library in a
memory and disk cache, looking it up in embedded tags and remote providers.

Examples:
  artcache warm --library ~/Music
  artcache playlists --refresh
  artcache stats --json
  artcache clear --playlists`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&libraryRoot, "library", "", "music library root to scan")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never contact remote artwork providers")

	rootCmd.AddCommand(warmCmd, playlistsCmd, statsCmd, clearCmd)
}

// setup loads the configuration (defaults, then file, then environment, then
// flags) and installs the process logger
func setup(cmd *cobra.Command, args []string) error {
	cfg = config.NewDefault()
	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if libraryRoot != "" {
		cfg.Library.Root = libraryRoot
	}
	if offline {
		cfg.Fetcher.OfflineMode = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var err error
	logger, logCloser, err = utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	return err
}
