package cmd

import (
	"fmt"
	"io"
	"os"

	"audio-extract-service/infrastructure/config"
	"audio-extract-service/infrastructure/logging"

	"github.com/spf13/cobra"
)

// OutputWriter allows capturing output in tests
type OutputWriter interface {
	io.Writer
}

// DefaultOutput is the default output writer for commands
var DefaultOutput OutputWriter = os.Stdout

var (
	cfgFile   string
	logLevel  string
	logFormat string
	cfg       *config.Config
	cfgErr    error
)

var rootCmd = &cobra.Command{
	Use:   "audio-extract-service",
	Short: "Convert uploaded videos to MP3 audio",
	Long: `audio-extract-service accepts video uploads over HTTP, converts them to
MP3 with ffmpeg and serves the result for a single download:

  - POST /api/upload stages a video
  - POST /api/convert runs ffmpeg on a staged video
  - GET /api/download/{filename} delivers the MP3, then deletes it

Example:
  audio-extract-service serve --config config/config.yaml`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config and LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or console")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "config/config.yaml"
	}

	cfg, cfgErr = config.LoadOrDefault(cfgFile)
	if cfgErr != nil {
		cfg = nil
		return
	}
	cfg.ApplyEnv(os.Getenv)
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logging.Configure(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

// GetConfig returns the loaded and validated configuration
func GetConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("load %s: %w", cfgFile, cfgErr)
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
