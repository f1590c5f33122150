package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"audio-extract-service/infrastructure/config"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// Prompter interface for interactive prompts (allows mocking in tests)
type Prompter interface {
	Input(message string, defaultValue string) (string, error)
	Confirm(message string, defaultValue bool) (bool, error)
}

// SurveyPrompter implements Prompter using the survey library
type SurveyPrompter struct{}

func (p *SurveyPrompter) Input(message string, defaultValue string) (string, error) {
	result := ""
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (p *SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return false, err
	}
	return result, nil
}

// DefaultPrompter is the prompter used in production
var DefaultPrompter Prompter = &SurveyPrompter{}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create configuration file interactively",
	Long: `Prompts for configuration values and creates config.yaml.

This command guides you through the listen address, data directory,
ffmpeg location and retention settings. Press enter to keep a default.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	return RunSetupWithPrompter(DefaultPrompter, cfgFile, DefaultOutput)
}

// RunSetupWithPrompter runs the setup with a given prompter (for testing)
func RunSetupWithPrompter(prompter Prompter, configPath string, out OutputWriter) error {
	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		overwrite, err := prompter.Confirm("config.yaml already exists. Overwrite?", false)
		if err != nil {
			return fmt.Errorf("prompt cancelled")
		}
		if !overwrite {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	fmt.Fprintln(out, "Welcome to audio-extract-service setup!")
	fmt.Fprintln(out)

	cfg := config.Defaults()

	if err := promptServer(prompter, cfg); err != nil {
		return err
	}
	if err := promptPaths(prompter, cfg); err != nil {
		return err
	}
	if err := promptTranscode(prompter, cfg); err != nil {
		return err
	}
	if err := promptRetention(prompter, cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration saved to %s\n", configPath)
	return nil
}

func promptServer(prompter Prompter, cfg *config.Config) error {
	addr, err := prompter.Input("Address to listen on?", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	origins, err := prompter.Input("Allowed CORS origins (comma-separated)?", strings.Join(cfg.Server.AllowedOrigins, ","))
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if origins != "" {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	return nil
}

func promptPaths(prompter Prompter, cfg *config.Config) error {
	dir, err := prompter.Input("Where should uploads and converted files be kept?", cfg.Paths.DataDirectory)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if dir == "" {
		return fmt.Errorf("data directory is required")
	}
	cfg.Paths.DataDirectory = dir
	return nil
}

func promptTranscode(prompter Prompter, cfg *config.Config) error {
	ffmpegPath, err := prompter.Input("Path to the ffmpeg binary?", cfg.Transcode.FFmpegPath)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if ffmpegPath != "" {
		cfg.Transcode.FFmpegPath = ffmpegPath
	}

	return promptDuration(prompter, "Maximum time for one conversion?", &cfg.Transcode.Timeout)
}

func promptRetention(prompter Prompter, cfg *config.Config) error {
	if err := promptDuration(prompter, "Delete undownloaded MP3 files after?", &cfg.Egress.ExpireAfter); err != nil {
		return err
	}
	return promptDuration(prompter, "Delete unconverted uploads after?", &cfg.Staging.MaxAge)
}

func promptDuration(prompter Prompter, message string, target *time.Duration) error {
	raw, err := prompter.Input(message, target.String())
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*target = d
	return nil
}
