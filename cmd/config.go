package cmd

import (
	"fmt"
	"text/tabwriter"

	"audio-extract-service/infrastructure/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change configuration settings",
	Long: `Show, read and update settings in the configuration file.

Examples:
  audio-extract-service config show
  audio-extract-service config get transcode.timeout
  audio-extract-service config set egress.expire_after 30m`,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- SHOW command ---

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print every setting after defaults and environment overrides
(PORT, LOG_LEVEL, AUDIO_DATA_DIR) have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	return RunConfigShowWithDependencies(cfg, cfgFile, DefaultOutput)
}

// RunConfigShowWithDependencies runs the show command with injected dependencies
func RunConfigShowWithDependencies(cfg *config.Config, configPath string, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(out, "# %s\n", configPath)
	fmt.Fprintln(w, "KEY\tVALUE")
	for _, s := range mgr.List() {
		fmt.Fprintf(w, "%s\t%s\n", s.Key, s.Value)
	}
	return w.Flush()
}

// --- GET command ---

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	return RunConfigGetWithDependencies(cfg, cfgFile, args[0], DefaultOutput)
}

// RunConfigGetWithDependencies runs the get command with injected dependencies
func RunConfigGetWithDependencies(cfg *config.Config, configPath, key string, out OutputWriter) error {
	value, err := config.NewConfigManager(cfg, configPath).Get(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, value)
	return nil
}

// --- SET command ---

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting and save the file",
	Long: `Change one setting, validate the result and write the configuration file.

Durations use Go syntax (90s, 15m, 1h). Lists are comma-separated.

Examples:
  audio-extract-service config set server.addr :8080
  audio-extract-service config set server.allowed_origins "https://a.example,https://b.example"`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	// Settings are written back to the file, so load it without environment overrides
	fileCfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}
	return RunConfigSetWithDependencies(fileCfg, cfgFile, args[0], args[1], DefaultOutput)
}

// RunConfigSetWithDependencies runs the set command with injected dependencies
func RunConfigSetWithDependencies(cfg *config.Config, configPath, key, value string, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)
	if err := mgr.Set(key, value); err != nil {
		return err
	}
	updated, _ := mgr.Get(key)
	fmt.Fprintf(out, "Set %s = %s in %s\n", key, updated, configPath)
	return nil
}
