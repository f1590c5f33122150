package cmd

import (
	"context"
	"fmt"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/config"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale uploads and expired artifacts",
	Long: `Runs one cleanup pass over the data directory while the service is stopped:
uploads older than staging.max_age, interrupted writes and artifacts older
than egress.expire_after are removed.

Example:
  audio-extract-service sweep`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	return RunSweepWithDependencies(cmd.Context(), cfg, DefaultOutput)
}

// noTranscoder is wired when no conversion will be started
type noTranscoder struct{}

func (noTranscoder) Transcode(context.Context, media.TranscodeRequest, media.TranscodeObserver) error {
	return media.NewError(media.KindConversionFailed, "transcode", "transcoding is disabled", nil)
}

// RunSweepWithDependencies runs the sweep with injected dependencies
func RunSweepWithDependencies(ctx context.Context, cfg *config.Config, output OutputWriter) error {
	a, err := openApp(ctx, cfg, noTranscoder{})
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.janitor.Sweep(ctx)
	fmt.Fprintf(output, "Removed %d stale uploads, %d interrupted writes, %d expired artifacts\n",
		res.StaleUploads, res.AbandonedWrites, res.ExpiredArtifacts)
	for _, err := range res.Errors {
		fmt.Fprintf(output, "  error: %v\n", err)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("sweep finished with %d errors", len(res.Errors))
	}
	return nil
}
