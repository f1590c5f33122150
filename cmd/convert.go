package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/config"
	"audio-extract-service/infrastructure/ffmpeg"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

var (
	convertSourcePath string
	convertOutputDir  string
	convertName       string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a local video file to MP3",
	Long: `Runs a local video through the same stage, convert and deliver pipeline
the HTTP service uses and writes the MP3 to --output.

The staged copy and the intermediate artifact are removed afterwards.

Example:
  audio-extract-service convert --source "/recordings/2025-12-28.mp4"
  audio-extract-service convert --source clip.mov --output ./audio --name "Sunday Service"`,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVar(&convertSourcePath, "source", "", "Path to source video file (required)")
	convertCmd.Flags().StringVar(&convertOutputDir, "output", ".", "Directory to write the MP3 to")
	convertCmd.Flags().StringVar(&convertName, "name", "", "Download name for the MP3 (defaults to the source name)")
	convertCmd.MarkFlagRequired("source")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	transcoder := ffmpeg.NewTranscoder(ffmpeg.WithFFmpegPath(cfg.Transcode.FFmpegPath))
	verifyCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := transcoder.VerifyInstalled(verifyCtx); err != nil {
		return fmt.Errorf("ffmpeg verification failed: %w", err)
	}

	return RunConvertWithDependencies(cmd.Context(), cfg, transcoder, convertSourcePath, convertOutputDir, convertName, DefaultOutput)
}

// RunConvertWithDependencies converts sourcePath and writes the result into outputDir
func RunConvertWithDependencies(
	ctx context.Context,
	cfg *config.Config,
	transcoder media.Transcoder,
	sourcePath string,
	outputDir string,
	name string,
	output OutputWriter,
) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	a, err := openApp(ctx, cfg, transcoder)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.ingress.Stage(ctx, src, filepath.Base(sourcePath), info.Size())
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Staged %s (%s) as %s\n", filepath.Base(sourcePath), humanize.IBytes(uint64(rec.Size)), rec.ID)

	hint := name
	if hint == "" {
		hint = filepath.Base(sourcePath)
	}
	fmt.Fprintf(output, "Converting to %s at %s...\n", media.TargetFormat, media.TargetBitrate)
	art, err := a.orchestrator.Convert(ctx, rec.ID, hint)
	if err != nil {
		return err
	}

	d, err := a.egress.Fetch(ctx, art.Filename)
	if err != nil {
		return err
	}
	dest := filepath.Join(outputDir, d.DisplayName)
	if err := writeDelivery(d.Content, dest); err != nil {
		d.Abort(err)
		return err
	}
	d.Complete()

	fmt.Fprintf(output, "Successfully created: %s\n", dest)
	return nil
}

func writeDelivery(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, r); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return pending.CloseAtomicallyReplace()
}
