package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"audio-extract-service/domain/media"
)

// diagnosticLines is how many trailing stderr lines are attached to a failure
const diagnosticLines = 8

// Transcoder implements media.Transcoder using ffmpeg
type Transcoder struct {
	ffmpegPath string
	runner     CommandRunner
}

// TranscoderOption is a functional option for configuring Transcoder
type TranscoderOption func(*Transcoder)

// WithFFmpegPath sets a custom ffmpeg executable path
func WithFFmpegPath(path string) TranscoderOption {
	return func(t *Transcoder) {
		if path != "" {
			t.ffmpegPath = path
		}
	}
}

// WithCommandRunner sets a custom command runner (for testing)
func WithCommandRunner(runner CommandRunner) TranscoderOption {
	return func(t *Transcoder) {
		t.runner = runner
	}
}

// NewTranscoder creates a new FFmpeg-based audio transcoder
func NewTranscoder(opts ...TranscoderOption) *Transcoder {
	t := &Transcoder{
		ffmpegPath: "ffmpeg",
		runner:     &ExecCommandRunner{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Args returns the ffmpeg arguments for a request
func (t *Transcoder) Args(req media.TranscodeRequest) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-i", req.InputPath,
		"-vn",                // No video
		"-acodec", req.Codec, // Audio codec
		"-ab", req.Bitrate, // Audio bitrate
		"-f", req.Format,
		"-y", // Overwrite output file if it exists
		req.OutputPath,
	}
}

// Transcode implements media.Transcoder. It blocks until ffmpeg exits or ctx ends;
// on cancellation the process group is terminated before Transcode returns.
func (t *Transcoder) Transcode(ctx context.Context, req media.TranscodeRequest, observer media.TranscodeObserver) error {
	if observer == nil {
		observer = media.NopObserver{}
	}

	args := t.Args(req)
	observer.Started(t.ffmpegPath + " " + strings.Join(args, " "))

	proc, err := t.runner.Start(ctx, t.ffmpegPath, args...)
	if err != nil {
		return media.NewError(media.KindConversionFailed, "start ffmpeg", err.Error(), err)
	}

	tail := newTailBuffer(64)
	consumeStderr(proc.Stderr(), tail, observer)
	waitErr := proc.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		detail := "conversion cancelled"
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			detail = "conversion timed out"
		}
		return media.NewError(media.KindConversionFailed, "run ffmpeg", detail, ctxErr)
	}

	if waitErr != nil {
		detail := tail.Last(diagnosticLines)
		if detail == "" {
			detail = waitErr.Error()
		}
		return media.NewError(media.KindConversionFailed, "run ffmpeg", detail, waitErr)
	}

	return nil
}

func consumeStderr(stderr io.Reader, tail *tailBuffer, observer media.TranscodeObserver) {
	if stderr == nil {
		return
	}
	var parser progressParser

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if pct, ok := parser.Parse(line); ok {
			observer.Progress(pct)
		}
		if !isStatsLine(line) {
			tail.Add(line)
		}
	}
	// Drain whatever is left so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stderr)
}

// VerifyInstalled checks that ffmpeg is available
func (t *Transcoder) VerifyInstalled(ctx context.Context) error {
	_, err := t.runner.Output(ctx, t.ffmpegPath, "-version")
	if err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	return nil
}

// Ensure Transcoder implements media.Transcoder
var _ media.Transcoder = (*Transcoder)(nil)
