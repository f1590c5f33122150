package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/config"
	"audio-extract-service/infrastructure/ffmpeg"
	"audio-extract-service/infrastructure/httpapi"
	"audio-extract-service/infrastructure/logging"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Starts the HTTP API on the configured address (PORT overrides the port).

Uploads are staged under <data_directory>/uploads and converted MP3 files are
served from <data_directory>/outputs. Only one instance may use a data directory.

Example:
  audio-extract-service serve
  PORT=8080 audio-extract-service serve --log-format console`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcoder := ffmpeg.NewTranscoder(ffmpeg.WithFFmpegPath(cfg.Transcode.FFmpegPath))
	return RunServeWithDependencies(ctx, cfg, transcoder, nil, DefaultOutput)
}

// RunServeWithDependencies serves until ctx ends. When listener is nil the configured
// address is used.
func RunServeWithDependencies(
	ctx context.Context,
	cfg *config.Config,
	transcoder media.Transcoder,
	listener net.Listener,
	output OutputWriter,
) error {
	logger := logging.FromContext(ctx, "serve")

	if verifiable, ok := transcoder.(interface{ VerifyInstalled(context.Context) error }); ok {
		verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := verifiable.VerifyInstalled(verifyCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ffmpeg verification failed: %w", err)
		}
	}

	a, err := openApp(ctx, cfg, transcoder)
	if err != nil {
		return err
	}
	defer a.Close()

	api := httpapi.NewServer(a.ingress, a.orchestrator, a.egress, httpapi.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit.Requests,
		RateLimitWindow: cfg.Server.RateLimit.Window,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if listener == nil {
		listener, err = net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
		}
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		a.janitor.Run(janitorCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	fmt.Fprintf(output, "Listening on %s\n", listener.Addr())
	logger.Info().Str("addr", listener.Addr().String()).Msg("server started")

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn().Err(shutdownErr).Msg("http shutdown incomplete")
	}
	if waitErr := a.orchestrator.Wait(shutdownCtx); waitErr != nil {
		logger.Warn().Err(waitErr).Msg("conversions still running at shutdown")
	}
	stopJanitor()
	<-janitorDone

	return err
}
