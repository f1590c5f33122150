package cmd

import (
	"context"

	"audio-extract-service/application/egress"
	"audio-extract-service/application/ingress"
	"audio-extract-service/application/janitor"
	"audio-extract-service/application/transcode"
	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/config"
	"audio-extract-service/infrastructure/filesystem"
	"audio-extract-service/infrastructure/logging"
	"audio-extract-service/infrastructure/memory"
)

// app is the wired service graph for one data directory
type app struct {
	lock         *filesystem.DirLock
	ingress      *ingress.Service
	egress       *egress.Service
	orchestrator *transcode.Orchestrator
	janitor      *janitor.Janitor
}

// openApp locks the data directory, wires the services and reloads files left by a
// previous run
func openApp(ctx context.Context, cfg *config.Config, transcoder media.Transcoder) (*app, error) {
	lock, err := filesystem.AcquireDirLock(cfg.Paths.DataDirectory)
	if err != nil {
		return nil, err
	}

	staging, err := filesystem.NewDir(cfg.StagingDir())
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	outputs, err := filesystem.NewDir(cfg.OutputDir())
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	in := ingress.NewService(staging, memory.NewUploadIndex())
	out := egress.NewService(outputs, memory.NewArtifactIndex(),
		egress.WithDeleteDelay(cfg.Egress.DeleteDelay),
		egress.WithExpireAfter(cfg.Egress.ExpireAfter),
	)
	orch := transcode.NewOrchestrator(in, out, transcoder, transcode.WithTimeout(cfg.Transcode.Timeout))

	a := &app{
		lock:         lock,
		ingress:      in,
		egress:       out,
		orchestrator: orch,
		janitor:      janitor.New(in, out, orch, cfg.Staging.MaxAge, cfg.Sweep.Interval),
	}

	if _, err := in.Recover(ctx); err != nil {
		a.Close()
		return nil, err
	}
	staged := func(id string) bool {
		_, err := in.Lookup(id)
		return err == nil
	}
	if _, err := out.Recover(ctx, staged); err != nil {
		a.Close()
		return nil, err
	}

	logger := logging.FromContext(ctx, "app")
	logger.Info().
		Str("staging", staging.Root()).
		Str("outputs", outputs.Root()).
		Str("lock", lock.Path()).
		Msg("data directory ready")
	return a, nil
}

// Close stops timers and releases the data directory lock
func (a *app) Close() {
	a.egress.Close()
	if err := a.lock.Release(); err != nil {
		logger := logging.WithComponent("app")
		logger.Warn().Err(err).Msg("failed to release data directory lock")
	}
}
