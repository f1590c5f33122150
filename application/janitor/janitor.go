package janitor

import (
	"context"
	"time"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/logging"
	"audio-extract-service/infrastructure/metrics"
)

// Staging is the part of the ingress store the janitor cleans
type Staging interface {
	Stale(maxAge time.Duration) []media.UploadRecord
	Release(ctx context.Context, id, reason string) error
	RemoveAbandonedWrites(maxAge time.Duration) (int, error)
}

// Egress is the part of the egress store the janitor cleans
type Egress interface {
	Sweep(ctx context.Context) (int, error)
}

// IdleReleaser removes a staged upload only when no conversion is using it. The
// check and the removal happen atomically.
type IdleReleaser interface {
	ReleaseIdle(ctx context.Context, id, reason string) (bool, error)
}

// Result summarises one sweep
type Result struct {
	StaleUploads     int
	AbandonedWrites  int
	ExpiredArtifacts int
	Errors           []error
}

// Removed returns the total number of files removed
func (r Result) Removed() int {
	return r.StaleUploads + r.AbandonedWrites + r.ExpiredArtifacts
}

// Janitor removes uploads nobody converted and artifacts nobody downloaded
type Janitor struct {
	staging  Staging
	egress   Egress
	releaser IdleReleaser
	maxAge   time.Duration
	interval time.Duration
}

// New creates a janitor. Uploads older than maxAge are removed unless a conversion
// for them is running.
func New(staging Staging, egress Egress, releaser IdleReleaser, maxAge, interval time.Duration) *Janitor {
	return &Janitor{
		staging:  staging,
		egress:   egress,
		releaser: releaser,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Sweep runs one cleanup pass
func (j *Janitor) Sweep(ctx context.Context) Result {
	logger := logging.FromContext(ctx, "janitor")
	var result Result

	for _, rec := range j.staging.Stale(j.maxAge) {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err())
			return result
		}
		uploadCtx := logging.ContextWithFileID(ctx, rec.ID)
		uploadLog := logging.FromContext(uploadCtx, "janitor")
		released, err := j.release(uploadCtx, rec.ID)
		if err != nil {
			result.Errors = append(result.Errors, err)
			uploadLog.Warn().Err(err).Msg("failed to remove stale upload")
			continue
		}
		if !released {
			continue
		}
		result.StaleUploads++
		uploadLog.Info().
			Str(logging.FieldEvent, "staging.cleanup").
			Dur("age", time.Since(rec.StagedAt)).
			Msg("removed stale upload")
	}

	n, err := j.staging.RemoveAbandonedWrites(j.maxAge)
	result.AbandonedWrites = n
	if err != nil {
		result.Errors = append(result.Errors, err)
		logger.Warn().Err(err).Msg("failed to scan staging for abandoned writes")
	}

	n, err = j.egress.Sweep(ctx)
	result.ExpiredArtifacts = n
	if err != nil {
		result.Errors = append(result.Errors, err)
		logger.Warn().Err(err).Msg("failed to sweep egress")
	}

	return result
}

func (j *Janitor) release(ctx context.Context, id string) (bool, error) {
	if j.releaser != nil {
		return j.releaser.ReleaseIdle(ctx, id, metrics.ReasonStale)
	}
	if err := j.staging.Release(ctx, id, metrics.ReasonStale); err != nil {
		return false, err
	}
	return true, nil
}

// Run sweeps every interval until ctx ends
func (j *Janitor) Run(ctx context.Context) {
	logger := logging.FromContext(ctx, "janitor")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logger.Debug().Dur("interval", j.interval).Dur("max_age", j.maxAge).Msg("janitor started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("janitor stopped")
			return
		case <-ticker.C:
			if res := j.Sweep(ctx); res.Removed() > 0 || len(res.Errors) > 0 {
				logger.Info().
					Int("removed", res.Removed()).
					Int("errors", len(res.Errors)).
					Msg("sweep finished")
			}
		}
	}
}
