package transcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/logging"
	"audio-extract-service/infrastructure/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single engine run
const DefaultTimeout = 30 * time.Minute

// Uploads is the part of the ingress store the orchestrator depends on
type Uploads interface {
	Lookup(id string) (media.UploadRecord, error)
	Release(ctx context.Context, id, reason string) error
}

// Artifacts is the part of the egress store the orchestrator depends on
type Artifacts interface {
	PathFor(filename string) string
	Publish(ctx context.Context, filename, displayName string) (media.ArtifactRecord, error)
	Discard(ctx context.Context, filename string) error
}

// Orchestrator turns staged uploads into published audio artifacts
type Orchestrator struct {
	uploads    Uploads
	artifacts  Artifacts
	transcoder media.Transcoder
	timeout    time.Duration
	now        func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	active   map[string]*media.TranscodeJob
	inflight int
	drained  chan struct{} // closed when inflight drops to zero
}

// Option is a functional option for configuring Orchestrator
type Option func(*Orchestrator)

// WithTimeout bounds how long one engine run may take
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock sets the time source used for job timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(uploads Uploads, artifacts Artifacts, transcoder media.Transcoder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		uploads:    uploads,
		artifacts:  artifacts,
		transcoder: transcoder,
		timeout:    DefaultTimeout,
		now:        time.Now,
		active:     make(map[string]*media.TranscodeJob),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Convert transcodes the upload staged under id and publishes the result.
// Concurrent calls for one id share a single engine run. The run is detached from
// ctx: a caller that gives up gets ctx's error while the job still finishes and
// cleans up behind it.
func (o *Orchestrator) Convert(ctx context.Context, id, displayNameHint string) (media.ArtifactRecord, error) {
	if _, err := o.uploads.Lookup(id); err != nil {
		return media.ArtifactRecord{}, err
	}

	ctx = logging.ContextWithFileID(ctx, id)
	jobCtx := context.WithoutCancel(ctx)

	o.begin()
	ch := o.group.DoChan(id, func() (interface{}, error) {
		return o.run(jobCtx, id, displayNameHint)
	})

	select {
	case res := <-ch:
		o.end()
		if res.Shared {
			metrics.ConversionsShared.Inc()
		}
		if res.Err != nil {
			return media.ArtifactRecord{}, res.Err
		}
		return res.Val.(media.ArtifactRecord), nil
	case <-ctx.Done():
		go func() {
			<-ch
			o.end()
		}()
		logger := logging.FromContext(ctx, "transcode")
		logger.Warn().Err(ctx.Err()).Msg("caller stopped waiting for conversion")
		return media.ArtifactRecord{}, ctx.Err()
	}
}

// begin counts a caller whose conversion Wait must outlast
func (o *Orchestrator) begin() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight++
	if o.drained == nil {
		o.drained = make(chan struct{})
	}
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight--
	if o.inflight == 0 && o.drained != nil {
		close(o.drained)
		o.drained = nil
	}
}

func (o *Orchestrator) run(ctx context.Context, id, hint string) (media.ArtifactRecord, error) {
	logger := logging.FromContext(ctx, "transcode")

	filename := media.ArtifactFilename(id)
	job, err := o.claim(id, o.artifacts.PathFor(filename))
	if err != nil {
		return media.ArtifactRecord{}, err
	}
	defer o.untrack(id)

	if err := job.Start(o.now()); err != nil {
		return media.ArtifactRecord{}, err
	}
	logger.Info().
		Str(logging.FieldEvent, "conversion.started").
		Str(logging.FieldState, job.State.String()).
		Str(logging.FieldPath, job.InputPath).
		Msg("conversion started")

	metrics.ConversionsInFlight.Inc()
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	err = o.transcoder.Transcode(runCtx, media.NewTranscodeRequest(job.InputPath, job.OutputPath), newLogObserver(logger))
	cancel()
	metrics.ConversionsInFlight.Dec()

	if err != nil {
		return media.ArtifactRecord{}, o.fail(ctx, job, filename, err)
	}

	o.release(ctx, id, metrics.ReasonConverted)
	art, err := o.artifacts.Publish(ctx, filename, media.DisplayName(hint))
	if err != nil {
		return media.ArtifactRecord{}, o.fail(ctx, job, filename, err)
	}

	_ = job.Succeed(o.now())
	o.observe(job)
	logger.Info().
		Str(logging.FieldEvent, "conversion.succeeded").
		Str(logging.FieldState, job.State.String()).
		Str(logging.FieldFilename, art.Filename).
		Int64(logging.FieldDurationMS, job.Duration().Milliseconds()).
		Msg("conversion finished")
	return art, nil
}

// fail moves job to failed, removes both files and returns the error reported to callers.
// Cleanup problems are logged only.
func (o *Orchestrator) fail(ctx context.Context, job *media.TranscodeJob, filename string, cause error) error {
	logger := logging.FromContext(ctx, "transcode")

	_ = job.Fail(o.now(), media.DetailOf(cause))
	o.release(ctx, job.ID, metrics.ReasonFailed)
	if err := o.artifacts.Discard(ctx, filename); err != nil {
		logger.Error().Err(err).Str(logging.FieldFilename, filename).Msg("failed to remove partial output")
	}
	o.observe(job)

	logger.Error().
		Err(cause).
		Str(logging.FieldEvent, "conversion.failed").
		Str(logging.FieldState, job.State.String()).
		Int64(logging.FieldDurationMS, job.Duration().Milliseconds()).
		Msg("conversion failed")

	if errors.Is(cause, media.ErrConversionFailed) {
		return cause
	}
	return media.NewError(media.KindConversionFailed, "convert", job.Diagnostic, cause)
}

func (o *Orchestrator) release(ctx context.Context, id, reason string) {
	if err := o.uploads.Release(ctx, id, reason); err != nil {
		logger := logging.FromContext(ctx, "transcode")
		logger.Error().Err(err).Msg("failed to remove staged input")
	}
}

func (o *Orchestrator) observe(job *media.TranscodeJob) {
	outcome := job.State.String()
	metrics.ConversionsTotal.WithLabelValues(outcome).Inc()
	metrics.ConversionDuration.WithLabelValues(outcome).Observe(job.Duration().Seconds())
}

// claim resolves the staged upload and marks id active in one step, so ReleaseIdle
// cannot remove the input between the two. The upload may also have been consumed
// by a run that finished after the caller's own lookup.
func (o *Orchestrator) claim(id, outputPath string) (*media.TranscodeJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, err := o.uploads.Lookup(id)
	if err != nil {
		return nil, err
	}
	job := media.NewTranscodeJob(rec, outputPath)
	o.active[id] = job
	return job, nil
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}

// Active reports whether a conversion for id is in progress
func (o *Orchestrator) Active(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

// ReleaseIdle removes the staged upload for id unless a conversion for it is running.
// It reports whether the upload was released.
func (o *Orchestrator) ReleaseIdle(ctx context.Context, id, reason string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.active[id]; running {
		return false, nil
	}
	if err := o.uploads.Release(ctx, id, reason); err != nil {
		return false, err
	}
	return true, nil
}

// ActiveCount returns the number of conversions in progress
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Wait blocks until every running conversion has finished or ctx ends
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.drained
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d conversions: %w", o.ActiveCount(), ctx.Err())
	}
}

// logObserver writes engine events to the job logger. Progress is logged at debug
// level in steps of progressStep percent.
type logObserver struct {
	logger zerolog.Logger
	next   float64
}

const progressStep = 10

func newLogObserver(logger zerolog.Logger) *logObserver {
	return &logObserver{logger: logger}
}

func (l *logObserver) Started(commandLine string) {
	l.logger.Info().
		Str(logging.FieldEvent, "engine.started").
		Str(logging.FieldCommandLine, commandLine).
		Msg("spawned ffmpeg")
}

func (l *logObserver) Progress(percent float64) {
	if percent < l.next {
		return
	}
	l.next = percent + progressStep
	l.logger.Debug().
		Str(logging.FieldEvent, "engine.progress").
		Float64(logging.FieldPercent, percent).
		Msg("conversion progress")
}
