package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"time"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/logging"
	"audio-extract-service/infrastructure/metrics"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const (
	// DefaultDeleteDelay is the grace period between a completed delivery and deletion
	DefaultDeleteDelay = time.Second
	// DefaultExpireAfter removes artifacts that were never delivered
	DefaultExpireAfter = 15 * time.Minute
)

// ErrClosed is returned by Publish after Close
var ErrClosed = errors.New("egress store closed")

// entry tracks the delivery state of one published artifact
type entry struct {
	readers     int
	doomed      bool // deletion is due and waits for readers to finish
	deleteTimer *time.Timer
	expiryTimer *time.Timer
}

// Service holds converted artifacts until they are delivered or expire
type Service struct {
	files       media.FileStore
	index       media.ArtifactIndex
	deleteDelay time.Duration
	expireAfter time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	timers  sync.WaitGroup
}

// Option is a functional option for configuring Service
type Option func(*Service)

// WithDeleteDelay sets the grace period before a delivered artifact is deleted
func WithDeleteDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.deleteDelay = d
		}
	}
}

// WithExpireAfter sets how long an undelivered artifact is kept
func WithExpireAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.expireAfter = d
		}
	}
}

// WithClock sets the time source (for testing)
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new egress service
func NewService(files media.FileStore, index media.ArtifactIndex, opts ...Option) *Service {
	s := &Service{
		files:       files,
		index:       index,
		deleteDelay: DefaultDeleteDelay,
		expireAfter: DefaultExpireAfter,
		now:         time.Now,
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PathFor returns where the transcoder must write the artifact named filename
func (s *Service) PathFor(filename string) string {
	return s.files.Path(filename)
}

// Publish registers a finished artifact and arms its expiry timer
func (s *Service) Publish(ctx context.Context, filename, displayName string) (media.ArtifactRecord, error) {
	f, info, err := s.files.Open(filename)
	if err != nil {
		return media.ArtifactRecord{}, media.NewError(media.KindIOFailure, "publish artifact", filename, err)
	}
	f.Close()

	rec := media.ArtifactRecord{
		Filename:    filename,
		StoragePath: s.files.Path(filename),
		DisplayName: displayName,
		Size:        info.Size,
		CreatedAt:   s.now(),
	}
	if err := s.register(rec); err != nil {
		return media.ArtifactRecord{}, err
	}

	logger := logging.FromContext(ctx, "egress")
	logger.Info().
		Str(logging.FieldEvent, "artifact.published").
		Str(logging.FieldFilename, filename).
		Str("display_name", displayName).
		Str(logging.FieldSize, humanize.IBytes(uint64(info.Size))).
		Msg("artifact ready for download")
	return rec, nil
}

func (s *Service) register(rec media.ArtifactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.index.Put(rec); err != nil {
		return media.NewError(media.KindIOFailure, "publish artifact", rec.Filename, err)
	}

	ttl := rec.CreatedAt.Add(s.expireAfter).Sub(s.now())
	if ttl < 0 {
		ttl = 0
	}
	e := &entry{}
	e.expiryTimer = s.afterFunc(ttl, func() { s.expire(rec.Filename) })
	s.entries[rec.Filename] = e
	return nil
}

// afterFunc arms a timer whose callback is tracked so Close can wait for it.
// Callers hold s.mu.
func (s *Service) afterFunc(d time.Duration, f func()) *time.Timer {
	s.timers.Add(1)
	return time.AfterFunc(d, func() {
		defer s.timers.Done()
		f()
	})
}

// stopTimer cancels t and releases its tracking slot if the callback never ran
func (s *Service) stopTimer(t *time.Timer) {
	if t != nil && t.Stop() {
		s.timers.Done()
	}
}

// Fetch opens an artifact for delivery. Only exact, plain filenames resolve.
// The caller must end the returned Delivery with Complete or Abort.
func (s *Service) Fetch(ctx context.Context, filename string) (*Delivery, error) {
	if !media.IsPlainFilename(filename) {
		return nil, notFound(filename)
	}

	s.mu.Lock()
	rec, ok := s.index.Get(filename)
	e := s.entries[filename]
	if !ok || e == nil {
		s.mu.Unlock()
		return nil, notFound(filename)
	}
	content, info, err := s.files.Open(filename)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, fs.ErrNotExist) {
			s.forget(filename)
			return nil, notFound(filename)
		}
		return nil, media.NewError(media.KindIOFailure, "fetch artifact", filename, err)
	}
	e.readers++
	s.mu.Unlock()

	return &Delivery{
		Content:     content,
		Filename:    filename,
		DisplayName: rec.DisplayName,
		Size:        info.Size,
		ModTime:     info.ModTime,
		svc:         s,
		logger:      logging.FromContext(ctx, "egress"),
	}, nil
}

func notFound(filename string) error {
	return media.NewError(media.KindNotFound, "fetch artifact", "File not found", fmt.Errorf("no artifact named %q", filename))
}

// finish records the end of one delivery
func (s *Service) finish(filename string, delivered bool) {
	s.mu.Lock()
	e := s.entries[filename]
	if e == nil {
		s.mu.Unlock()
		return
	}
	e.readers--
	if delivered && e.deleteTimer == nil && !s.closed {
		e.deleteTimer = s.afterFunc(s.deleteDelay, func() { s.deliveredDue(filename) })
	}
	removeNow := e.readers == 0 && e.doomed
	s.mu.Unlock()

	if removeNow {
		s.remove(filename, metrics.ReasonDelivered)
	}
}

// due marks an artifact for deletion, removing it at once when nobody is reading it.
// It reports whether the file was removed.
func (s *Service) due(filename, reason string) bool {
	s.mu.Lock()
	e := s.entries[filename]
	if e == nil {
		s.mu.Unlock()
		return false
	}
	e.doomed = true
	idle := e.readers == 0
	s.mu.Unlock()

	if !idle {
		return false
	}
	return s.remove(filename, reason)
}

func (s *Service) expire(filename string) {
	s.due(filename, metrics.ReasonExpired)
}

func (s *Service) deliveredDue(filename string) {
	s.due(filename, metrics.ReasonDelivered)
}

// forget drops an artifact from the index without touching the filesystem
func (s *Service) forget(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[filename]; e != nil {
		s.stopTimer(e.deleteTimer)
		s.stopTimer(e.expiryTimer)
		delete(s.entries, filename)
	}
	s.index.Delete(filename)
}

// remove deletes an artifact file and its index entry. It reports whether a file
// was deleted.
func (s *Service) remove(filename, reason string) bool {
	s.forget(filename)

	logger := logging.WithComponent("egress")
	removed, err := s.files.Remove(filename)
	if err != nil {
		metrics.CleanupErrorsTotal.WithLabelValues(metrics.LocationEgress).Inc()
		logger.Error().Err(err).Str(logging.FieldFilename, filename).Msg("failed to remove artifact")
		return false
	}
	if removed {
		metrics.FilesRemovedTotal.WithLabelValues(metrics.LocationEgress, reason).Inc()
	}
	logger.Debug().
		Str(logging.FieldEvent, "artifact.removed").
		Str(logging.FieldFilename, filename).
		Str("reason", reason).
		Bool("removed", removed).
		Msg("artifact removed")
	return removed
}

// Discard removes an artifact that was never published, such as partial engine output.
// A stale index entry under the same name is dropped as well.
func (s *Service) Discard(ctx context.Context, filename string) error {
	s.forget(filename)
	removed, err := s.files.Remove(filename)
	if err != nil {
		metrics.CleanupErrorsTotal.WithLabelValues(metrics.LocationEgress).Inc()
		return media.NewError(media.KindIOFailure, "discard artifact", filename, err)
	}
	if removed {
		metrics.FilesRemovedTotal.WithLabelValues(metrics.LocationEgress, metrics.ReasonFailed).Inc()
		logger := logging.FromContext(ctx, "egress")
		logger.Debug().Str(logging.FieldFilename, filename).Msg("partial output removed")
	}
	return nil
}

// Staged reports whether the upload with the given identifier is still waiting for
// conversion
type Staged func(id string) bool

// Recover publishes artifacts left in the egress directory by a previous run.
// Their expiry counts from the file modification time. An artifact whose upload is
// still staged belongs to a conversion the previous run never finished, so it is
// discarded instead.
func (s *Service) Recover(ctx context.Context, staged Staged) (int, error) {
	entries, err := s.files.Entries()
	if err != nil {
		return 0, media.NewError(media.KindIOFailure, "recover artifacts", "failed to list egress directory", err)
	}

	logger := logging.FromContext(ctx, "egress")
	added := 0
	for _, f := range entries {
		if f.Pending || media.Extension(f.Name) != media.TargetExtension {
			continue
		}
		if id := strings.TrimSuffix(f.Name, media.TargetExtension); staged != nil && staged(id) {
			if err := s.Discard(ctx, f.Name); err != nil {
				logger.Warn().Err(err).Str(logging.FieldFilename, f.Name).Msg("failed to remove unfinished artifact")
				continue
			}
			logger.Info().
				Str(logging.FieldEvent, "artifact.unfinished").
				Str(logging.FieldFilename, f.Name).
				Msg("removed output of interrupted conversion")
			continue
		}
		rec := media.ArtifactRecord{
			Filename:    f.Name,
			StoragePath: s.files.Path(f.Name),
			DisplayName: media.DisplayName(""),
			Size:        f.Size,
			CreatedAt:   f.ModTime,
		}
		if err := s.register(rec); err != nil {
			if errors.Is(err, ErrClosed) {
				return added, err
			}
			continue
		}
		added++
	}

	if added > 0 {
		logger.Info().Int("count", added).Msg("recovered artifacts")
	}
	return added, nil
}

// Sweep removes expired artifacts that no reader holds, plus files in the egress
// directory that are not indexed and older than the expiry window. It returns
// how many files were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.expireAfter)

	var expired []string
	s.mu.Lock()
	for _, rec := range s.index.List() {
		e := s.entries[rec.Filename]
		if rec.CreatedAt.Before(cutoff) && (e == nil || e.readers == 0) {
			expired = append(expired, rec.Filename)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, name := range expired {
		if s.due(name, metrics.ReasonExpired) {
			removed++
		}
	}

	files, err := s.files.Entries()
	if err != nil {
		return removed, media.NewError(media.KindIOFailure, "sweep egress", "failed to list egress directory", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !f.ModTime.Before(cutoff) {
			continue
		}
		if _, indexed := s.index.Get(f.Name); indexed {
			continue
		}
		ok, err := s.files.Remove(f.Name)
		if err != nil {
			metrics.CleanupErrorsTotal.WithLabelValues(metrics.LocationEgress).Inc()
			continue
		}
		if ok {
			removed++
			metrics.FilesRemovedTotal.WithLabelValues(metrics.LocationEgress, metrics.ReasonStale).Inc()
		}
	}

	if removed > 0 {
		logger := logging.FromContext(ctx, "egress")
		logger.Info().Int("count", removed).Msg("swept egress directory")
	}
	return removed, nil
}

// Len returns the number of published artifacts
func (s *Service) Len() int {
	return len(s.index.List())
}

// Close stops all pending timers and waits for running callbacks. Delivered artifacts
// nobody is reading are removed at once. The rest stay on disk and are picked up by
// Recover or Sweep on the next start.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	var delivered []string
	for name, e := range s.entries {
		if (e.deleteTimer != nil || e.doomed) && e.readers == 0 {
			delivered = append(delivered, name)
		}
		s.stopTimer(e.deleteTimer)
		s.stopTimer(e.expiryTimer)
		e.deleteTimer, e.expiryTimer = nil, nil
	}
	s.mu.Unlock()
	s.timers.Wait()

	for _, name := range delivered {
		s.remove(name, metrics.ReasonDelivered)
	}
}

// Delivery is one in-progress download of an artifact
type Delivery struct {
	Content     io.ReadSeekCloser
	Filename    string
	DisplayName string
	Size        int64
	ModTime     time.Time

	svc    *Service
	logger zerolog.Logger
	once   sync.Once
}

// Complete confirms the whole artifact was written to the client. The artifact is
// deleted after the configured delay once no other reader holds it.
func (d *Delivery) Complete() {
	d.once.Do(func() {
		d.Content.Close()
		metrics.DeliveriesTotal.WithLabelValues("completed").Inc()
		d.logger.Info().
			Str(logging.FieldEvent, "artifact.delivered").
			Str(logging.FieldFilename, d.Filename).
			Msg("artifact delivered")
		d.svc.finish(d.Filename, true)
	})
}

// Abort ends a delivery that did not complete. The artifact stays available until it
// expires.
func (d *Delivery) Abort(cause error) {
	d.once.Do(func() {
		d.Content.Close()
		metrics.DeliveriesTotal.WithLabelValues("aborted").Inc()
		d.logger.Warn().
			Err(cause).
			Str(logging.FieldEvent, "artifact.delivery_aborted").
			Str(logging.FieldFilename, d.Filename).
			Msg("artifact delivery aborted")
		d.svc.finish(d.Filename, false)
	})
}
