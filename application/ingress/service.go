package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/logging"
	"audio-extract-service/infrastructure/metrics"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Service stages inbound uploads and owns them until the orchestrator releases them
type Service struct {
	files    media.FileStore
	index    media.UploadIndex
	newID    func() string
	now      func() time.Time
	maxBytes int64
}

// Option is a functional option for configuring Service
type Option func(*Service)

// WithIDGenerator replaces the random identifier source (for testing)
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// WithMaxBytes lowers the upload size cap
func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithClock sets the time source used for StagedAt
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new ingress service
func NewService(files media.FileStore, index media.UploadIndex, opts ...Option) *Service {
	s := &Service{
		files:    files,
		index:    index,
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
		maxBytes: media.MaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBytes returns the effective upload size cap
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Stage validates and persists an inbound stream under a fresh identifier.
// declaredSize may be negative when the caller does not know it. On any error no
// file is left in the staging directory.
func (s *Service) Stage(ctx context.Context, stream io.Reader, originalName string, declaredSize int64) (*media.UploadRecord, error) {
	logger := logging.FromContext(ctx, "ingress")

	if err := media.ValidateUpload(originalName, declaredSize); err != nil {
		return nil, s.reject(ctx, err)
	}
	if declaredSize > s.maxBytes {
		return nil, s.reject(ctx, media.NewError(media.KindTooLarge, "validate upload",
			fmt.Sprintf("file is %d bytes, limit is %d", declaredSize, s.maxBytes), nil))
	}

	id := s.newID()
	name := media.StagedFilename(id, originalName)

	n, err := s.files.WriteAtomic(name, stream, s.maxBytes)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			return nil, s.reject(ctx, media.NewError(media.KindTooLarge, "stage upload",
				fmt.Sprintf("upload exceeds %s limit", humanize.IBytes(uint64(s.maxBytes))), err))
		}
		return nil, s.reject(ctx, media.NewError(media.KindWriteFailure, "stage upload", "failed to store upload", err))
	}

	rec := media.UploadRecord{
		ID:           id,
		OriginalName: originalName,
		StoragePath:  s.files.Path(name),
		Size:         n,
		StagedAt:     s.now(),
	}
	if err := s.index.Put(rec); err != nil {
		if _, rmErr := s.files.Remove(name); rmErr != nil {
			logger.Error().Err(rmErr).Str(logging.FieldPath, rec.StoragePath).Msg("failed to remove unindexed upload")
		}
		return nil, s.reject(ctx, media.NewError(media.KindWriteFailure, "index upload", "identifier collision", err))
	}

	metrics.UploadsTotal.WithLabelValues("staged").Inc()
	metrics.UploadBytes.Observe(float64(n))
	logger.Info().
		Str(logging.FieldEvent, "upload.staged").
		Str(logging.FieldFileID, id).
		Str("original_name", originalName).
		Str(logging.FieldSize, humanize.IBytes(uint64(n))).
		Msg("upload staged")

	return &rec, nil
}

func (s *Service) reject(ctx context.Context, err error) error {
	metrics.UploadsTotal.WithLabelValues(string(media.KindOf(err))).Inc()
	logger := logging.FromContext(ctx, "ingress")
	logger.Warn().Err(err).Str(logging.FieldEvent, "upload.rejected").Msg("upload rejected")
	return err
}

// Lookup resolves an identifier to its staged upload
func (s *Service) Lookup(id string) (media.UploadRecord, error) {
	rec, ok := s.index.Get(id)
	if !ok {
		return media.UploadRecord{}, media.NewError(media.KindNotFound, "resolve upload", "File not found", nil)
	}
	return rec, nil
}

// Release deletes a staged upload and forgets its identifier. A file that is
// already gone is not an error.
func (s *Service) Release(ctx context.Context, id, reason string) error {
	rec, ok := s.index.Get(id)
	if !ok {
		return nil
	}
	s.index.Delete(id)

	removed, err := s.files.Remove(filepath.Base(rec.StoragePath))
	if err != nil {
		metrics.CleanupErrorsTotal.WithLabelValues(metrics.LocationStaging).Inc()
		return media.NewError(media.KindIOFailure, "release upload", rec.StoragePath, err)
	}
	if removed {
		metrics.FilesRemovedTotal.WithLabelValues(metrics.LocationStaging, reason).Inc()
	}

	logger := logging.FromContext(logging.ContextWithFileID(ctx, id), "ingress")
	logger.Debug().
		Str(logging.FieldEvent, "upload.released").
		Str("reason", reason).
		Bool("removed", removed).
		Msg("staged upload released")
	return nil
}

// Recover rebuilds the index from files already in the staging directory, so
// uploads staged before a restart stay convertible. It returns how many were added.
func (s *Service) Recover(ctx context.Context) (int, error) {
	entries, err := s.files.Entries()
	if err != nil {
		return 0, media.NewError(media.KindIOFailure, "recover uploads", "failed to list staging directory", err)
	}

	added := 0
	for _, e := range entries {
		if e.Pending {
			continue
		}
		id, ok := media.ParseStagedFilename(e.Name)
		if !ok {
			continue
		}
		rec := media.UploadRecord{
			ID:           id,
			OriginalName: e.Name,
			StoragePath:  s.files.Path(e.Name),
			Size:         e.Size,
			StagedAt:     e.ModTime,
		}
		if err := s.index.Put(rec); err != nil {
			continue
		}
		added++
	}

	if added > 0 {
		logger := logging.FromContext(ctx, "ingress")
		logger.Info().Int("count", added).Msg("recovered staged uploads")
	}
	return added, nil
}

// Stale returns indexed uploads staged before now-maxAge
func (s *Service) Stale(maxAge time.Duration) []media.UploadRecord {
	cutoff := s.now().Add(-maxAge)
	var stale []media.UploadRecord
	for _, rec := range s.index.List() {
		if rec.StagedAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	return stale
}

// RemoveAbandonedWrites deletes temp files left by writes interrupted by a crash
func (s *Service) RemoveAbandonedWrites(maxAge time.Duration) (int, error) {
	entries, err := s.files.Entries()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Pending || !e.ModTime.Before(cutoff) {
			continue
		}
		ok, err := s.files.Remove(e.Name)
		if err != nil {
			metrics.CleanupErrorsTotal.WithLabelValues(metrics.LocationStaging).Inc()
			continue
		}
		if ok {
			removed++
			metrics.FilesRemovedTotal.WithLabelValues(metrics.LocationStaging, metrics.ReasonStale).Inc()
		}
	}
	return removed, nil
}
