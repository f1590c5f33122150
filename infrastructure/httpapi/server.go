// Package httpapi exposes the upload, convert and download endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"audio-extract-service/application/egress"
	"audio-extract-service/domain/media"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Uploads stages inbound files
type Uploads interface {
	Stage(ctx context.Context, stream io.Reader, originalName string, declaredSize int64) (*media.UploadRecord, error)
	MaxBytes() int64
}

// Converter runs conversions for staged uploads
type Converter interface {
	Convert(ctx context.Context, id, displayNameHint string) (media.ArtifactRecord, error)
	ActiveCount() int
}

// Downloads serves converted artifacts
type Downloads interface {
	Fetch(ctx context.Context, filename string) (*egress.Delivery, error)
}

// Options tunes the router
type Options struct {
	AllowedOrigins  []string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Server holds the handler dependencies
type Server struct {
	uploads   Uploads
	converter Converter
	downloads Downloads
	opts      Options
	now       func() time.Time
}

// NewServer creates the HTTP API
func NewServer(uploads Uploads, converter Converter, downloads Downloads, opts Options) *Server {
	return &Server{
		uploads:   uploads,
		converter: converter,
		downloads: downloads,
		opts:      opts,
		now:       time.Now,
	}
}

// Handler builds the chi router with the middleware stack
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Metrics)
	r.Use(AccessLog)
	r.Use(CORS(s.opts.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/download/{filename}", s.handleDownload)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(s.opts.RateLimit, s.opts.RateLimitWindow))
			r.Post("/upload", s.handleUpload)
			r.Post("/convert", s.handleConvert)
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})

	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps a domain error kind to its HTTP status
func statusFor(kind media.ErrorKind) int {
	switch kind {
	case media.KindInvalidFormat:
		return http.StatusBadRequest
	case media.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case media.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := media.KindOf(err)
	writeJSON(w, statusFor(kind), errorResponse{
		Error:   kind.Message(),
		Details: media.DetailOf(err),
	})
}
