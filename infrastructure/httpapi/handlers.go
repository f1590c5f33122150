package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/logging"

	"github.com/go-chi/chi/v5"
)

const (
	// UploadField is the multipart field carrying the video
	UploadField = "video"
	// multipartOverhead allows for boundaries and part headers around the file
	multipartOverhead = 1 << 20
	maxConvertBody    = 64 << 10
)

type uploadResponse struct {
	Success  bool   `json:"success"`
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type convertRequest struct {
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
}

type convertResponse struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"downloadUrl"`
	Filename    string `json:"filename"`
}

type healthResponse struct {
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp"`
	ActiveConversions int    `json:"activeConversions"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.uploads.MaxBytes() + multipartOverhead
	if r.ContentLength > limit {
		writeError(w, media.NewError(media.KindTooLarge, "upload", "request body exceeds upload limit", nil))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded", Details: err.Error()})
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, classifyBodyError(err))
			return
		}
		if part.FormName() != UploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		rec, err := s.uploads.Stage(r.Context(), part, part.FileName(), partSize(part.Header.Get("Content-Length")))
		part.Close()
		if err != nil {
			writeError(w, classifyBodyError(err))
			return
		}
		writeJSON(w, http.StatusOK, uploadResponse{
			Success:  true,
			FileID:   rec.ID,
			Filename: rec.OriginalName,
			Path:     rec.StoragePath,
		})
		return
	}

	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded"})
}

// classifyBodyError reports an exceeded request size as TooLarge
func classifyBodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return media.NewError(media.KindTooLarge, "upload", "request body exceeds upload limit", err)
	}
	if media.KindOf(err) == "" {
		return media.NewError(media.KindWriteFailure, "upload", "failed to read upload", err)
	}
	return err
}

// partSize parses a per-part Content-Length, returning -1 when absent
func partSize(raw string) int64 {
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxConvertBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}
	req.FileID = strings.TrimSpace(req.FileID)
	if req.FileID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "File ID is required"})
		return
	}

	art, err := s.converter.Convert(r.Context(), req.FileID, req.Filename)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, convertResponse{
		Success:     true,
		DownloadURL: "/api/download/" + art.Filename,
		Filename:    art.DisplayName,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	d, err := s.downloads.Fetch(r.Context(), filename)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.DisplayName}))
	w.Header().Set("Last-Modified", d.ModTime.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, d.Content)
	if err == nil && n != d.Size {
		err = io.ErrShortWrite
	}
	if err != nil {
		d.Abort(err)
		return
	}
	d.Complete()

	logger := logging.FromContext(r.Context(), "http")
	logger.Debug().Str(logging.FieldFilename, filename).Int64("bytes", n).Msg("download sent")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "OK",
		Timestamp:         s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ActiveConversions: s.converter.ActiveCount(),
	})
}
