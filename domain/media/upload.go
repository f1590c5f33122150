package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// UploadRecord represents one staged inbound file
type UploadRecord struct {
	ID           string
	OriginalName string // untrusted, only used to derive the download name
	StoragePath  string
	Size         int64
	StagedAt     time.Time
}

// Extension returns the lower-cased extension of name, including the dot
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsAcceptedExtension reports whether name carries an allow-listed container extension
func IsAcceptedExtension(name string) bool {
	_, ok := acceptedExtensions[Extension(name)]
	return ok
}

// ValidateUpload checks an inbound file before any bytes are written.
// A negative declaredSize means the size is unknown.
func ValidateUpload(originalName string, declaredSize int64) error {
	if strings.TrimSpace(originalName) == "" {
		return NewError(KindInvalidFormat, "validate upload", "file name is required", nil)
	}
	if !IsAcceptedExtension(originalName) {
		return NewError(KindInvalidFormat, "validate upload",
			fmt.Sprintf("extension %q is not an accepted video format", filepath.Ext(originalName)), nil)
	}
	if declaredSize > MaxUploadBytes {
		return NewError(KindTooLarge, "validate upload",
			fmt.Sprintf("file is %d bytes, limit is %d", declaredSize, MaxUploadBytes), nil)
	}
	return nil
}

// StagedFilename returns the staging filename for an upload: {id}{ext}
func StagedFilename(id, originalName string) string {
	return id + Extension(originalName)
}

// ParseStagedFilename recovers the identifier from a staging filename.
// It returns false for names that do not carry an accepted extension.
func ParseStagedFilename(name string) (id string, ok bool) {
	ext := Extension(name)
	if _, accepted := acceptedExtensions[ext]; !accepted {
		return "", false
	}
	id = strings.TrimSuffix(name, name[len(name)-len(ext):])
	if id == "" {
		return "", false
	}
	return id, true
}
