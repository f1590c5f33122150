package media

import (
	"path/filepath"
	"strings"
	"time"
)

// ArtifactRecord represents one completed, downloadable output
type ArtifactRecord struct {
	Filename    string
	StoragePath string
	DisplayName string
	Size        int64
	CreatedAt   time.Time
}

// ArtifactFilename returns the deterministic egress filename for an upload identifier
func ArtifactFilename(id string) string {
	return id + TargetExtension
}

// DisplayName builds the download name from a caller hint: the hint's base name
// without extension, followed by the target extension.
func DisplayName(hint string) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(hint), `\`, "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == "/" {
		name = DefaultDisplayName
	}
	return name + TargetExtension
}

// IsPlainFilename reports whether name is a bare filename with no directory component
func IsPlainFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
