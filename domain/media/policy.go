package media

// Output policy for every conversion. These are not caller-configurable.
const (
	TargetFormat    = "mp3"
	TargetExtension = ".mp3"
	TargetCodec     = "libmp3lame"
	TargetBitrate   = "192k"
)

// MaxUploadBytes is the largest upload accepted by the ingress store (500 MiB)
const MaxUploadBytes int64 = 500 * 1024 * 1024

// DefaultDisplayName is used when the caller supplies no name hint
const DefaultDisplayName = "audio"

// acceptedExtensions is the media-container allow-list for uploads
var acceptedExtensions = map[string]struct{}{
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".mkv":  {},
	".flv":  {},
	".wmv":  {},
	".webm": {},
	".m4v":  {},
}

// AcceptedExtensions returns the allow-listed container extensions in a stable order
func AcceptedExtensions() []string {
	return []string{".mp4", ".avi", ".mov", ".mkv", ".flv", ".wmv", ".webm", ".m4v"}
}
