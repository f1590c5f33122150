package media

import (
	"context"
	"io"
	"time"
)

// TranscodeRequest binds one engine invocation to its input, output and policy
type TranscodeRequest struct {
	InputPath  string
	OutputPath string
	Format     string
	Codec      string
	Bitrate    string
}

// NewTranscodeRequest creates a request using the fixed output policy
func NewTranscodeRequest(inputPath, outputPath string) TranscodeRequest {
	return TranscodeRequest{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Format:     TargetFormat,
		Codec:      TargetCodec,
		Bitrate:    TargetBitrate,
	}
}

// TranscodeObserver receives informational engine events. Implementations must not block;
// neither event affects the outcome of the conversion.
type TranscodeObserver interface {
	// Started is called once with the full engine command line
	Started(commandLine string)
	// Progress is called with the completed percentage in [0, 100]
	Progress(percent float64)
}

// Transcoder runs the external transcoding engine until a terminal event.
// A nil error is terminal success; any error is terminal failure.
// This is a port that can be implemented by different infrastructure adapters.
type Transcoder interface {
	Transcode(ctx context.Context, req TranscodeRequest, observer TranscodeObserver) error
}

// UploadIndex maps identifiers to staged uploads
type UploadIndex interface {
	// Put adds a record; it fails if the identifier is already indexed
	Put(rec UploadRecord) error
	Get(id string) (UploadRecord, bool)
	Delete(id string)
	List() []UploadRecord
}

// ArtifactIndex maps egress filenames to completed artifacts
type ArtifactIndex interface {
	// Put adds a record; it fails if the filename is already indexed
	Put(rec ArtifactRecord) error
	Get(filename string) (ArtifactRecord, bool)
	Delete(filename string)
	List() []ArtifactRecord
}

// NopObserver ignores all engine events
type NopObserver struct{}

func (NopObserver) Started(string)   {}
func (NopObserver) Progress(float64) {}

// StoredFile describes one file held by a FileStore
type StoredFile struct {
	Name    string
	Size    int64
	ModTime time.Time
	Pending bool // temp file left behind by an interrupted atomic write
}

// FileStore is a flat namespace of files addressed by bare filename
type FileStore interface {
	// Path returns the location of name, for handing to the transcoding engine
	Path(name string) string
	// WriteAtomic streams r into name; on any error nothing is left behind.
	// A stream longer than limit fails with a KindTooLarge error.
	WriteAtomic(name string, r io.Reader, limit int64) (int64, error)
	Open(name string) (io.ReadSeekCloser, StoredFile, error)
	// Remove deletes name and reports whether it existed
	Remove(name string) (bool, error)
	Entries() ([]StoredFile, error)
}
