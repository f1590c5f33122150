package logging

// Canonical field names for structured logging.
const (
	FieldComponent   = "component"
	FieldEvent       = "event"
	FieldRequestID   = "request_id"
	FieldFileID      = "file_id"
	FieldFilename    = "filename"
	FieldPath        = "path"
	FieldSize        = "size"
	FieldState       = "state"
	FieldDurationMS  = "duration_ms"
	FieldCommandLine = "command_line"
	FieldPercent     = "percent"
)
