package driven

import "context"

// TextExtractor converts raw file bytes into plain text. Extraction is
// best-effort, slow, and may be disabled entirely; callers bound every
// Extract call with a timeout and treat failures as partial (the
// downloaded file is kept).
type TextExtractor interface {
	// Enabled reports whether an extraction backend is configured.
	Enabled() bool

	// Supports reports whether the file name's extension is extractable.
	Supports(filename string) bool

	// Extract runs the file through the extraction backend.
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}
