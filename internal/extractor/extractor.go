// Package extractor wraps the external video-resolution capability behind a
// uniform interface. Adapters translate tool-specific failures into the
// closed error-kind set and support cooperative cancellation via context.
package extractor

import (
	"context"
	"fmt"

	"github.com/fdown/api/internal/model"
)

// ProgressFunc receives percent-complete updates in [0,100]. Implementations
// are called at a bounded interval; a value of -1 means indeterminate.
type ProgressFunc func(percent int)

// Result describes the downloaded output file.
type Result struct {
	Path        string
	Filename    string
	Size        int64
	ContentType string
}

// Extractor resolves a video page URL to a downloaded media file.
// Extract must observe ctx cancellation promptly and release the underlying
// process. It never retries internally.
type Extractor interface {
	Extract(ctx context.Context, spec model.JobSpec, destDir string, progress ProgressFunc) (*Result, error)
	Probe(ctx context.Context, url string) (*model.VideoInfo, error)
}

// Error is an extraction failure mapped onto the closed error-kind set.
// Reason carries the tool's own message since the extractor ecosystem does
// not expose structured codes.
type Error struct {
	Kind   model.ErrorKind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed (%s): %s", e.Kind, e.Reason)
}

// NewError builds an Error with the given kind and reason.
func NewError(kind model.ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
