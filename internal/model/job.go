package model

import "time"

// JobState is the lifecycle state of a download job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether no further state transitions can occur.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// ErrorKind is the closed set of failure categories surfaced to clients.
type ErrorKind string

const (
	ErrKindInvalidURL        ErrorKind = "invalid_url"
	ErrKindUnsupportedFormat ErrorKind = "unsupported_format"
	ErrKindExtractionFailed  ErrorKind = "extraction_failed"
	ErrKindTimeoutExceeded   ErrorKind = "timeout_exceeded"
	ErrKindBackpressure      ErrorKind = "backpressure"
	ErrKindCancelled         ErrorKind = "cancelled"
	ErrKindExpired           ErrorKind = "expired"
	ErrKindNotReady          ErrorKind = "not_ready"
)

// JobSpec is the caller-supplied description of what to download.
type JobSpec struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// Job represents a download job in the system. Records are owned by the
// registry; handlers only ever see copies.
type Job struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	Spec        JobSpec    `json:"spec"`
	State       JobState   `json:"state"`
	Progress    int        `json:"progress"`
	ErrorKind   ErrorKind  `json:"errorKind,omitempty"`
	ErrorDetail string     `json:"errorDetail,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
