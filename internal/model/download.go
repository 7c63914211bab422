package model

import "time"

// DownloadRequest represents the request to start a download job
type DownloadRequest struct {
	URL     string `json:"url" validate:"required,url"`
	Format  string `json:"format" validate:"omitempty,oneof=best mp4 webm mkv"`
	Quality string `json:"quality" validate:"omitempty,oneof=best 1080p 720p 480p 360p"`
}

// DownloadResponse represents the response when submitting a download
type DownloadResponse struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"` // "queued" or "existing"
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// Submission statuses
const (
	SubmitStatusQueued   = "queued"
	SubmitStatusExisting = "existing"
)

// StatusResponse represents the current status of a download job
type StatusResponse struct {
	JobID       string     `json:"jobId"`
	State       JobState   `json:"state"`
	Progress    int        `json:"progress"`
	ErrorKind   ErrorKind  `json:"errorKind,omitempty"`
	ErrorDetail string     `json:"errorDetail,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// CancelResponse represents the response when cancelling a download
type CancelResponse struct {
	JobID     string   `json:"jobId"`
	Cancelled bool     `json:"cancelled"`
	State     JobState `json:"state"`
}

// InfoRequest represents the request to probe a video without downloading
type InfoRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// VideoInfo holds probed metadata for a video page
type VideoInfo struct {
	Title        string        `json:"title"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
	Duration     int           `json:"duration,omitempty"`
	Formats      []VideoFormat `json:"formats"`
}

// VideoFormat describes one downloadable rendition of a video
type VideoFormat struct {
	FormatID   string `json:"formatId"`
	Resolution string `json:"resolution"`
	Ext        string `json:"ext"`
	Filesize   *int64 `json:"filesize,omitempty"`
	Note       string `json:"note,omitempty"`
}

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
