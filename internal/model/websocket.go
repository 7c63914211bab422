package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type     string   `json:"type"`
	JobID    string   `json:"jobId"`
	Progress int      `json:"progress"`
	State    JobState `json:"state"`
}

// WSCompleteMessage represents successful completion
type WSCompleteMessage struct {
	Type  string   `json:"type"`
	JobID string   `json:"jobId"`
	State JobState `json:"state"`
}

// WSErrorMessage represents a terminal failure
type WSErrorMessage struct {
	Type  string   `json:"type"`
	JobID string   `json:"jobId"`
	State JobState `json:"state"`
	Error WSError  `json:"error"`
}

// WSError represents error details
type WSError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
