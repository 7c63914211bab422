// Package websocket streams job progress to clients. Fan-out happens in the
// tracker; each connection drains its own subscription channel, so every
// subscriber of a job sees the same event sequence.
package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/fdown/api/internal/model"
	"github.com/fdown/api/internal/service"
	"github.com/fdown/api/internal/tracker"
)

const pingInterval = 30 * time.Second

// Streamer bridges tracker subscriptions onto WebSocket connections.
type Streamer struct {
	service *service.DownloadService
}

// NewStreamer creates a Streamer over the download service.
func NewStreamer(svc *service.DownloadService) *Streamer {
	return &Streamer{service: svc}
}

// HandleConnection serves one client until the job reaches a terminal state
// or the client disconnects.
func (s *Streamer) HandleConnection(c *websocket.Conn, jobID string) {
	events, cancel, err := s.service.Subscribe(jobID)
	if err != nil {
		msg, _ := json.Marshal(model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: jobID,
			Error: model.WSError{Kind: model.ErrKindNotReady, Message: "unknown job"},
		})
		_ = c.WriteMessage(websocket.TextMessage, msg)
		return
	}
	defer cancel()

	done := make(chan struct{})

	// Writer: forward tracker events, keep the connection alive with pings.
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				data, err := json.Marshal(messageFor(event))
				if err != nil {
					log.Printf("failed to marshal progress message: %v", err)
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader: consume client messages until disconnect, answering pings.
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			_ = c.WriteMessage(websocket.TextMessage, pong)
		}
	}

	cancel()
	<-done
}

// messageFor maps a tracker event onto the wire message types.
func messageFor(event tracker.Event) interface{} {
	switch {
	case event.Type == tracker.EventProgress:
		return model.WSProgressMessage{
			Type:     model.WSMessageTypeProgress,
			JobID:    event.JobID,
			Progress: event.Progress,
			State:    event.State,
		}
	case event.State == model.JobStateSucceeded:
		return model.WSCompleteMessage{
			Type:  model.WSMessageTypeComplete,
			JobID: event.JobID,
			State: event.State,
		}
	default:
		return model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: event.JobID,
			State: event.State,
			Error: model.WSError{Kind: event.ErrorKind, Message: event.ErrorDetail},
		}
	}
}
