// Package sink defines output backends for submission outcome events.
package sink

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/codedrop/block"
)

// Event records the terminal outcome of one block submission.
type Event struct {
	ID          string       `json:"id"` // UUIDv7
	SessionID   string       `json:"session_id"`
	Handle      string       `json:"handle"`
	Fingerprint string       `json:"fingerprint"`
	Filename    string       `json:"filename"`
	Status      block.Status `json:"status"`
	Message     string       `json:"message,omitempty"`
	HTTPStatus  int          `json:"http_status,omitempty"`
	Timestamp   int64        `json:"timestamp"` // epoch milliseconds
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(session, handle, fingerprint, filename string, st block.Status) Event {
	return Event{
		ID:          uuid.Must(uuid.NewV7()).String(),
		SessionID:   session,
		Handle:      handle,
		Fingerprint: fingerprint,
		Filename:    filename,
		Status:      st,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// Sink is the output interface. Implementations deliver outcome events to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}
