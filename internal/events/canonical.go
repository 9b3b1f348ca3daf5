// Package events defines the versioned events the dialog engine emits for
// downstream collaborators (reminder scheduling, CRM sync, operator
// hand-off) and the publishers that deliver them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalEvent represents a versioned domain event.
type CanonicalEvent interface {
	EventType() string
}

// Envelope captures transport metadata for canonical events.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	SessionID       string          `json:"session_id"`
	TimestampMillis int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes the generated envelope.
type EnvelopeOption func(*Envelope)

// WithEventID overrides the automatically generated event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp overrides the timestamp stored in milliseconds.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if ts.IsZero() {
			return
		}
		e.TimestampMillis = ts.UTC().UnixMilli()
	}
}

var (
	errMissingSession = errors.New("events: session id is required")
	errNilEvent       = errors.New("events: canonical event required")
	nowFunc           = time.Now
)

// NewEnvelope wraps evt for delivery.
func NewEnvelope(sessionID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Envelope{}, errMissingSession
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal canonical payload: %w", err)
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		SessionID:       strings.TrimSpace(sessionID),
		TimestampMillis: nowFunc().UTC().UnixMilli(),
		Payload:         payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}
