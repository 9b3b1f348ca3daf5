package domain

import (
	"encoding/json"
	"time"
)

// Channel identifies how the caller reached the agent.
type Channel string

const (
	ChannelVoice    Channel = "voice"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWeb      Channel = "web"
)

// SessionState is the lifecycle state of a conversation.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionIdle      SessionState = "idle"
	SessionCompleted SessionState = "completed"
	SessionEscalated SessionState = "escalated"
	SessionTimeout   SessionState = "timeout"
)

// Closed reports whether the session no longer accepts turns.
func (s SessionState) Closed() bool {
	switch s {
	case SessionCompleted, SessionEscalated, SessionTimeout:
		return true
	}
	return false
}

// Outcome summarises what a conversation achieved.
type Outcome string

const (
	OutcomeBookingCreated Outcome = "booking_created"
	OutcomeWaitlistAdded  Outcome = "waitlist_added"
	OutcomeInfoProvided   Outcome = "info_provided"
	OutcomeEscalated      Outcome = "escalated"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeUnknown        Outcome = "unknown"
)

// ClosedState maps an outcome onto the terminal session state it produces.
func (o Outcome) ClosedState() SessionState {
	switch o {
	case OutcomeEscalated:
		return SessionEscalated
	case OutcomeTimeout:
		return SessionTimeout
	default:
		return SessionCompleted
	}
}

// Session is one call or chat with the agent.
type Session struct {
	ID           string       `json:"id"`
	Channel      Channel      `json:"channel"`
	State        SessionState `json:"state"`
	Vertical     string       `json:"vertical"`
	BusinessName string       `json:"business_name"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	ClientID     string       `json:"client_id,omitempty"`
	ClientName   string       `json:"client_name,omitempty"`
	Phone        string       `json:"phone,omitempty"`

	Turns       []Turn            `json:"turns"`
	Context     map[string]string `json:"context,omitempty"`
	Booking     BookingContext    `json:"booking"`
	Frustration []int             `json:"frustration,omitempty"`

	Outcome          Outcome `json:"outcome"`
	BookingID        string  `json:"booking_id,omitempty"`
	EscalationReason string  `json:"escalation_reason,omitempty"`

	TotalTurns     int   `json:"total_turns"`
	TotalLatencyMs int64 `json:"total_latency_ms"`
	LLMCalls       int   `json:"llm_calls"`

	// Dirty is set when the last local write failed.
	Dirty bool `json:"-"`
}

// AvgLatencyMs is the mean turn latency.
func (s *Session) AvgLatencyMs() float64 {
	if s.TotalTurns == 0 {
		return 0
	}
	return float64(s.TotalLatencyMs) / float64(s.TotalTurns)
}

// LastTurn returns the most recent turn or nil.
func (s *Session) LastTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// Expired reports whether the session outlived its deadline at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// Clone returns a deep copy safe to hand to readers outside the session lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		cp := *s
		return &cp
	}
	var out Session
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *s
		return &cp
	}
	out.Dirty = s.Dirty
	return &out
}

// ContextEnvelope is the encoded form of the session context column.
type ContextEnvelope struct {
	Values      map[string]string `json:"values,omitempty"`
	Booking     BookingContext    `json:"booking"`
	Frustration []int             `json:"frustration,omitempty"`
}

// EncodeContext serialises the mutable context parts of s.
func (s *Session) EncodeContext() ([]byte, error) {
	return json.Marshal(ContextEnvelope{
		Values:      s.Context,
		Booking:     s.Booking,
		Frustration: s.Frustration,
	})
}

// DecodeContext restores the context parts of s from raw.
func (s *Session) DecodeContext(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var env ContextEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	s.Context = env.Values
	s.Booking = env.Booking
	s.Frustration = env.Frustration
	return nil
}
