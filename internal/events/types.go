package events

import "github.com/fluxion/voice-agent/internal/booking"

// Event type names.
const (
	TypeBookingCreated     = "booking.created.v1"
	TypeBookingRescheduled = "booking.rescheduled.v1"
	TypeBookingCancelled   = "booking.cancelled.v1"
	TypeWaitlistAdded      = "waitlist.added.v1"
	TypeSessionEscalated   = "session.escalated.v1"
)

// BookingCreatedV1 is consumed by the reminder scheduler.
type BookingCreatedV1 struct {
	BookingID   string `json:"booking_id"`
	Vertical    string `json:"vertical"`
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name,omitempty"`
	ClientPhone string `json:"client_phone,omitempty"`
	Service     string `json:"service"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	OperatorID  string `json:"operator_id,omitempty"`
	NewClient   bool   `json:"new_client,omitempty"`
}

func (BookingCreatedV1) EventType() string { return TypeBookingCreated }

// BookingRescheduledV1 carries the replacement appointment.
type BookingRescheduledV1 struct {
	BookingCreatedV1
}

func (BookingRescheduledV1) EventType() string { return TypeBookingRescheduled }

// BookingCancelledV1 is emitted when the caller abandons or cancels a
// booking through the dialog.
type BookingCancelledV1 struct {
	Vertical string `json:"vertical"`
	ClientID string `json:"client_id,omitempty"`
	Service  string `json:"service,omitempty"`
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
}

func (BookingCancelledV1) EventType() string { return TypeBookingCancelled }

// WaitlistAddedV1 reports a new waitlist entry.
type WaitlistAddedV1 struct {
	WaitlistID    string `json:"waitlist_id"`
	Vertical      string `json:"vertical"`
	ClientID      string `json:"client_id"`
	Service       string `json:"service"`
	PreferredDate string `json:"preferred_date,omitempty"`
	PreferredTime string `json:"preferred_time,omitempty"`
	Priority      string `json:"priority"`
}

func (WaitlistAddedV1) EventType() string { return TypeWaitlistAdded }

// SessionEscalatedV1 hands the call summary to a human operator.
type SessionEscalatedV1 struct {
	Reason  string          `json:"reason"`
	Handoff booking.Handoff `json:"handoff"`
	Summary string          `json:"summary"`
}

func (SessionEscalatedV1) EventType() string { return TypeSessionEscalated }
