// Package booking drives the booking dialog: a tagged state machine that
// collects customer identity, service, date and time, applies corrections,
// and confirms, cancels, reschedules or waitlists through the business
// backend.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/fluxion/voice-agent/internal/availability"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
)

// Waitlist priorities as the backend expects them.
const (
	PriorityVIP    = "vip"
	PriorityNormal = "normale"
)

// NewCustomer is the registration payload for a first-time caller.
type NewCustomer struct {
	Name      string
	Surname   string
	Phone     string
	BirthDate string
}

// AppointmentRequest asks the backend to book a slot.
type AppointmentRequest struct {
	ClientID   string `json:"cliente_id"`
	Service    string `json:"servizio"`
	Date       string `json:"data"`
	Time       string `json:"ora"`
	OperatorID string `json:"operatore_id,omitempty"`
}

// AppointmentResult is the backend's answer to AppointmentRequest.
type AppointmentResult struct {
	ID      string
	Message string
}

// WaitlistRequest adds a customer to the waiting list.
type WaitlistRequest struct {
	ClientID          string `json:"cliente_id"`
	Service           string `json:"servizio"`
	PreferredDate     string `json:"data_preferita,omitempty"`
	PreferredTime     string `json:"ora_preferita,omitempty"`
	PreferredOperator string `json:"operatore_preferito,omitempty"`
	Priority          string `json:"priorita"`
}

// Backend is the business system holding customers, operators,
// appointments and the waitlist.
type Backend interface {
	// SearchCustomers looks customers up by name, optionally narrowed by
	// birth date.
	SearchCustomers(ctx context.Context, query, birthDate string) ([]domain.Candidate, error)
	CreateCustomer(ctx context.Context, c NewCustomer) (domain.Candidate, error)
	Operators(ctx context.Context) ([]entities.Operator, error)
	CreateAppointment(ctx context.Context, req AppointmentRequest) (AppointmentResult, error)
	// AddToWaitlist returns the waitlist entry id.
	AddToWaitlist(ctx context.Context, req WaitlistRequest) (string, error)
}

// Availability is the slot checker the dialog consults.
type Availability interface {
	CheckDate(ctx context.Context, date, service, operatorID string) (availability.DayResult, error)
	CheckSlot(ctx context.Context, date, hhmm, service, operatorID string) (availability.SlotResult, error)
	CheckWeek(ctx context.Context, weekOffset int, service, operatorID string, ref time.Time) (availability.WeekResult, error)
}

// transient is implemented by backend errors that know whether a retry
// could succeed.
type transient interface {
	Transient() bool
}

// IsPermanent reports whether err is a backend failure that will not go
// away on retry, such as a rejected request.
func IsPermanent(err error) bool {
	var t transient
	if errors.As(err, &t) {
		return !t.Transient()
	}
	return false
}
