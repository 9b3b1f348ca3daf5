package domain

import (
	"fmt"
	"strings"
)

// BookingState is the tagged state of the booking dialog.
type BookingState int

const (
	StateIdle BookingState = iota
	StateWaitingName
	StateDisambiguatingName
	StateRegisteringSurname
	StateRegisteringPhone
	StateConfirmingPhone
	StateWaitingService
	StateWaitingDate
	StateWaitingTime
	StateCorrecting
	StateConfirming
	StateCompleted
	StateCancelled
)

var bookingStateNames = [...]string{
	StateIdle:               "IDLE",
	StateWaitingName:        "WAITING_NAME",
	StateDisambiguatingName: "DISAMBIGUATING_NAME",
	StateRegisteringSurname: "REGISTERING_SURNAME",
	StateRegisteringPhone:   "REGISTERING_PHONE",
	StateConfirmingPhone:    "CONFIRMING_PHONE",
	StateWaitingService:     "WAITING_SERVICE",
	StateWaitingDate:        "WAITING_DATE",
	StateWaitingTime:        "WAITING_TIME",
	StateCorrecting:         "CORRECTING",
	StateConfirming:         "CONFIRMING",
	StateCompleted:          "COMPLETED",
	StateCancelled:          "CANCELLED",
}

func (s BookingState) String() string {
	if s < 0 || int(s) >= len(bookingStateNames) {
		return fmt.Sprintf("BookingState(%d)", int(s))
	}
	return bookingStateNames[s]
}

// MarshalText encodes the state by name.
func (s BookingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *BookingState) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	if name == "" {
		*s = StateIdle
		return nil
	}
	for i, n := range bookingStateNames {
		if n == name {
			*s = BookingState(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown booking state %q", string(text))
}

// InProgress reports whether a booking dialog is mid-collection.
func (s BookingState) InProgress() bool {
	switch s {
	case StateIdle, StateCompleted, StateCancelled:
		return false
	}
	return true
}

// Candidate is a customer record the caller might be.
type Candidate struct {
	ID        string `json:"id"`
	Name      string `json:"nome"`
	Surname   string `json:"cognome"`
	Phone     string `json:"telefono,omitempty"`
	BirthDate string `json:"data_nascita,omitempty"`
	VIP       bool   `json:"vip,omitempty"`
}

// DisplayName is the stored "Nome Cognome" form.
func (c Candidate) DisplayName() string {
	return strings.TrimSpace(c.Name + " " + c.Surname)
}

// Awaiting values for the disambiguation probe.
const (
	AwaitingDOB   = "dob"
	AwaitingPhone = "phone"
)

// DisambiguationState is the sub-dialog state kept inline in the session.
type DisambiguationState struct {
	SpokenName string      `json:"spoken_name,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Attempts   int         `json:"attempts"`
	Awaiting   string      `json:"awaiting,omitempty"`
}

// Active reports whether a disambiguation is in progress.
func (d DisambiguationState) Active() bool {
	return len(d.Candidates) > 0
}

// BookingContext is the mutable slot set owned by the booking dialog.
type BookingContext struct {
	State BookingState `json:"state"`

	ClientID      string `json:"client_id,omitempty"`
	ClientName    string `json:"client_name,omitempty"`
	ClientSurname string `json:"client_surname,omitempty"`
	ClientPhone   string `json:"client_phone,omitempty"`
	ClientVIP     bool   `json:"client_vip,omitempty"`
	IsNewClient   bool   `json:"is_new_client,omitempty"`

	Service            string `json:"service,omitempty"`
	Date               string `json:"date,omitempty"`
	Time               string `json:"time,omitempty"`
	OperatorID         string `json:"operator_id,omitempty"`
	OperatorName       string `json:"operator_name,omitempty"`
	OperatorPreference string `json:"operator_preference,omitempty"`
	Notes              string `json:"notes,omitempty"`

	Disambiguation  DisambiguationState `json:"disambiguation"`
	CorrectionHints map[string]string   `json:"correction_hints,omitempty"`

	PendingAction   string `json:"pending_action,omitempty"`
	Reschedule      bool   `json:"reschedule,omitempty"`
	WaitlistOffered bool   `json:"waitlist_offered,omitempty"`
	BridgeFailures  int    `json:"bridge_failures,omitempty"`
}

// Identified reports whether the caller is bound to a customer record.
func (b *BookingContext) Identified() bool {
	return b.ClientID != ""
}

// FullName joins given name and surname.
func (b *BookingContext) FullName() string {
	return strings.TrimSpace(b.ClientName + " " + b.ClientSurname)
}

// ClearAppointment drops service, date, time, operator and hints.
func (b *BookingContext) ClearAppointment() {
	b.Service = ""
	b.Date = ""
	b.Time = ""
	b.OperatorID = ""
	b.OperatorName = ""
	b.OperatorPreference = ""
	b.Notes = ""
	b.CorrectionHints = nil
	b.WaitlistOffered = false
	b.Reschedule = false
}

// SetHint records a soft constraint for a slot.
func (b *BookingContext) SetHint(slot, value string) {
	if b.CorrectionHints == nil {
		b.CorrectionHints = make(map[string]string)
	}
	b.CorrectionHints[slot] = value
}
