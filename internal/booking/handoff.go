package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/fluxion/voice-agent/internal/domain"
)

// handoffUtterances is how many recent caller turns travel with a handoff.
const handoffUtterances = 3

// Handoff is what a human operator receives when a call is escalated: the
// caller, what they were booking and why the agent gave up.
type Handoff struct {
	SessionID      string    `json:"session_id"`
	BusinessName   string    `json:"business_name"`
	ClientName     string    `json:"client_name,omitempty"`
	ClientPhone    string    `json:"client_phone,omitempty"`
	Service        string    `json:"service,omitempty"`
	Date           string    `json:"date,omitempty"`
	Time           string    `json:"time,omitempty"`
	Operator       string    `json:"operator,omitempty"`
	Reason         string    `json:"reason"`
	LastUtterances []string  `json:"last_utterances,omitempty"`
	CollectedAt    time.Time `json:"collected_at"`
}

// NewHandoff snapshots the session for an operator.
func NewHandoff(s *domain.Session, reason string, now time.Time) Handoff {
	b := s.Booking
	h := Handoff{
		SessionID:    s.ID,
		BusinessName: s.BusinessName,
		ClientName:   b.FullName(),
		ClientPhone:  b.ClientPhone,
		Service:      b.Service,
		Date:         b.Date,
		Time:         b.Time,
		Operator:     b.OperatorName,
		Reason:       reason,
		CollectedAt:  now,
	}
	if h.ClientName == "" {
		h.ClientName = s.ClientName
	}
	if h.ClientPhone == "" {
		h.ClientPhone = s.Phone
	}
	start := len(s.Turns) - handoffUtterances
	if start < 0 {
		start = 0
	}
	for _, t := range s.Turns[start:] {
		h.LastUtterances = append(h.LastUtterances, t.UserInput)
	}
	return h
}

// FormatHandoff renders the handoff as a plain-text Italian summary.
func FormatHandoff(h Handoff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chiamata trasferita (%s)\n", valueOrND(h.Reason))
	fmt.Fprintf(&b, "Cliente: %s\n", valueOrND(h.ClientName))
	fmt.Fprintf(&b, "Telefono: %s\n", valueOrND(h.ClientPhone))
	fmt.Fprintf(&b, "Servizio: %s\n", valueOrND(h.Service))

	when := strings.TrimSpace(h.Date + " " + h.Time)
	if when != "" {
		fmt.Fprintf(&b, "Quando: %s\n", when)
	}
	if h.Operator != "" {
		fmt.Fprintf(&b, "Operatore: %s\n", h.Operator)
	}
	if len(h.LastUtterances) > 0 {
		b.WriteString("Ultime frasi:\n")
		for _, u := range h.LastUtterances {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}
	fmt.Fprintf(&b, "Sessione: %s, %s\n", h.SessionID, h.CollectedAt.Format(time.RFC3339))
	return b.String()
}

func valueOrND(s string) string {
	if strings.TrimSpace(s) == "" {
		return "n/d"
	}
	return s
}
