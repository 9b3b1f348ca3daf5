package domain

import "time"

// Layer is the pipeline tier that produced a response.
type Layer string

const (
	LayerSentiment Layer = "L0"
	LayerExact     Layer = "L1"
	LayerIntent    Layer = "L2"
	LayerFAQ       Layer = "L3"
	LayerLLM       Layer = "L4"
)

// Sentiment is the coarse polarity of a user utterance.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Intent is the category a turn was classified into.
type Intent string

const (
	IntentGreeting           Intent = "GREETING"
	IntentFarewell           Intent = "FAREWELL"
	IntentConfirmation       Intent = "CONFIRMATION"
	IntentRejection          Intent = "REJECTION"
	IntentBooking            Intent = "BOOKING"
	IntentCancellation       Intent = "CANCELLATION"
	IntentReschedule         Intent = "RESCHEDULE"
	IntentInfo               Intent = "INFO"
	IntentPrice              Intent = "PRICE"
	IntentHours              Intent = "HOURS"
	IntentServices           Intent = "SERVICES"
	IntentWaitlist           Intent = "WAITLIST"
	IntentOperatorEscalation Intent = "OPERATOR_ESCALATION"
	IntentUnknown            Intent = "UNKNOWN"
)

// BookingFamily reports whether the intent drives the booking state machine.
func (i Intent) BookingFamily() bool {
	switch i {
	case IntentBooking, IntentCancellation, IntentReschedule, IntentWaitlist:
		return true
	}
	return false
}

// BookingAction names the side effect a turn produced.
type BookingAction string

const (
	ActionNone               BookingAction = ""
	ActionBookingCreated     BookingAction = "booking_created"
	ActionBookingRescheduled BookingAction = "booking_rescheduled"
	ActionBookingCancelled   BookingAction = "booking_cancelled"
	ActionWaitlistAdded      BookingAction = "waitlist_added"
)

// Turn is one user utterance and the agent's reply. Turns are append-only.
type Turn struct {
	ID               string            `json:"id"`
	Number           int               `json:"turn_number"`
	Timestamp        time.Time         `json:"timestamp"`
	UserInput        string            `json:"user_input"`
	Intent           Intent            `json:"detected_intent"`
	IntentConfidence float64           `json:"intent_confidence"`
	Response         string            `json:"response"`
	LatencyMs        int64             `json:"latency_ms"`
	Layer            Layer             `json:"layer_used"`
	Sentiment        Sentiment         `json:"sentiment"`
	FrustrationLevel int               `json:"frustration_level"`
	UsedLLM          bool              `json:"used_llm"`
	Escalated        bool              `json:"escalated"`
	BookingAction    BookingAction     `json:"booking_action,omitempty"`
	Entities         map[string]string `json:"extracted_entities,omitempty"`
}
