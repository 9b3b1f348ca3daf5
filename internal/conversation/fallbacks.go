package conversation

import "github.com/fluxion/voice-agent/internal/domain"

// Canned L4 answers used when the LLM is unavailable. A vertical may
// override them through its responses map.
const (
	HintBooking = "booking_hint"
	HintInfo    = "info_hint"
	HintGeneric = "generic_hint"
)

var cannedFallbacks = map[string]string{
	HintBooking: "Posso aiutarla a prenotare un appuntamento. Quale servizio desidera?",
	HintInfo:    "Per questa informazione la posso mettere in contatto con un operatore. Posso aiutarla in altro modo?",
	HintGeneric: "Mi scusi, non ho capito bene. Può ripetere in altre parole?",
}

// fallbackKey picks the canned answer for the detected intent.
func fallbackKey(i domain.Intent, bookingActive bool) string {
	switch {
	case bookingActive || i.BookingFamily():
		return HintBooking
	case i == domain.IntentInfo, i == domain.IntentPrice, i == domain.IntentHours, i == domain.IntentServices:
		return HintInfo
	}
	return HintGeneric
}
