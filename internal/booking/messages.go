package booking

import (
	"github.com/fluxion/voice-agent/internal/vertical"
)

// Response keys. A vertical may override any of them in its responses map.
const (
	MsgAskName          = "ask_name"
	MsgAskSurname       = "ask_surname"
	MsgAskPhone         = "ask_phone"
	MsgConfirmPhone     = "confirm_phone"
	MsgRepeatPhone      = "repeat_phone"
	MsgAskService       = "ask_service"
	MsgAskDate          = "ask_date"
	MsgAskTime          = "ask_time"
	MsgProposeDays      = "propose_days"
	MsgProposeTimes     = "propose_times"
	MsgNoTimes          = "no_times"
	MsgSummary          = "booking_summary"
	MsgConfirmAgain     = "confirm_again"
	MsgBooked           = "booking_created"
	MsgRescheduled      = "booking_rescheduled"
	MsgCancelled        = "booking_cancelled"
	MsgReset            = "booking_reset"
	MsgWhatToCorrect    = "ask_correction"
	MsgCorrected        = "correction_ack"
	MsgWaitlistOffer    = "waitlist_offer"
	MsgWaitlistAdded    = "waitlist_added"
	MsgWaitlistVIP      = "waitlist_added_vip"
	MsgWelcomeBack      = "welcome_back"
	MsgRetry            = "bridge_retry"
	MsgEscalation       = "escalation"
	MsgSuggestDays      = "suggest_days"
	MsgAlternativeTimes = "alternative_times"
)

var defaultMessages = map[string]vertical.Template{
	MsgAskName:          "Per procedere, mi può dire il suo nome?",
	MsgAskSurname:       "Grazie {{name}}. Mi può dire il suo cognome?",
	MsgAskPhone:         "Mi lascia un numero di telefono, per favore?",
	MsgConfirmPhone:     "Ho capito bene: {{phone}}?",
	MsgRepeatPhone:      "Mi scusi, me lo può ripetere cifra per cifra?",
	MsgAskService:       "Quale servizio desidera? Offriamo {{services}}.",
	MsgAskDate:          "Per quale giorno desidera l'appuntamento?",
	MsgAskTime:          "A che ora preferisce?",
	MsgProposeDays:      "Abbiamo disponibilità {{days}}. Quale giorno preferisce?",
	MsgProposeTimes:     "Abbiamo posto alle {{times}}. Quale orario preferisce?",
	MsgNoTimes:          "Mi dispiace, in quella fascia non ci sono orari liberi.",
	MsgSummary:          "Perfetto, riepilogo: {{service}} {{when}} alle {{time}}{{operator}}. Confermo la prenotazione?",
	MsgConfirmAgain:     "Mi conferma la prenotazione? Mi basta un sì o un no.",
	MsgBooked:           "Fatto! La aspettiamo {{when}} alle {{time}} per {{service}}. Posso aiutarla in altro modo?",
	MsgRescheduled:      "Fatto, ho spostato l'appuntamento a {{when}} alle {{time}}. Posso aiutarla in altro modo?",
	MsgCancelled:        "Va bene, ho annullato la richiesta. Posso aiutarla in altro modo?",
	MsgReset:            "Va bene, ricominciamo.",
	MsgWhatToCorrect:    "Certo, cosa devo correggere?",
	MsgCorrected:        "Ho corretto {{slot}}: {{value}}.",
	MsgWaitlistOffer:    "Se preferisce, posso inserirla in lista d'attesa.",
	MsgWaitlistAdded:    "L'ho inserita in lista d'attesa. La avviseremo appena si libera un posto.",
	MsgWaitlistVIP:      "L'ho inserita in lista d'attesa con priorità VIP.",
	MsgWelcomeBack:      "Bentornato {{name}}!",
	MsgRetry:            "Mi scusi, un momento, riprovo.",
	MsgEscalation:       "Mi dispiace per il disagio. La metto subito in contatto con un operatore.",
	MsgSuggestDays:      "Posso proporle {{days}}.",
	MsgAlternativeTimes: "Posso proporle le {{times}}.",
}

// slotLabels name slots in correction acknowledgements.
var slotLabels = map[string]string{
	"name":     "il nome",
	"surname":  "il cognome",
	"phone":    "il numero",
	"service":  "il servizio",
	"date":     "la data",
	"time":     "l'orario",
	"operator": "l'operatore",
}
