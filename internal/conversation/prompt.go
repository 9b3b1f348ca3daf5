package conversation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/vertical"
)

// HistoryWindow is the number of previous turns sent to the LLM.
const HistoryWindow = 6

const voiceSystemPrompt = `Sei Sara, l'assistente telefonica di {business}. Parli con un cliente al telefono: ti ascolta, non legge.

REGOLE DI RISPOSTA:
1. Rispondi in italiano, con una o due frasi brevi, dando del Lei.
2. Linguaggio parlato: niente elenchi, emoji, markdown o indirizzi web.
3. Non inventare orari, prezzi o disponibilità che non trovi qui sotto. Se non sai, proponi di passare a un operatore.
4. Non confermare mai una prenotazione: le prenotazioni le gestisce il sistema. Se il cliente vuole prenotare, chiedi quale servizio desidera.
5. Non dire mai di essere un'intelligenza artificiale.`

// buildSystemPrompt describes the business to the LLM from the vertical
// config: services, variables and the FAQ answers it may draw on.
func buildSystemPrompt(cfg *vertical.Config, s *domain.Session) []string {
	business := s.BusinessName
	if business == "" && cfg != nil {
		business = cfg.DisplayName
	}
	blocks := []string{strings.ReplaceAll(voiceSystemPrompt, "{business}", business)}
	if cfg == nil {
		return blocks
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ATTIVITÀ: %s (%s).", cfg.DisplayName, cfg.Description)
	if names := cfg.ServiceTerms(); len(names) > 0 {
		b.WriteString("\nSERVIZI:")
		keys := make([]string, 0, len(cfg.Services))
		for k := range cfg.Services {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			svc := cfg.Services[k]
			line := "\n- " + cfg.ServiceName(k)
			if svc.Price != "" {
				line += ", " + svc.Price
			}
			if svc.DurationMinutes > 0 {
				line += fmt.Sprintf(", %d minuti", svc.DurationMinutes)
			}
			b.WriteString(line)
		}
	}
	if len(cfg.Variables) > 0 {
		b.WriteString("\nINFORMAZIONI:")
		keys := make([]string, 0, len(cfg.Variables))
		for k := range cfg.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", strings.ToLower(strings.ReplaceAll(k, "_", " ")), cfg.Variables[k])
		}
	}
	blocks = append(blocks, b.String())

	if bc := s.Booking; bc.State.InProgress() {
		blocks = append(blocks, fmt.Sprintf("PRENOTAZIONE IN CORSO: stato %s, servizio %q, data %q, ora %q.",
			bc.State.String(), bc.Service, bc.Date, bc.Time))
	}
	return blocks
}

// buildMessages turns the last HistoryWindow turns plus the current
// utterance into chat messages.
func buildMessages(s *domain.Session, text string) []ChatMessage {
	start := len(s.Turns) - HistoryWindow
	if start < 0 {
		start = 0
	}
	msgs := make([]ChatMessage, 0, 2*(len(s.Turns)-start)+1)
	for _, t := range s.Turns[start:] {
		msgs = append(msgs,
			ChatMessage{Role: ChatRoleUser, Content: t.UserInput},
			ChatMessage{Role: ChatRoleAssistant, Content: t.Response},
		)
	}
	return append(msgs, ChatMessage{Role: ChatRoleUser, Content: text})
}
