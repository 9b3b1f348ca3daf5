// Package intent classifies a user turn into the small intent set the
// pipeline routes on. Classification runs in two phases: an O(1) lookup of
// cortesia phrases with canned answers, then regex families and the
// vertical's example utterances.
package intent

import (
	"regexp"
	"strings"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/italian"
)

// MinExampleOverlap is the token Jaccard score an utterance needs against a
// vertical example to adopt that example's intent.
const MinExampleOverlap = 0.6

// Result is the classifier verdict for one utterance. Response is set only
// for exact phrases that carry a canned answer.
type Result struct {
	Intent     domain.Intent
	Confidence float64
	Response   string
	Category   Category
	Source     string
}

// HasResponse reports whether the result can be answered directly.
func (r Result) HasResponse() bool { return r.Response != "" }

// Example is one vertical utterance tagged with the intent it stands for.
type Example struct {
	Intent domain.Intent
	Text   string
}

type family struct {
	intent     domain.Intent
	confidence float64
	match      func(folded string) bool
}

func regexFamily(i domain.Intent, conf float64, re *regexp.Regexp) family {
	return family{intent: i, confidence: conf, match: re.MatchString}
}

var (
	cancellationRe = regexp.MustCompile(`\b(?:disdire|disdetta|disdico|(?:annullare|cancellare|annulla|cancella|togliere)\s+(?:l'|il\s+|la\s+|mio\s+|mia\s+)*(?:appuntamento|prenotazione)|non\s+(?:posso|riesco)\s+(?:piu\s+)?(?:venire|esserci))\b`)
	rescheduleRe   = regexp.MustCompile(`\b(?:spostare|spostarlo|spostarla|sposta|rimandare|anticipare|posticipare|riprogrammare|(?:cambiare|modificare)\s+(?:l'|il\s+|la\s+)?(?:appuntamento|prenotazione|orario|giorno|data))\b`)
	waitlistRe     = regexp.MustCompile(`\b(?:lista\s+d'\s*attesa|lista\s+di\s+attesa|lista\s+d\s+attesa|se\s+si\s+libera|avvisatemi|mi\s+avvis[ia]|in\s+coda)\b`)
	bookingRe      = regexp.MustCompile(`\b(?:prenot\w*|appuntamento|fissare|riservare|vorrei\s+venire|posso\s+venire|avete\s+posto|c'e\s+posto|un\s+tavolo|disponibilita\s+per)\b`)
	wantRe         = regexp.MustCompile(`\b(?:vorrei|voglio|volevo|devo)\s+(?:fare\s+)?(?:un|una|il|la|lo|l')\s*(\w+)`)
	priceRe        = regexp.MustCompile(`\b(?:quanto\s+(?:costa|costano|viene|vengono|si\s+paga)|prezz\w*|costo|costi|tariff\w*|listino)\b`)
	hoursRe        = regexp.MustCompile(`\b(?:orari\w*|a\s+che\s+ora\s+(?:aprite|chiudete)|quando\s+(?:aprite|chiudete|siete\s+aperti)|siete\s+aperti|siete\s+chiusi|apertura|chiusura)\b`)
	servicesRe     = regexp.MustCompile(`\b(?:che\s+servizi|quali\s+servizi|servizi|trattamenti|cosa\s+fate|cosa\s+offrite)\b`)
	infoRe         = regexp.MustCompile(`\b(?:informazion\w*|dove\s+(?:siete|vi\s+trovo|vi\s+trovate|si\s+trova)|indirizzo|parcheggio|come\s+(?:arrivo|si\s+arriva)|pagamento|pagare|bancomat|carta\s+di\s+credito)\b`)
	farewellRe     = regexp.MustCompile(`\b(?:arrivederci|buona\s+giornata|buona\s+serata|a\s+presto|ci\s+sentiamo|addio)\b`)
	greetingRe     = regexp.MustCompile(`^(?:buongiorno|buon\s+giorno|buonasera|buona\s+sera|buon\s+pomeriggio|salve|ciao|pronto)\b`)
)

// Families in priority order: the first match wins.
var families = []family{
	{domain.IntentOperatorEscalation, 0.95, func(f string) bool { return italian.IsEscalation(f) }},
	regexFamily(domain.IntentCancellation, 0.9, cancellationRe),
	regexFamily(domain.IntentReschedule, 0.9, rescheduleRe),
	regexFamily(domain.IntentWaitlist, 0.9, waitlistRe),
	{domain.IntentBooking, 0.85, matchBooking},
	regexFamily(domain.IntentPrice, 0.85, priceRe),
	regexFamily(domain.IntentHours, 0.85, hoursRe),
	regexFamily(domain.IntentServices, 0.8, servicesRe),
	regexFamily(domain.IntentInfo, 0.75, infoRe),
	regexFamily(domain.IntentFarewell, 0.9, farewellRe),
	regexFamily(domain.IntentGreeting, 0.8, greetingRe),
	{domain.IntentConfirmation, 0.9, italian.IsConferma},
	{domain.IntentRejection, 0.85, italian.IsRifiuto},
}

// matchBooking accepts explicit booking verbs, or "vorrei un X" unless X
// is an information request.
func matchBooking(folded string) bool {
	if bookingRe.MatchString(folded) {
		return true
	}
	m := wantRe.FindStringSubmatch(folded)
	return m != nil && !strings.HasPrefix(m[1], "informazion")
}

// ExactMatch looks the normalized utterance up in the cortesia phrase map.
// Fillers are tried both kept and stripped so "ehm, buongiorno" still hits.
func ExactMatch(text string) (Result, bool) {
	for _, candidate := range []string{text, italian.StripFillers(text)} {
		key := italian.NormalizePhrase(candidate)
		if key == "" {
			continue
		}
		if p, ok := exactPhrases[key]; ok {
			return Result{
				Intent:     p.intent,
				Confidence: 1,
				Response:   p.response,
				Category:   p.category,
				Source:     "exact",
			}, true
		}
	}
	return Result{}, false
}

// MatchPattern runs the regex families and then the vertical examples.
// UNKNOWN with confidence 0 is returned when nothing matches.
func MatchPattern(text string, examples []Example) Result {
	folded := italian.Normalize(italian.StripFillers(text))
	if folded == "" {
		return Result{Intent: domain.IntentUnknown}
	}
	for _, f := range families {
		if f.match(folded) {
			return Result{Intent: f.intent, Confidence: f.confidence, Source: "pattern"}
		}
	}
	if best, score := bestExample(folded, examples); score >= MinExampleOverlap {
		return Result{Intent: best, Confidence: round2(score), Source: "example"}
	}
	return Result{Intent: domain.IntentUnknown}
}

// Classify runs both phases.
func Classify(text string, examples []Example) Result {
	if r, ok := ExactMatch(text); ok {
		return r
	}
	return MatchPattern(text, examples)
}

func bestExample(folded string, examples []Example) (domain.Intent, float64) {
	words := tokenSet(folded)
	if len(words) == 0 {
		return domain.IntentUnknown, 0
	}
	best, bestScore := domain.IntentUnknown, 0.0
	for _, ex := range examples {
		score := jaccard(words, tokenSet(italian.Normalize(ex.Text)))
		if score > bestScore {
			best, bestScore = ex.Intent, score
		}
	}
	return best, bestScore
}

func tokenSet(folded string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(folded) {
		w = strings.Trim(w, ".,;:!?'")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
