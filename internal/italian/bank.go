package italian

import (
	"regexp"
	"strings"
)

// Correction is the granularity of a user correction.
type Correction int

const (
	CorrectionNone Correction = iota
	CorrectionSoft
	CorrectionHard
	CorrectionReset
)

func (c Correction) String() string {
	switch c {
	case CorrectionSoft:
		return "SOFT"
	case CorrectionHard:
		return "HARD"
	case CorrectionReset:
		return "RESET"
	default:
		return "NONE"
	}
}

// Patterns below run on folded text unless noted.
var (
	confirmStartRe = regexp.MustCompile(`^\s*(?:si+|certo|certamente|ok|okay|okei|va bene|perfetto|d'accordo|daccordo|assolutamente|esatto|esattamente|giusto|procediamo|proceda|confermo|conferma|confermato|andata|prenota|benissimo|corretto|yes)\b`)
	confirmAnyRe   = regexp.MustCompile(`\b(?:confermo|procediamo|va benissimo|va bene cosi|d'accordo|e corretto|e giusto|tutto giusto|si confermo|prenota pure|proceda pure)\b`)

	rejectStartRe = regexp.MustCompile(`^\s*(?:no+|nope|negativo)\b`)
	rejectAnyRe   = regexp.MustCompile(`\b(?:non voglio|annulla|annullare|lascia stare|lasciamo stare|lasci stare|niente|cambio idea|ho cambiato idea|non mi va|non serve|non fa niente)\b`)

	escalationRe = regexp.MustCompile(`\b(?:operatore|persona vera|persona reale|essere umano|umano|umana|parlare con qualcuno|parlare con una persona|passami|mi passi|passatemi|basta con (?:il|sto|questo) robot|un responsabile)\b`)

	// Run on the original text.
	staffTitleRe = regexp.MustCompile(`(?i)\boperat(?:ore|rice)\s+([\p{L}']+)`)

	resetRe    = regexp.MustCompile(`\b(?:ricominciamo|ricominciare|ricomincia|da capo|daccapo|annulla tutto|cancella tutto|azzera tutto|resettiamo)\b`)
	hardWordRe = regexp.MustCompile(`\b(?:ho detto|intendevo|volevo dire|ho sbagliato|mi sono sbagliat[oa]|correggo|correzione|anzi)\b`)
	hardSlotRe = regexp.MustCompile(`^no\b[\s,.!]*(?:il|la|lo|l'|e|era)?\s*(?:mio\s+|mia\s+)?(?:nome|cognome|numero|telefono|cellulare|data|giorno|ora|orario|servizio|operatore)\b`)
	hardWrong  = regexp.MustCompile(`\b(?:nome|cognome|numero|telefono|data|giorno|ora|orario|servizio)\s+(?:e|era)\s+sbagliat[oa]\b`)
	hardDigits = regexp.MustCompile(`(?:\bnon\s+(?:alle\s+|le\s+|il\s+)?\d{1,2}(?:[:.]\d{2})?\s*,\s*(?:ma\s+)?(?:alle\s+|le\s+|il\s+)?\d)|(?:\d{1,2}(?:[:.]\d{2})?\s*,?\s*non\s+(?:alle\s+|le\s+|il\s+)?\d)`)
	hardDays   = regexp.MustCompile(`\b(?:lunedi|martedi|mercoledi|giovedi|venerdi|sabato|domenica|oggi|domani|dopodomani)\s*,?\s*non\s+(?:lunedi|martedi|mercoledi|giovedi|venerdi|sabato|domenica|oggi|domani|dopodomani)\b|\bnon\s+(?:lunedi|martedi|mercoledi|giovedi|venerdi|sabato|domenica|oggi|domani|dopodomani)\s*,\s*(?:ma\s+)?(?:lunedi|martedi|mercoledi|giovedi|venerdi|sabato|domenica|oggi|domani|dopodomani)\b`)
	softRe     = regexp.MustCompile(`\b(?:meglio|preferirei|preferisco|piuttosto|magari|se possibile|se si puo|sarebbe meglio|andrebbe meglio|mi andrebbe)\b`)

	// Run on the original text: proper nouns keep their capital letter.
	hardNamePairRe = regexp.MustCompile(`(?:\bnon\s+\p{Lu}[\p{L}']*\s*,\s*(?:ma\s+)?\p{Lu}[\p{L}']*)|(?:\p{Lu}[\p{L}']*\s*,?\s*non\s+\p{Lu}[\p{L}']*)`)

	ambiguousDateRe = regexp.MustCompile(`\b(?:settimana prossima|prossima settimana|la settimana che viene|un giorno qualsiasi|un giorno qualunque|qualsiasi giorno|quando capita|quando volete|quando vuole|quando c'e posto|quando avete posto|il prima possibile|appena possibile|questa settimana|in settimana)\b|^\s*(?:la\s+)?prossima\s*[.!?]*\s*$`)
	nextWeekRe      = regexp.MustCompile(`\b(?:settimana prossima|prossima settimana|settimana che viene)\b|^\s*(?:la\s+)?prossima\s*[.!?]*\s*$`)

	slotKeywords = []struct {
		slot string
		re   *regexp.Regexp
	}{
		{"surname", regexp.MustCompile(`\bcognome\b`)},
		{"name", regexp.MustCompile(`\bnome\b`)},
		{"phone", regexp.MustCompile(`\b(?:numero|telefono|cellulare)\b`)},
		{"service", regexp.MustCompile(`\b(?:servizio|trattamento)\b`)},
		{"date", regexp.MustCompile(`\b(?:data|giorno)\b`)},
		{"time", regexp.MustCompile(`\b(?:ora|orario)\b`)},
		{"operator", regexp.MustCompile(`\b(?:operatore|operatrice)\b`)},
	}
)

// IsConferma matches Italian affirmations, including STT spellings of "sì".
func IsConferma(text string) bool {
	f := Fold(StripFillers(text))
	if rejectStartRe.MatchString(f) || hasNegatedVerb(f) {
		return false
	}
	return confirmStartRe.MatchString(f) || confirmAnyRe.MatchString(f)
}

// IsRifiuto matches negations and withdrawals.
func IsRifiuto(text string) bool {
	f := Fold(text)
	return rejectStartRe.MatchString(f) || rejectAnyRe.MatchString(f)
}

// IsEscalation matches explicit requests for a human.
func IsEscalation(text string) bool {
	return escalationRe.MatchString(Fold(text))
}

// DropStaffTitle removes "operatore" or "operatrice" where it introduces
// one of the staff names, so "con l'operatore Marco" reads as a staff
// preference and not as a request for a human.
func DropStaffTitle(text string, staff []string) string {
	if len(staff) == 0 {
		return text
	}
	known := make(map[string]struct{}, len(staff))
	for _, name := range staff {
		if f := Fold(strings.TrimSpace(name)); f != "" {
			known[f] = struct{}{}
		}
	}
	return staffTitleRe.ReplaceAllStringFunc(text, func(m string) string {
		name := staffTitleRe.FindStringSubmatch(m)[1]
		if _, ok := known[Fold(name)]; !ok {
			return m
		}
		return name
	})
}

// IsAmbiguousDate matches underspecified date references.
func IsAmbiguousDate(text string) bool {
	return ambiguousDateRe.MatchString(Fold(StripFillers(text)))
}

// AmbiguousWeekOffset returns 1 for "settimana prossima" style references
// and 0 otherwise.
func AmbiguousWeekOffset(text string) int {
	if nextWeekRe.MatchString(Fold(StripFillers(text))) {
		return 1
	}
	return 0
}

// DetectCorrection classifies how the user is correcting earlier input.
func DetectCorrection(text string) Correction {
	stripped := StripFillers(text)
	f := Fold(stripped)
	switch {
	case resetRe.MatchString(f):
		return CorrectionReset
	case hardWordRe.MatchString(f), hardSlotRe.MatchString(f), hardWrong.MatchString(f),
		hardDigits.MatchString(f), hardDays.MatchString(f), hardNamePairRe.MatchString(stripped):
		return CorrectionHard
	case softRe.MatchString(f):
		return CorrectionSoft
	}
	return CorrectionNone
}

// CorrectionSlot names the slot a correction explicitly refers to
// ("il cognome è Neri" refers to surname). Empty when none is named.
func CorrectionSlot(text string) string {
	f := Fold(text)
	for _, kw := range slotKeywords {
		if kw.re.MatchString(f) {
			return kw.slot
		}
	}
	return ""
}

var negatedVerbRe = regexp.MustCompile(`\bnon\s+(?:va|e|mi|confermo|voglio)\b`)

func hasNegatedVerb(folded string) bool {
	return negatedVerbRe.MatchString(folded)
}
