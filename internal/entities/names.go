package entities

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/fluxion/voice-agent/internal/italian"
)

// NameResult is an extracted person name.
type NameResult struct {
	Name       string
	Surname    string
	Confidence float64
	Phrase     string
}

var (
	nameIntroRe = regexp.MustCompile(`(?i)\b(mi chiamo|il mio nome (?:è|e'|e)|il nome (?:è|e'|e)|nome|sono|qui (?:è|e'|e)|parla|chiamo)\s+([\p{L}']+)(?:\s+([\p{L}']+))?(?:\s+([\p{L}']+))?`)
	surnameRe   = regexp.MustCompile(`(?i)\b(?:il\s+)?(?:mio\s+)?cognome\s+(?:(?:è|e'|e|era)\s+)?([\p{L}']+)(?:\s+([\p{L}']+))?`)
	wordRe      = regexp.MustCompile(`^[\p{L}']+$`)
)

var nameStopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`io qui qua a al alla allo ai agli di da dal dalla in un una uno il lo la le gli i
		nato nata stato stata gia sempre ancora interessato interessata disponibile libero libera cliente clienti
		nuovo nuova contento contenta d'accordo sicuro sicura pronto pronta appena molto tanto curioso curiosa
		arrivato arrivata venuto venuta ehi senti vedi fatto aspetta ok okay si no grazie buongiorno buonasera salve
		ciao per che e ma con anche stanco stanca spiacente quello quella tornato tornata passato passata
		qua lei lui noi voi loro mio mia suo sua vostro nostro solo sola costretto costretta in ritardo ritardo
		chiamato chiamata prenotato prenotata vorrei volevo devo posso vuole vorremmo ho abbiamo sarei
		prenotare prenotazione appuntamento taglio piega colore domani oggi dopodomani alle ore
		lunedi martedi mercoledi giovedi venerdi sabato domenica signore signora signorina dottore dottoressa
		bene male meglio tipo proprio davvero ecco allora cioe ehm boh mah beh insomma praticamente diciamo
		uhm niente guarda appunto cognome nome numero telefono certo esatto perfetto giusto
		prego scusi scusa aspetti attimo momento pure volentieri assolutamente ovviamente quanto come cosa
		dove quando perche chi arrabbiato arrabbiata confuso confusa preoccupato preoccupata felice`) {
		nameStopwords[w] = struct{}{}
	}
}

var surnameParticles = map[string]struct{}{
	"de": {}, "di": {}, "del": {}, "della": {}, "dello": {}, "dei": {}, "degli": {},
	"da": {}, "dal": {}, "dalla": {}, "la": {}, "lo": {}, "li": {}, "van": {}, "von": {}, "d'": {},
}

// ExtractName finds a self-introduction ("mi chiamo Marco", "sono Gino
// Peruzzi"). A surname following the given name is returned too.
func ExtractName(text string) (NameResult, bool) {
	clean := italian.StripFillers(text)
	words := len(strings.Fields(clean))
	for _, m := range nameIntroRe.FindAllStringSubmatch(clean, -1) {
		given := m[2]
		if !isNameToken(given) {
			continue
		}
		conf := introScore(strings.ToLower(italian.Fold(m[1])))
		if conf < 0.8 && words > 3 && !startsUpper(given) {
			continue
		}
		res := NameResult{Name: Capitalize(given), Confidence: conf, Phrase: strings.TrimSpace(m[0])}
		if surname, ok := surnameFromTail(m[3], m[4]); ok {
			res.Surname = surname
		}
		return res, true
	}
	return NameResult{}, false
}

func introScore(intro string) float64 {
	switch {
	case strings.HasPrefix(intro, "mi chiamo"), strings.HasPrefix(intro, "il mio nome"):
		return 0.95
	case strings.HasPrefix(intro, "il nome"):
		return 0.9
	case strings.HasPrefix(intro, "nome"):
		return 0.85
	case intro == "sono":
		return 0.75
	case intro == "chiamo":
		return 0.6
	}
	return 0.7
}

func startsUpper(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}

// ExtractBareName accepts an utterance made only of a name, optionally
// followed by a surname ("Marco", "Marco Rossi"). Used when the dialog has
// just asked for the name.
func ExtractBareName(text string) (NameResult, bool) {
	clean := strings.Trim(italian.StripFillers(text), " .,!?;:")
	fields := strings.Fields(clean)
	if len(fields) == 0 || len(fields) > 3 {
		return NameResult{}, false
	}
	if !isNameToken(fields[0]) {
		return NameResult{}, false
	}
	res := NameResult{Name: Capitalize(fields[0]), Confidence: 0.6, Phrase: clean}
	var second, third string
	if len(fields) > 1 {
		second = fields[1]
	}
	if len(fields) > 2 {
		third = fields[2]
	}
	if surname, ok := surnameFromTail(second, third); ok {
		res.Surname = surname
	} else if second != "" {
		return NameResult{}, false
	}
	return res, true
}

// ExtractSurname finds a surname: "il cognome è Neri", "Marco Rossi" when
// givenName is "Marco", or a bare single word.
func ExtractSurname(text, givenName string) (NameResult, bool) {
	clean := italian.StripFillers(text)
	if m := surnameRe.FindStringSubmatch(clean); m != nil {
		if surname, ok := surnameFromTail(m[1], m[2]); ok {
			return NameResult{Surname: surname, Confidence: 0.95, Phrase: strings.TrimSpace(m[0])}, true
		}
	}
	if givenName != "" {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(givenName) + `\s+([\p{L}']+)(?:\s+([\p{L}']+))?`)
		if err == nil {
			if m := re.FindStringSubmatch(clean); m != nil {
				if surname, ok := surnameFromTail(m[1], m[2]); ok {
					return NameResult{Name: Capitalize(givenName), Surname: surname, Confidence: 0.85, Phrase: m[0]}, true
				}
			}
		}
	}
	bare := strings.Trim(clean, " .,!?;:")
	fields := strings.Fields(bare)
	if len(fields) >= 1 && len(fields) <= 2 {
		var second string
		if len(fields) == 2 {
			second = fields[1]
		}
		if surname, ok := surnameFromTail(fields[0], second); ok && (second == "" || isParticle(fields[0])) {
			return NameResult{Surname: surname, Confidence: 0.6, Phrase: bare}, true
		}
	}
	return NameResult{}, false
}

// Capitalize sanitises a name: first letter upper, rest lower, with a new
// capital after apostrophes and hyphens ("d'angelo" -> "D'Angelo").
func Capitalize(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	upperNext := true
	for _, r := range strings.ToLower(s) {
		if upperNext && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
		if r == '\'' || r == '-' || r == ' ' {
			upperNext = true
		}
	}
	return b.String()
}

func surnameFromTail(first, second string) (string, bool) {
	first = strings.Trim(first, ".,!?;:")
	second = strings.Trim(second, ".,!?;:")
	if first == "" {
		return "", false
	}
	if isParticle(first) && isNameToken(second) {
		return Capitalize(first) + " " + Capitalize(second), true
	}
	if !isNameToken(first) {
		return "", false
	}
	return Capitalize(first), true
}

func isParticle(tok string) bool {
	_, ok := surnameParticles[strings.ToLower(italian.Fold(tok))]
	return ok
}

func isNameToken(tok string) bool {
	tok = strings.Trim(tok, ".,!?;:")
	if len([]rune(tok)) < 2 || !wordRe.MatchString(tok) {
		return false
	}
	_, stop := nameStopwords[italian.Fold(tok)]
	return !stop
}
