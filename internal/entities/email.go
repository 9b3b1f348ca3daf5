package entities

import (
	"regexp"
	"strings"

	"github.com/fluxion/voice-agent/internal/italian"
)

var (
	emailRe       = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}`)
	spokenEmailRe = strings.NewReplacer(
		" chiocciola ", "@", " chiocciolina ", "@",
		" punto ", ".", " trattino basso ", "_", " underscore ", "_", " trattino ", "-",
	)
)

// ExtractEmail returns the first e-mail address, including dictated ones
// ("mario punto rossi chiocciola gmail punto com").
func ExtractEmail(text string) (string, bool) {
	f := italian.Fold(text)
	if m := emailRe.FindString(f); m != "" {
		return strings.TrimRight(m, "."), true
	}
	spoken := spokenEmailRe.Replace(" " + f + " ")
	if m := emailRe.FindString(spoken); m != "" {
		return strings.TrimRight(m, "."), true
	}
	return "", false
}
