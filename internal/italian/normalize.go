// Package italian holds the Italian language primitives shared by the
// dialog engine: accent folding, filler stripping, the precompiled regex
// bank and calendar formatting.
package italian

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	punctuationRe = regexp.MustCompile(`[^a-z0-9'@.+:/\- ]+`)
	apostrophes   = strings.NewReplacer("’", "'", "‘", "'", "`", "'", "´", "'")
)

var fillers = map[string]struct{}{
	"ehm": {}, "ehmm": {}, "cioe": {}, "senti": {}, "guarda": {}, "eh": {}, "ehh": {},
	"mah": {}, "beh": {}, "niente": {}, "praticamente": {}, "insomma": {},
	"diciamo": {}, "appunto": {}, "allora": {}, "ecco": {}, "uhm": {}, "uhmm": {},
	"boh": {}, "mmm": {}, "mm": {},
}

// Fold lowercases text and removes combining marks, so "Sì, è così" becomes
// "si, e cosi". Typographic apostrophes are mapped to '.
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, apostrophes.Replace(text))
	if err != nil {
		folded = text
	}
	return strings.ToLower(folded)
}

// Normalize folds text, drops punctuation other than the characters that
// carry meaning in phone numbers, times and e-mails, and collapses spaces.
func Normalize(text string) string {
	folded := Fold(text)
	folded = punctuationRe.ReplaceAllString(folded, " ")
	return CollapseSpaces(folded)
}

// NormalizePhrase is Normalize without any punctuation; used for exact
// phrase lookups.
func NormalizePhrase(text string) string {
	folded := Fold(text)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return CollapseSpaces(b.String())
}

// CollapseSpaces trims text and squeezes whitespace runs to one space.
func CollapseSpaces(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// StripFillers removes filler interjections while preserving the case and
// punctuation of the remaining words.
func StripFillers(text string) string {
	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		core := strings.Trim(Fold(w), ".,;:!?…\"'()")
		if _, ok := fillers[core]; ok && core != "" {
			continue
		}
		kept = append(kept, w)
	}
	out := strings.Join(kept, " ")
	return strings.TrimLeft(out, ",;: ")
}

// Tokens splits normalized text into words.
func Tokens(text string) []string {
	return strings.Fields(NormalizePhrase(text))
}

// ContainsWord reports whether phrase occurs in folded text on word
// boundaries. Both sides are normalized first.
func ContainsWord(text, phrase string) bool {
	t := " " + NormalizePhrase(text) + " "
	p := NormalizePhrase(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(t, " "+p+" ")
}
