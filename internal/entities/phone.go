package entities

import (
	"regexp"
	"strings"

	"github.com/fluxion/voice-agent/internal/italian"
)

var (
	phoneSeparators = regexp.MustCompile(`[\s\-.,;/()]+`)
	phonePrefixRe   = regexp.MustCompile(`(?:\+\s*39|\b0039|\bpiu\s+trentanove)\s*`)
)

// ExtractPhone returns the digits of an Italian mobile number (starting with
// 3, 9 or 10 digits), accepting "+39", separators and spoken digits
// ("tre tre nove ...").
func ExtractPhone(text string) (string, bool) {
	f := phonePrefixRe.ReplaceAllString(italian.Fold(text), " ")
	var run strings.Builder
	flush := func() (string, bool) {
		digits := run.String()
		run.Reset()
		if isMobile(digits) {
			return digits, true
		}
		return "", false
	}
	for _, tok := range phoneSeparators.Split(f, -1) {
		if tok == "" {
			continue
		}
		if isDigits(tok) {
			run.WriteString(tok)
			continue
		}
		if d, ok := digitWords[tok]; ok {
			run.WriteByte(d)
			continue
		}
		if digits, ok := flush(); ok {
			return digits, true
		}
	}
	return flush()
}

// FormatPhoneSpoken reads a number back digit by digit in groups:
// "tre-tre-nove, uno-due-tre, quattro-cinque-sei-sette".
func FormatPhoneSpoken(digits string) string {
	groups := groupDigits(digits)
	spoken := make([]string, 0, len(groups))
	for _, g := range groups {
		words := make([]string, 0, len(g))
		for _, r := range g {
			if r < '0' || r > '9' {
				continue
			}
			words = append(words, spokenDigits[r-'0'])
		}
		spoken = append(spoken, strings.Join(words, "-"))
	}
	return strings.Join(spoken, ", ")
}

// FormatPhoneGrouped renders "339 123 4567".
func FormatPhoneGrouped(digits string) string {
	return strings.Join(groupDigits(digits), " ")
}

func groupDigits(digits string) []string {
	if len(digits) <= 4 {
		return []string{digits}
	}
	if len(digits) <= 6 {
		return []string{digits[:3], digits[3:]}
	}
	return []string{digits[:3], digits[3:6], digits[6:]}
}

func isMobile(digits string) bool {
	return (len(digits) == 9 || len(digits) == 10) && digits[0] == '3'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
