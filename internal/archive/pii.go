// Package archive anonymizes personal data for GDPR and archives
// anonymized transcripts to S3 before retention deletes them.
package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/fluxion/voice-agent/internal/domain"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+39[\s.\-]?|0039[\s.\-]?)?(?:3\d{2}|0\d{1,3})(?:[\s.\-]?\d){5,8}`)
)

// HashPhone returns the hex-encoded SHA-256 hash of a phone number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
// Used before user text reaches debug logs.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// AnonymizePhone masks every digit except the last four. Separators are
// kept.
func AnonymizePhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	var b strings.Builder
	seen := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= digits-4 {
				b.WriteByte('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AnonymizeEmail keeps the first character of the local part and the
// domain.
func AnonymizeEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}
	return email[:1] + "***" + email[at:]
}

// AnonymizeText applies AnonymizeEmail and AnonymizePhone to every match
// in free text.
func AnonymizeText(text string) string {
	text = emailRe.ReplaceAllStringFunc(text, AnonymizeEmail)
	return phoneRe.ReplaceAllStringFunc(text, AnonymizePhone)
}

// AnonymizeSession rewrites the personal fields of s in place.
func AnonymizeSession(s *domain.Session) {
	if s == nil {
		return
	}
	s.Phone = AnonymizePhone(s.Phone)
	s.Booking.ClientPhone = AnonymizePhone(s.Booking.ClientPhone)
	for i := range s.Turns {
		s.Turns[i].UserInput = AnonymizeText(s.Turns[i].UserInput)
		s.Turns[i].Response = AnonymizeText(s.Turns[i].Response)
		for k, v := range s.Turns[i].Entities {
			s.Turns[i].Entities[k] = AnonymizeText(v)
		}
	}
	for i := range s.Booking.Disambiguation.Candidates {
		c := &s.Booking.Disambiguation.Candidates[i]
		c.Phone = AnonymizePhone(c.Phone)
	}
}
