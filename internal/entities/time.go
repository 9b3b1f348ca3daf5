package entities

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fluxion/voice-agent/internal/italian"
)

// Constraint qualifies how an extracted time should be applied.
type Constraint string

const (
	ConstraintExact           Constraint = "exact"
	ConstraintAfter           Constraint = "after"
	ConstraintBefore          Constraint = "before"
	ConstraintAround          Constraint = "around"
	ConstraintPeriodMorning   Constraint = "period_morning"
	ConstraintPeriodAfternoon Constraint = "period_afternoon"
	ConstraintPeriodEvening   Constraint = "period_evening"
)

// IsPeriod reports whether the constraint names a part of the day.
func (c Constraint) IsPeriod() bool {
	switch c {
	case ConstraintPeriodMorning, ConstraintPeriodAfternoon, ConstraintPeriodEvening:
		return true
	}
	return false
}

// TimeResult is an extracted time of day.
type TimeResult struct {
	Hour        int
	Minute      int
	Approximate bool
	Constraint  Constraint
	Phrase      string
}

// HHMM renders the time as "15:04".
func (t TimeResult) HHMM() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

const (
	hourGroup   = `(\d{1,2}|una|due|tre|quattro|cinque|sei|sette|otto|nove|dieci|undici|dodici|tredici|quattordici|quindici|sedici|diciassette|diciotto|diciannove|venti|ventuno|ventidue|ventitre|mezzogiorno|mezzanotte)`
	minuteWords = `mezza|mezzo|un quarto|tre quarti|\d{1,2}|cinque|dieci|quindici|venti|venticinque|trenta|trentacinque|quaranta|quarantacinque|cinquanta|cinquantacinque`
)

var (
	prefixedTimeRe = regexp.MustCompile(`\b(dopo le|dopo l'|dalle|dall'|prima delle|prima dell'|entro le|entro l'|verso le|verso l'|intorno alle|intorno all'|alle|all'|per le|ore|le)\s*` + hourGroup + `(?:(?:[:.](\d{2}))|\s+e\s+(` + minuteWords + `))?\b`)
	bareTimeRe     = regexp.MustCompile(`\b` + hourGroup + `(?:[:.](\d{2})|\s+e\s+(` + minuteWords + `))\b`)
	looseHourRe    = regexp.MustCompile(`^\s*(?:per\s+)?` + hourGroup + `(?:[:.](\d{2})|\s+e\s+(` + minuteWords + `))?\s*[.!?]*\s*$`)
	morningRe      = regexp.MustCompile(`\b(?:mattina|mattinata|mattino|stamattina|stamani)\b`)
	afternoonRe    = regexp.MustCompile(`\b(?:pomeriggio|pomeridiano)\b`)
	eveningRe      = regexp.MustCompile(`\b(?:sera|serata|stasera|serale)\b`)
	noonRe         = regexp.MustCompile(`\b(?:mezzogiorno|mezzanotte)\b`)
)

// ExtractTime finds a time of day in text. now decides the AM/PM reading of
// hours 1-11 when no part of day is named.
func ExtractTime(text string, now time.Time) (TimeResult, bool) {
	f := italian.Fold(italian.StripFillers(text))

	if m := prefixedTimeRe.FindStringSubmatch(f); m != nil {
		if res, ok := buildTime(f, m[2], m[3], m[4], now); ok {
			res.Phrase = m[0]
			res.Constraint = prefixConstraint(m[1])
			if res.Constraint == ConstraintAround {
				res.Approximate = true
			}
			return res, true
		}
	}
	if m := bareTimeRe.FindStringSubmatch(f); m != nil {
		if res, ok := buildTime(f, m[1], m[2], m[3], now); ok {
			res.Phrase = m[0]
			res.Constraint = ConstraintExact
			return res, true
		}
	}
	if m := noonRe.FindString(f); m != "" {
		hour := 12
		if m == "mezzanotte" {
			hour = 0
		}
		return TimeResult{Hour: hour, Constraint: ConstraintExact, Phrase: m}, true
	}
	return extractPeriod(f)
}

// ExtractTimeLoose also accepts a bare hour ("15", "alle tre") as the whole
// utterance; used when the dialog is explicitly asking for a time.
func ExtractTimeLoose(text string, now time.Time) (TimeResult, bool) {
	if res, ok := ExtractTime(text, now); ok {
		return res, true
	}
	f := italian.Fold(italian.StripFillers(text))
	if m := looseHourRe.FindStringSubmatch(f); m != nil {
		if res, ok := buildTime(f, m[1], m[2], m[3], now); ok {
			res.Phrase = strings.TrimSpace(m[0])
			res.Constraint = ConstraintExact
			return res, true
		}
	}
	return TimeResult{}, false
}

func extractPeriod(f string) (TimeResult, bool) {
	switch {
	case morningRe.MatchString(f):
		return TimeResult{Hour: 9, Approximate: true, Constraint: ConstraintPeriodMorning, Phrase: morningRe.FindString(f)}, true
	case afternoonRe.MatchString(f):
		return TimeResult{Hour: 14, Approximate: true, Constraint: ConstraintPeriodAfternoon, Phrase: afternoonRe.FindString(f)}, true
	case eveningRe.MatchString(f):
		return TimeResult{Hour: 18, Approximate: true, Constraint: ConstraintPeriodEvening, Phrase: eveningRe.FindString(f)}, true
	}
	return TimeResult{}, false
}

func prefixConstraint(prefix string) Constraint {
	switch {
	case strings.HasPrefix(prefix, "dopo"), strings.HasPrefix(prefix, "dall"):
		return ConstraintAfter
	case strings.HasPrefix(prefix, "prima"), strings.HasPrefix(prefix, "entro"):
		return ConstraintBefore
	case strings.HasPrefix(prefix, "verso"), strings.HasPrefix(prefix, "intorno"):
		return ConstraintAround
	}
	return ConstraintExact
}

func buildTime(f, hourTok, digitMinutes, wordMinutes string, now time.Time) (TimeResult, bool) {
	switch hourTok {
	case "mezzogiorno":
		return TimeResult{Hour: 12}, true
	case "mezzanotte":
		return TimeResult{Hour: 0}, true
	}
	hour, ok := parseNumber(hourTok)
	if !ok || hour > 23 {
		return TimeResult{}, false
	}
	minute := 0
	switch {
	case digitMinutes != "":
		minute, _ = strconv.Atoi(digitMinutes)
	case wordMinutes != "":
		switch wordMinutes {
		case "mezza", "mezzo":
			minute = 30
		case "un quarto":
			minute = 15
		case "tre quarti":
			minute = 45
		default:
			minute, ok = parseNumber(wordMinutes)
			if !ok {
				minute = 0
			}
		}
	}
	if minute > 59 {
		return TimeResult{}, false
	}

	res := TimeResult{Hour: hour, Minute: minute}
	if hour < 1 || hour > 11 {
		return res, true
	}
	_, digitErr := strconv.Atoi(hourTok)
	switch {
	case morningRe.MatchString(f):
	case afternoonRe.MatchString(f), eveningRe.MatchString(f):
		res.Hour += 12
	case digitErr == nil && hour >= 8:
		// "alle 10" written with digits is read on the 24h clock.
	case digitErr == nil:
		res.Approximate = true
		res.Hour += 12
	default:
		res.Approximate = true
		if now.Hour() >= 12 {
			res.Hour += 12
		}
	}
	return res, true
}

// ParseHHMM parses "15:04" into minutes after midnight.
func ParseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatMinutes renders minutes after midnight as "15:04".
func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
