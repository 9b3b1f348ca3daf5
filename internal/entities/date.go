package entities

import (
	"regexp"
	"strconv"
	"time"

	"github.com/fluxion/voice-agent/internal/italian"
)

// DateResult is an extracted calendar date.
type DateResult struct {
	Date        time.Time
	Phrase      string
	Approximate bool
}

// ISO renders the date as YYYY-MM-DD.
func (d DateResult) ISO() string {
	return d.Date.Format("2006-01-02")
}

var months = map[string]time.Month{
	"gennaio": time.January, "febbraio": time.February, "marzo": time.March, "aprile": time.April,
	"maggio": time.May, "giugno": time.June, "luglio": time.July, "agosto": time.August,
	"settembre": time.September, "ottobre": time.October, "novembre": time.November, "dicembre": time.December,
}

var weekdays = map[string]time.Weekday{
	"lunedi": time.Monday, "martedi": time.Tuesday, "mercoledi": time.Wednesday, "giovedi": time.Thursday,
	"venerdi": time.Friday, "sabato": time.Saturday, "domenica": time.Sunday,
}

var (
	relativeDayRe = regexp.MustCompile(`\b(dopodomani|domani|oggi|stasera|stamattina|stamani)\b`)
	monthDayRe    = regexp.MustCompile(`\b(\d{1,2}|[a-z]+)\s+(?:di\s+)?(gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|ottobre|novembre|dicembre)(?:\s+(?:del\s+)?(\d{4}|\d{2})\b)?`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{4}|\d{2}))?\b`)
	weekdayRe     = regexp.MustCompile(`\b(lunedi|martedi|mercoledi|giovedi|venerdi|sabato|domenica)\b`)
	dayOnlyRe     = regexp.MustCompile(`\b(?:il|giorno)\s+(\d{1,2})\b`)
	offsetRe      = regexp.MustCompile(`\b(?:tra|fra)\s+(\d{1,2}|un|una|due|tre|quattro|cinque|sei|sette|otto|nove|dieci|quindici)\s+(giorn[oi]|settiman[ae])\b`)
)

// ExtractDate finds the first date reference in text, resolved against the
// reference day ref. An explicit day-month beats a weekday name in the same
// sentence so "lunedì 24 febbraio" resolves to the 24th.
func ExtractDate(text string, ref time.Time) (DateResult, bool) {
	f := italian.Fold(italian.StripFillers(text))
	today := dayStart(ref)

	if m := relativeDayRe.FindStringSubmatch(f); m != nil {
		offset := 0
		switch m[1] {
		case "domani":
			offset = 1
		case "dopodomani":
			offset = 2
		}
		return DateResult{Date: today.AddDate(0, 0, offset), Phrase: m[0]}, true
	}

	for _, m := range monthDayRe.FindAllStringSubmatch(f, -1) {
		day, ok := parseNumber(m[1])
		if !ok || day < 1 || day > 31 {
			continue
		}
		month := months[m[2]]
		if m[3] != "" {
			year := expandYear(m[3], today.Year())
			if d, ok := buildDate(year, month, day, today.Location()); ok {
				return DateResult{Date: d, Phrase: m[0]}, true
			}
			continue
		}
		if d, ok := nextFutureDate(today, month, day); ok {
			return DateResult{Date: d, Phrase: m[0]}, true
		}
	}

	if m := isoDateRe.FindStringSubmatch(f); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if d, ok := buildDate(year, time.Month(month), day, today.Location()); ok {
			return DateResult{Date: d, Phrase: m[0]}, true
		}
	}

	for _, m := range numericDateRe.FindAllStringSubmatch(f, -1) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			continue
		}
		if m[3] != "" {
			if d, ok := buildDate(expandYear(m[3], today.Year()), time.Month(month), day, today.Location()); ok {
				return DateResult{Date: d, Phrase: m[0]}, true
			}
			continue
		}
		if d, ok := nextFutureDate(today, time.Month(month), day); ok {
			return DateResult{Date: d, Phrase: m[0]}, true
		}
	}

	if m := weekdayRe.FindStringSubmatch(f); m != nil {
		target := weekdays[m[1]]
		delta := (int(target) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return DateResult{Date: today.AddDate(0, 0, delta), Phrase: m[0]}, true
	}

	for _, loc := range dayOnlyRe.FindAllStringSubmatchIndex(f, -1) {
		end := loc[1]
		if end < len(f) && (f[end] == ':' || f[end] == '.') {
			continue
		}
		day, _ := strconv.Atoi(f[loc[2]:loc[3]])
		if day < 1 || day > 31 {
			continue
		}
		d, ok := buildDate(today.Year(), today.Month(), day, today.Location())
		if !ok || d.Before(today) {
			d, ok = buildDate(today.Year(), today.Month()+1, day, today.Location())
			if !ok {
				continue
			}
		}
		return DateResult{Date: d, Phrase: f[loc[0]:loc[1]]}, true
	}

	if m := offsetRe.FindStringSubmatch(f); m != nil {
		n, ok := parseNumber(m[1])
		if ok {
			if m[2] == "settimana" || m[2] == "settimane" {
				return DateResult{Date: today.AddDate(0, 0, 7*n), Phrase: m[0], Approximate: true}, true
			}
			return DateResult{Date: today.AddDate(0, 0, n), Phrase: m[0]}, true
		}
	}

	return DateResult{}, false
}

// ParseISODate parses YYYY-MM-DD in loc.
func ParseISODate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func buildDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if month > 12 {
		year++
		month -= 12
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if d.Day() != day || d.Month() != month {
		return time.Time{}, false
	}
	return d, true
}

func nextFutureDate(today time.Time, month time.Month, day int) (time.Time, bool) {
	d, ok := buildDate(today.Year(), month, day, today.Location())
	if ok && !d.Before(today) {
		return d, true
	}
	return buildDate(today.Year()+1, month, day, today.Location())
}

func expandYear(raw string, currentYear int) int {
	y, _ := strconv.Atoi(raw)
	if len(raw) == 4 {
		return y
	}
	century := currentYear / 100 * 100
	if century+y > currentYear {
		return century - 100 + y
	}
	return century + y
}
