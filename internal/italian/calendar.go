package italian

import (
	"strconv"
	"strings"
	"time"
)

var dayNames = [...]string{"domenica", "lunedì", "martedì", "mercoledì", "giovedì", "venerdì", "sabato"}

var monthNames = [...]string{"", "gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno",
	"luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"}

// DayName returns the lowercase Italian weekday name with its accent.
func DayName(d time.Weekday) string {
	return dayNames[d]
}

// MonthName returns the lowercase Italian month name.
func MonthName(m time.Month) string {
	return monthNames[m]
}

// FormatDate renders "lunedì 24 febbraio".
func FormatDate(t time.Time) string {
	return DayName(t.Weekday()) + " " + strconv.Itoa(t.Day()) + " " + MonthName(t.Month())
}

// RelativeDay returns "oggi", "domani" or "dopodomani" when d is that close
// to today, otherwise "".
func RelativeDay(d, today time.Time) string {
	dy, dm, dd := d.Date()
	ty, tm, td := today.Date()
	a := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	switch int(a.Sub(b).Hours() / 24) {
	case 0:
		return "oggi"
	case 1:
		return "domani"
	case 2:
		return "dopodomani"
	}
	return ""
}

// JoinList joins items the Italian way: "a, b e c".
func JoinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " e " + items[len(items)-1]
}

// JoinAlternatives joins items with "o": "a, b o c".
func JoinAlternatives(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " o " + items[len(items)-1]
}
