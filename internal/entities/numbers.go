// Package entities extracts typed values (dates, times, names, phone
// numbers, services, operators) from free Italian text.
package entities

import "strconv"

var numberWords = map[string]int{
	"zero": 0, "uno": 1, "una": 1, "un": 1, "primo": 1, "due": 2, "tre": 3, "quattro": 4, "cinque": 5,
	"sei": 6, "sette": 7, "otto": 8, "nove": 9, "dieci": 10, "undici": 11, "dodici": 12,
	"tredici": 13, "quattordici": 14, "quindici": 15, "sedici": 16, "diciassette": 17,
	"diciotto": 18, "diciannove": 19, "venti": 20, "ventuno": 21, "ventidue": 22,
	"ventitre": 23, "ventiquattro": 24, "venticinque": 25, "ventisei": 26, "ventisette": 27,
	"ventotto": 28, "ventinove": 29, "trenta": 30, "trentuno": 31, "trentacinque": 35,
	"quaranta": 40, "quarantacinque": 45, "cinquanta": 50, "cinquantacinque": 55,
}

var digitWords = map[string]byte{
	"zero": '0', "uno": '1', "due": '2', "tre": '3', "quattro": '4',
	"cinque": '5', "sei": '6', "sette": '7', "otto": '8', "nove": '9',
}

var spokenDigits = [...]string{"zero", "uno", "due", "tre", "quattro", "cinque", "sei", "sette", "otto", "nove"}

// parseNumber reads a decimal or an Italian number word.
func parseNumber(tok string) (int, bool) {
	if n, err := strconv.Atoi(tok); err == nil {
		return n, true
	}
	n, ok := numberWords[tok]
	return n, ok
}
