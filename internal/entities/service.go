package entities

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/fluxion/voice-agent/internal/italian"
)

// ServiceVocabulary maps a canonical service key to its spoken aliases.
type ServiceVocabulary map[string][]string

// Keys returns the canonical keys in stable order.
func (v ServiceVocabulary) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const serviceFuzzyThreshold = 0.8

// ExtractService maps text onto a canonical service key. Whole-word alias
// matches win, longest first; otherwise single words are matched fuzzily to
// absorb transcription errors ("tagglio").
func ExtractService(text string, vocab ServiceVocabulary) (string, bool) {
	if len(vocab) == 0 {
		return "", false
	}
	best, bestLen := "", 0
	for _, key := range vocab.Keys() {
		for _, alias := range append([]string{key}, vocab[key]...) {
			if italian.ContainsWord(text, alias) && len(alias) > bestLen {
				best, bestLen = key, len(alias)
			}
		}
	}
	if best != "" {
		return best, true
	}

	bestScore := 0.0
	for _, tok := range italian.Tokens(text) {
		if len(tok) < 4 {
			continue
		}
		for _, key := range vocab.Keys() {
			for _, alias := range append([]string{key}, vocab[key]...) {
				a := italian.NormalizePhrase(alias)
				if strings.Contains(a, " ") {
					continue
				}
				if score := Similarity(tok, a); score >= serviceFuzzyThreshold && score > bestScore {
					best, bestScore = key, score
				}
			}
		}
	}
	return best, best != ""
}

// Similarity is the normalized Levenshtein ratio of two strings.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}
