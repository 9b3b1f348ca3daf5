package vertical

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Template is a response string with {{VARIABLE}} placeholders.
type Template string

// Render substitutes every placeholder with the first scope that defines
// it. Lookups try the name as written, then upper case, then lower case.
// Unknown placeholders are left in place.
func (t Template) Render(scopes ...map[string]string) string {
	s := string(t)
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := lookup(name, scopes); ok {
			return v
		}
		return match
	})
}

// Variables lists the placeholder names in order of appearance.
func (t Template) Variables() []string {
	matches := placeholderRe.FindAllStringSubmatch(string(t), -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

func lookup(name string, scopes []map[string]string) (string, bool) {
	keys := []string{name, strings.ToUpper(name), strings.ToLower(name)}
	for _, scope := range scopes {
		for _, k := range keys {
			if v, ok := scope[k]; ok {
				return v, true
			}
		}
	}
	return "", false
}
