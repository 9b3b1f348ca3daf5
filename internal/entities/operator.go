package entities

import (
	"regexp"

	"github.com/fluxion/voice-agent/internal/italian"
)

// Operator is a staff member that can be requested by name.
type Operator struct {
	ID        string
	FirstName string
	LastName  string
	Aliases   []string
	Gender    string
}

// FullName joins first and last name.
func (o Operator) FullName() string {
	if o.LastName == "" {
		return o.FirstName
	}
	return o.FirstName + " " + o.LastName
}

// GenericOperator is a non-nominal staff preference.
type GenericOperator string

const (
	GenericNone     GenericOperator = "none"
	GenericFemale   GenericOperator = "any_female"
	GenericMale     GenericOperator = "any_male"
	GenericSpecific GenericOperator = "specific_name"
)

var (
	femaleOperatorRe = regexp.MustCompile(`\b(?:una ragazza|una donna|una signora|un'operatrice|operatrice|una parrucchiera|un'estetista|una dottoressa|una istruttrice|una meccanica)\b`)
	maleOperatorRe   = regexp.MustCompile(`\b(?:un ragazzo|un uomo|un signore|un operatore maschio|un parrucchiere|un barbiere|un dottore|un istruttore|un meccanico)\b`)
	specificNameRe   = regexp.MustCompile(`\bcon\s+(?:il\s+|la\s+)?\p{Lu}\p{Ll}+`)
)

// ExtractOperator matches "nome cognome", then surname, then first name,
// then aliases. A first name shared by two operators is not a match.
func ExtractOperator(text string, ops []Operator) (Operator, bool) {
	for _, op := range ops {
		if op.LastName != "" && italian.ContainsWord(text, op.FullName()) {
			return op, true
		}
	}
	for _, op := range ops {
		if op.LastName != "" && italian.ContainsWord(text, op.LastName) {
			return op, true
		}
	}
	var found []Operator
	for _, op := range ops {
		if op.FirstName != "" && italian.ContainsWord(text, op.FirstName) {
			found = append(found, op)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	for _, op := range ops {
		for _, alias := range op.Aliases {
			if italian.ContainsWord(text, alias) {
				return op, true
			}
		}
	}
	return Operator{}, false
}

// ExtractGenericOperator classifies a staff preference that names no one.
func ExtractGenericOperator(text string) GenericOperator {
	f := italian.Fold(text)
	switch {
	case femaleOperatorRe.MatchString(f):
		return GenericFemale
	case maleOperatorRe.MatchString(f):
		return GenericMale
	case specificNameRe.MatchString(italian.StripFillers(text)):
		return GenericSpecific
	}
	return GenericNone
}
