// Package vertical loads the per-business-category configurations (intents,
// slots, services, FAQ, response templates, variables and triage rules)
// and serves them from an atomically swapped registry.
package vertical

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/faq"
	"github.com/fluxion/voice-agent/internal/intent"
	"github.com/fluxion/voice-agent/internal/italian"
)

var (
	// ErrInvalidConfig marks a config that failed validation.
	ErrInvalidConfig = errors.New("vertical: invalid config")
	// ErrNotFound is returned for unknown verticals.
	ErrNotFound = errors.New("vertical: not found")
	// ErrInvalidSlotValue is returned by ValidateSlotValue.
	ErrInvalidSlotValue = errors.New("vertical: invalid slot value")
)

// SlotType is the value kind of a slot.
type SlotType string

const (
	SlotCategorical SlotType = "categorical"
	SlotNumber      SlotType = "number"
	SlotString      SlotType = "string"
	SlotDate        SlotType = "date"
	SlotTime        SlotType = "time"
)

// Triage urgencies.
const (
	UrgencyEmergency = "emergency"
	UrgencyUrgent    = "urgent"
	UrgencyRoutine   = "routine"
)

// IntentSpec declares one intent of the vertical.
type IntentSpec struct {
	ID            string        `json:"id"`
	Category      domain.Intent `json:"category"`
	Examples      []string      `json:"examples"`
	RequiredSlots []string      `json:"required_slots,omitempty"`
	OptionalSlots []string      `json:"optional_slots,omitempty"`
	Priority      int           `json:"priority"`
}

// SlotSpec declares how a slot is prompted and validated.
type SlotSpec struct {
	Type   SlotType `json:"type"`
	Prompt Template `json:"prompt"`
	Values []string `json:"values,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// ServiceSpec is one bookable service.
type ServiceSpec struct {
	DisplayName     string   `json:"display_name"`
	Aliases         []string `json:"aliases,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Price           string   `json:"price,omitempty"`
}

// TriageRule flags symptoms in medical verticals.
type TriageRule struct {
	Keywords []string `json:"keywords"`
	Urgency  string   `json:"urgency"`
	Response string   `json:"response"`
}

// Config is the content of verticals/<name>/config.json.
type Config struct {
	Name         string                     `json:"vertical_name"`
	DisplayName  string                     `json:"display_name"`
	Language     string                     `json:"language"`
	Description  string                     `json:"description"`
	Intents      []IntentSpec               `json:"intents"`
	Slots        map[string]SlotSpec        `json:"slots"`
	Services     map[string]ServiceSpec     `json:"services"`
	Availability *domain.AvailabilityConfig `json:"availability,omitempty"`
	FAQ          []faq.Entry                `json:"faq"`
	Responses    map[string]Template        `json:"responses"`
	Variables    map[string]string          `json:"variables"`
	TriageRules  []TriageRule               `json:"triage_rules,omitempty"`
}

// Validate checks the structural rules a config must satisfy to be served.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(c.Name) == "" {
		add("vertical_name is required")
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		add("display_name is required")
	}
	if _, ok := c.Responses["greeting"]; !ok {
		add("responses.greeting is required")
	}

	ids := make(map[string]struct{}, len(c.Intents))
	for i, in := range c.Intents {
		if in.ID == "" {
			add("intents[%d]: id is required", i)
		}
		if _, dup := ids[in.ID]; dup {
			add("intents[%d]: duplicate id %q", i, in.ID)
		}
		ids[in.ID] = struct{}{}
		if !knownIntent(in.Category) {
			add("intents[%d]: unknown category %q", i, in.Category)
		}
		for _, s := range append(append([]string{}, in.RequiredSlots...), in.OptionalSlots...) {
			if _, ok := c.Slots[s]; !ok {
				add("intents[%d]: slot %q is not declared", i, s)
			}
		}
	}

	for name, s := range c.Slots {
		switch s.Type {
		case SlotCategorical:
			if len(s.Values) == 0 && name != "service" {
				add("slots.%s: categorical slot needs values", name)
			}
		case SlotNumber, SlotString, SlotDate, SlotTime:
		default:
			add("slots.%s: unknown type %q", name, s.Type)
		}
		if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
			add("slots.%s: min greater than max", name)
		}
	}

	for i, e := range c.FAQ {
		if strings.TrimSpace(e.Answer) == "" {
			add("faq[%d]: answer is required", i)
		}
		if len(e.Keywords) == 0 && strings.TrimSpace(e.Question) == "" {
			add("faq[%d]: keywords or question required", i)
		}
	}

	for i, r := range c.TriageRules {
		switch r.Urgency {
		case UrgencyEmergency, UrgencyUrgent, UrgencyRoutine:
		default:
			add("triage_rules[%d]: unknown urgency %q", i, r.Urgency)
		}
		if len(r.Keywords) == 0 {
			add("triage_rules[%d]: keywords are required", i)
		}
	}

	if a := c.Availability; a != nil {
		if _, err := entities.ParseHHMM(a.OpeningTime); err != nil {
			add("availability.opening_time: %v", err)
		}
		if _, err := entities.ParseHHMM(a.ClosingTime); err != nil {
			add("availability.closing_time: %v", err)
		}
		if a.SlotDuration <= 0 {
			add("availability.slot_duration_minutes must be positive")
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w %q: %s", ErrInvalidConfig, c.Name, strings.Join(problems, "; "))
	}
	return nil
}

func knownIntent(i domain.Intent) bool {
	switch i {
	case domain.IntentGreeting, domain.IntentFarewell, domain.IntentConfirmation,
		domain.IntentRejection, domain.IntentBooking, domain.IntentCancellation,
		domain.IntentReschedule, domain.IntentInfo, domain.IntentPrice,
		domain.IntentHours, domain.IntentServices, domain.IntentWaitlist,
		domain.IntentOperatorEscalation:
		return true
	}
	return false
}

// ServiceVocabulary maps canonical service keys to their aliases.
func (c *Config) ServiceVocabulary() entities.ServiceVocabulary {
	vocab := make(entities.ServiceVocabulary, len(c.Services))
	for key, s := range c.Services {
		aliases := append([]string{}, s.Aliases...)
		if s.DisplayName != "" {
			aliases = append(aliases, s.DisplayName)
		}
		vocab[key] = aliases
	}
	return vocab
}

// ServiceTerms lists every service key and alias, for the FAQ price pass.
func (c *Config) ServiceTerms() []string {
	var out []string
	for key, aliases := range c.ServiceVocabulary() {
		out = append(out, strings.ReplaceAll(key, "_", " "))
		out = append(out, aliases...)
	}
	sort.Strings(out)
	return out
}

// ServiceName returns the display name of a service key.
func (c *Config) ServiceName(key string) string {
	if s, ok := c.Services[key]; ok && s.DisplayName != "" {
		return s.DisplayName
	}
	return strings.ReplaceAll(key, "_", " ")
}

// Examples flattens the intent examples for the classifier.
func (c *Config) Examples() []intent.Example {
	var out []intent.Example
	for _, in := range c.Intents {
		for _, ex := range in.Examples {
			out = append(out, intent.Example{Intent: in.Category, Text: ex})
		}
	}
	return out
}

// AvailabilityConfig returns the configured schedule, with service durations
// filled from the service list when absent.
func (c *Config) AvailabilityConfig() domain.AvailabilityConfig {
	cfg := domain.DefaultAvailability()
	if c.Availability != nil {
		cfg = *c.Availability
	}
	if cfg.ServiceDurations == nil {
		cfg.ServiceDurations = make(map[string]int, len(c.Services))
		for key, s := range c.Services {
			if s.DurationMinutes > 0 {
				cfg.ServiceDurations[key] = s.DurationMinutes
			}
		}
	}
	return cfg
}

// Triage returns the most urgent rule whose keyword occurs in text.
func (c *Config) Triage(text string) (TriageRule, bool) {
	rank := map[string]int{UrgencyEmergency: 3, UrgencyUrgent: 2, UrgencyRoutine: 1}
	var best TriageRule
	found := false
	for _, r := range c.TriageRules {
		for _, kw := range r.Keywords {
			if italian.ContainsWord(text, kw) {
				if !found || rank[r.Urgency] > rank[best.Urgency] {
					best, found = r, true
				}
				break
			}
		}
	}
	return best, found
}
