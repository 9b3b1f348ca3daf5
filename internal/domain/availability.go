package domain

import "time"

// AvailabilityConfig describes when a business takes appointments. Times are
// "HH:MM" strings, dates "YYYY-MM-DD".
type AvailabilityConfig struct {
	OpeningTime      string         `json:"opening_time"`
	ClosingTime      string         `json:"closing_time"`
	LunchStart       string         `json:"lunch_start,omitempty"`
	LunchEnd         string         `json:"lunch_end,omitempty"`
	SlotDuration     int            `json:"slot_duration_minutes"`
	MinAdvanceHours  int            `json:"min_advance_hours"`
	MaxAdvanceDays   int            `json:"max_advance_days"`
	WorkingDays      []time.Weekday `json:"working_days"`
	Holidays         []string       `json:"holidays,omitempty"`
	ServiceDurations map[string]int `json:"service_durations,omitempty"`
}

// DefaultAvailability is a Monday to Saturday 09:00-19:00 schedule with a
// 13:00-14:00 lunch break.
func DefaultAvailability() AvailabilityConfig {
	return AvailabilityConfig{
		OpeningTime:     "09:00",
		ClosingTime:     "19:00",
		LunchStart:      "13:00",
		LunchEnd:        "14:00",
		SlotDuration:    30,
		MinAdvanceHours: 2,
		MaxAdvanceDays:  60,
		WorkingDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
		},
	}
}

// WorksOn reports whether d is a working weekday.
func (c AvailabilityConfig) WorksOn(d time.Weekday) bool {
	for _, w := range c.WorkingDays {
		if w == d {
			return true
		}
	}
	return false
}

// IsHoliday reports whether iso ("YYYY-MM-DD") is a holiday.
func (c AvailabilityConfig) IsHoliday(iso string) bool {
	for _, h := range c.Holidays {
		if h == iso {
			return true
		}
	}
	return false
}

// DurationFor returns the service duration in minutes, defaulting to the slot
// duration.
func (c AvailabilityConfig) DurationFor(service string) int {
	if d, ok := c.ServiceDurations[service]; ok && d > 0 {
		return d
	}
	return c.SlotDuration
}
