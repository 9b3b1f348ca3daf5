// Package availability validates requested appointment slots against the
// business schedule and the bridge's booked slots, and proposes
// alternatives in Italian.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/italian"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// Reason tells why a slot is or is not bookable.
type Reason string

const (
	ReasonAvailable           Reason = "available"
	ReasonClosed              Reason = "closed"
	ReasonLunchBreak          Reason = "lunch_break"
	ReasonHoliday             Reason = "holiday"
	ReasonAlreadyBooked       Reason = "already_booked"
	ReasonTooSoon             Reason = "too_soon"
	ReasonTooFar              Reason = "too_far"
	ReasonOperatorUnavailable Reason = "operator_unavailable"
	ReasonOutsideHours        Reason = "outside_hours"
)

const maxSuggestions = 3

// Slot is one candidate start time of a day.
type Slot struct {
	Time       string `json:"time"`
	Available  bool   `json:"available"`
	Reason     Reason `json:"reason"`
	OperatorID string `json:"operator,omitempty"`
}

// DayResult is the outcome of CheckDate.
type DayResult struct {
	Date              string   `json:"date"`
	AvailableSlots    []Slot   `json:"available_slots"`
	UnavailableReason Reason   `json:"unavailable_reason,omitempty"`
	Message           string   `json:"message"`
	Suggestions       []string `json:"suggestions,omitempty"`
	// SuggestedDates holds the ISO dates behind Suggestions.
	SuggestedDates []string `json:"suggested_dates,omitempty"`
}

// SlotResult is the outcome of CheckSlot.
type SlotResult struct {
	Available    bool     `json:"available"`
	Reason       Reason   `json:"reason"`
	Message      string   `json:"message"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// WeekDay summarizes one bookable day of a week.
type WeekDay struct {
	Date      string `json:"date"`
	DayName   string `json:"day_name"`
	SlotCount int    `json:"slot_count"`
}

// WeekResult is the outcome of CheckWeek.
type WeekResult struct {
	WeekStart     string    `json:"week_start"`
	AvailableDays []WeekDay `json:"available_days"`
}

// OperatorResult is the outcome of CheckOperatorAvailability.
type OperatorResult struct {
	Available            bool     `json:"available"`
	Slots                []string `json:"slots"`
	AlternativeOperators []string `json:"alternative_operators,omitempty"`
}

// Bridge is the part of the business bridge the checker consults.
type Bridge interface {
	BookedSlots(ctx context.Context, date, operatorID string) ([]string, error)
	OperatorAvailability(ctx context.Context, operatorID, date, hhmm string) (available bool, slots, alternatives []string, err error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithLocation sets the business time zone.
func WithLocation(loc *time.Location) Option {
	return func(c *Checker) { c.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// Checker answers availability questions for one business schedule.
type Checker struct {
	cfg    domain.AvailabilityConfig
	bridge Bridge
	now    func() time.Time
	loc    *time.Location
	logger *logging.Logger

	open, close, lunchStart, lunchEnd int
	hasLunch                          bool
}

// NewChecker builds a checker. The config must have valid opening and
// closing times.
func NewChecker(cfg domain.AvailabilityConfig, bridge Bridge, opts ...Option) (*Checker, error) {
	c := &Checker{cfg: cfg, bridge: bridge, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	if c.cfg.SlotDuration <= 0 {
		c.cfg.SlotDuration = 30
	}

	var err error
	if c.open, err = entities.ParseHHMM(cfg.OpeningTime); err != nil {
		return nil, fmt.Errorf("availability: opening_time: %w", err)
	}
	if c.close, err = entities.ParseHHMM(cfg.ClosingTime); err != nil {
		return nil, fmt.Errorf("availability: closing_time: %w", err)
	}
	if cfg.LunchStart != "" && cfg.LunchEnd != "" {
		if c.lunchStart, err = entities.ParseHHMM(cfg.LunchStart); err != nil {
			return nil, fmt.Errorf("availability: lunch_start: %w", err)
		}
		if c.lunchEnd, err = entities.ParseHHMM(cfg.LunchEnd); err != nil {
			return nil, fmt.Errorf("availability: lunch_end: %w", err)
		}
		c.hasLunch = c.lunchEnd > c.lunchStart
	}
	return c, nil
}

// Config returns the schedule in use.
func (c *Checker) Config() domain.AvailabilityConfig { return c.cfg }

func (c *Checker) clock() (now, today time.Time) {
	now = c.now().In(c.loc)
	y, m, d := now.Date()
	return now, time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// CheckDate lists the free slots of date ("YYYY-MM-DD").
func (c *Checker) CheckDate(ctx context.Context, date, service, operatorID string) (DayResult, error) {
	res := DayResult{Date: date}
	now, today := c.clock()

	day, err := entities.ParseISODate(date, c.loc)
	if err != nil {
		res.UnavailableReason = ReasonClosed
		res.Message = "Data non valida"
		return res, nil
	}
	label := italian.FormatDate(day)
	offset := daysBetween(today, day)

	switch {
	case offset > c.cfg.MaxAdvanceDays:
		res.UnavailableReason = ReasonTooFar
		res.Message = c.tooFarMessage()
		return res, nil
	case offset < 0:
		res.UnavailableReason = ReasonTooSoon
		res.Message = c.tooSoonMessage()
		c.attachSuggestions(&res, today.AddDate(0, 0, -1), today)
		return res, nil
	case !c.cfg.WorksOn(day.Weekday()):
		res.UnavailableReason = ReasonClosed
		res.Message = fmt.Sprintf("Mi dispiace, %s siamo chiusi. Vuole un altro giorno?", label)
		c.attachSuggestions(&res, day, today)
		return res, nil
	case c.cfg.IsHoliday(date):
		res.UnavailableReason = ReasonHoliday
		res.Message = fmt.Sprintf("Mi dispiace, %s siamo chiusi per festività. Vuole un altro giorno?", label)
		c.attachSuggestions(&res, day, today)
		return res, nil
	}

	slots, err := c.daySlots(ctx, day, service, operatorID, now, offset == 0)
	if err != nil {
		return res, err
	}
	for _, s := range slots {
		if s.Available {
			res.AvailableSlots = append(res.AvailableSlots, s)
		}
	}

	if len(res.AvailableSlots) == 0 {
		res.UnavailableReason = ReasonAlreadyBooked
		if offset == 0 && allTooSoon(slots) {
			res.UnavailableReason = ReasonTooSoon
		}
		res.Message = fmt.Sprintf("Mi dispiace, %s non ci sono orari disponibili.", label)
		c.attachSuggestions(&res, day, today)
		return res, nil
	}

	times := make([]string, len(res.AvailableSlots))
	for i, s := range res.AvailableSlots {
		times[i] = s.Time
	}
	res.Message = fmt.Sprintf("Per il %s, abbiamo disponibilità alle %s. Quale orario preferisce?",
		label, italian.JoinList(spread(times, 4)))
	return res, nil
}

// CheckSlot validates one date and time. Rules run in a fixed order so the
// first failing rule names the reason.
func (c *Checker) CheckSlot(ctx context.Context, date, hhmm, service, operatorID string) (SlotResult, error) {
	now, today := c.clock()

	day, err := entities.ParseISODate(date, c.loc)
	if err != nil {
		return SlotResult{Reason: ReasonClosed, Message: "Data non valida"}, nil
	}
	start, err := entities.ParseHHMM(hhmm)
	if err != nil {
		return SlotResult{Reason: ReasonOutsideHours, Message: "Orario non valido"}, nil
	}
	offset := daysBetween(today, day)
	label := italian.FormatDate(day)

	switch {
	case offset > c.cfg.MaxAdvanceDays:
		return SlotResult{Reason: ReasonTooFar, Message: c.tooFarMessage()}, nil
	case offset < 0 || (offset == 0 && c.tooSoon(now, start)):
		return SlotResult{Reason: ReasonTooSoon, Message: c.tooSoonMessage(), Alternatives: c.sameDayAlternatives(ctx, day, service, operatorID, now, offset == 0)}, nil
	case !c.cfg.WorksOn(day.Weekday()):
		return SlotResult{Reason: ReasonClosed, Message: fmt.Sprintf("Mi dispiace, %s siamo chiusi. Vuole un altro giorno?", label)}, nil
	case c.cfg.IsHoliday(date):
		return SlotResult{Reason: ReasonHoliday, Message: fmt.Sprintf("Mi dispiace, %s siamo chiusi per festività. Vuole un altro giorno?", label)}, nil
	}

	dur := c.cfg.DurationFor(service)
	if start < c.open || start+dur > c.close {
		return SlotResult{
			Reason:       ReasonOutsideHours,
			Message:      fmt.Sprintf("Mi dispiace, alle %s siamo chiusi. L'orario è dalle %s alle %s.", hhmm, c.cfg.OpeningTime, c.cfg.ClosingTime),
			Alternatives: c.sameDayAlternatives(ctx, day, service, operatorID, now, offset == 0),
		}, nil
	}
	if c.inLunch(start, dur) {
		return SlotResult{
			Reason:       ReasonLunchBreak,
			Message:      fmt.Sprintf("Mi dispiace, alle %s siamo in pausa pranzo.", hhmm),
			Alternatives: c.sameDayAlternatives(ctx, day, service, operatorID, now, offset == 0),
		}, nil
	}

	booked, err := c.bookedMinutes(ctx, date, operatorID)
	if err != nil {
		return SlotResult{}, err
	}
	if overlapsBooked(start, dur, c.cfg.SlotDuration, booked) {
		return SlotResult{
			Reason:       ReasonAlreadyBooked,
			Message:      fmt.Sprintf("Mi dispiace, alle %s è già occupato.", hhmm),
			Alternatives: c.sameDayAlternatives(ctx, day, service, operatorID, now, offset == 0),
		}, nil
	}

	if operatorID != "" && c.bridge != nil {
		ok, slots, _, err := c.bridge.OperatorAvailability(ctx, operatorID, date, hhmm)
		if err != nil {
			return SlotResult{}, err
		}
		if !ok {
			return SlotResult{
				Reason:       ReasonOperatorUnavailable,
				Message:      fmt.Sprintf("Mi dispiace, l'operatore scelto non è disponibile alle %s.", hhmm),
				Alternatives: firstN(slots, maxSuggestions),
			}, nil
		}
	}

	return SlotResult{Available: true, Reason: ReasonAvailable, Message: fmt.Sprintf("Perfetto, alle %s è disponibile.", hhmm)}, nil
}

// CheckWeek lists the bookable days of the week weekOffset weeks after the
// week of ref. Days before today are skipped.
func (c *Checker) CheckWeek(ctx context.Context, weekOffset int, service, operatorID string, ref time.Time) (WeekResult, error) {
	_, today := c.clock()
	if ref.IsZero() {
		ref = today
	}
	ref = ref.In(c.loc)
	y, m, d := ref.Date()
	base := time.Date(y, m, d, 0, 0, 0, 0, c.loc)
	shift := (int(base.Weekday()) + 6) % 7
	weekStart := base.AddDate(0, 0, -shift+7*weekOffset)

	res := WeekResult{WeekStart: weekStart.Format("2006-01-02")}
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i)
		if daysBetween(today, day) < 0 {
			continue
		}
		dr, err := c.CheckDate(ctx, day.Format("2006-01-02"), service, operatorID)
		if err != nil {
			return res, err
		}
		if n := len(dr.AvailableSlots); n > 0 {
			res.AvailableDays = append(res.AvailableDays, WeekDay{
				Date:      dr.Date,
				DayName:   italian.FormatDate(day),
				SlotCount: n,
			})
		}
	}
	return res, nil
}

// CheckOperatorAvailability asks the bridge whether an operator is free.
func (c *Checker) CheckOperatorAvailability(ctx context.Context, operatorID, date, hhmm string) (OperatorResult, error) {
	if c.bridge == nil {
		return OperatorResult{Available: true}, nil
	}
	ok, slots, alts, err := c.bridge.OperatorAvailability(ctx, operatorID, date, hhmm)
	if err != nil {
		return OperatorResult{}, err
	}
	return OperatorResult{Available: ok, Slots: slots, AlternativeOperators: alts}, nil
}

// daySlots generates the slot grid of day and marks each slot.
func (c *Checker) daySlots(ctx context.Context, day time.Time, service, operatorID string, now time.Time, isToday bool) ([]Slot, error) {
	booked, err := c.bookedMinutes(ctx, day.Format("2006-01-02"), operatorID)
	if err != nil {
		return nil, err
	}
	dur := c.cfg.DurationFor(service)
	var out []Slot
	for start := c.open; start+dur <= c.close; start += c.cfg.SlotDuration {
		s := Slot{Time: entities.FormatMinutes(start), Available: true, Reason: ReasonAvailable, OperatorID: operatorID}
		switch {
		case isToday && c.tooSoon(now, start):
			s.Available, s.Reason = false, ReasonTooSoon
		case c.inLunch(start, dur):
			s.Available, s.Reason = false, ReasonLunchBreak
		case overlapsBooked(start, dur, c.cfg.SlotDuration, booked):
			s.Available, s.Reason = false, ReasonAlreadyBooked
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Checker) sameDayAlternatives(ctx context.Context, day time.Time, service, operatorID string, now time.Time, isToday bool) []string {
	if !c.cfg.WorksOn(day.Weekday()) || c.cfg.IsHoliday(day.Format("2006-01-02")) {
		return nil
	}
	slots, err := c.daySlots(ctx, day, service, operatorID, now, isToday)
	if err != nil {
		c.logger.Warn("alternative slots unavailable", "date", day.Format("2006-01-02"), "error", err)
		return nil
	}
	var free []string
	for _, s := range slots {
		if s.Available {
			free = append(free, s.Time)
		}
	}
	return firstN(free, maxSuggestions)
}

func (c *Checker) bookedMinutes(ctx context.Context, date, operatorID string) ([]int, error) {
	if c.bridge == nil {
		return nil, nil
	}
	raw, err := c.bridge.BookedSlots(ctx, date, operatorID)
	if err != nil {
		return nil, fmt.Errorf("availability: booked slots: %w", err)
	}
	out := make([]int, 0, len(raw))
	for _, t := range raw {
		if m, err := entities.ParseHHMM(t); err == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// attachSuggestions proposes the next working days after from that have at
// least one free slot in principle (working day, not a holiday, not too far).
func (c *Checker) attachSuggestions(res *DayResult, from, today time.Time) {
	day := from
	for i := 0; i < 60 && len(res.Suggestions) < maxSuggestions; i++ {
		day = day.AddDate(0, 0, 1)
		offset := daysBetween(today, day)
		if offset > c.cfg.MaxAdvanceDays {
			break
		}
		if offset < 0 || !c.cfg.WorksOn(day.Weekday()) || c.cfg.IsHoliday(day.Format("2006-01-02")) {
			continue
		}
		if offset == 0 && !c.openLaterToday() {
			continue
		}
		res.Suggestions = append(res.Suggestions, italian.FormatDate(day))
		res.SuggestedDates = append(res.SuggestedDates, day.Format("2006-01-02"))
	}
}

func (c *Checker) openLaterToday() bool {
	now, _ := c.clock()
	last := c.close - c.cfg.SlotDuration
	return !c.tooSoon(now, last)
}

func (c *Checker) tooSoon(now time.Time, start int) bool {
	current := now.Hour()*60 + now.Minute()
	return start < current+c.cfg.MinAdvanceHours*60
}

func (c *Checker) inLunch(start, dur int) bool {
	if !c.hasLunch {
		return false
	}
	return start < c.lunchEnd && start+dur > c.lunchStart
}

func (c *Checker) tooSoonMessage() string {
	return fmt.Sprintf("Mi dispiace, per le prenotazioni serve un preavviso di almeno %d ore.", c.cfg.MinAdvanceHours)
}

func (c *Checker) tooFarMessage() string {
	return fmt.Sprintf("Mi dispiace, possiamo prenotare al massimo %d giorni in anticipo.", c.cfg.MaxAdvanceDays)
}

func overlapsBooked(start, dur, slot int, booked []int) bool {
	for _, b := range booked {
		if b < start+dur && start < b+slot {
			return true
		}
	}
	return false
}

func allTooSoon(slots []Slot) bool {
	for _, s := range slots {
		if s.Reason != ReasonTooSoon {
			return false
		}
	}
	return len(slots) > 0
}

func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// spread picks up to n items evenly across the list, keeping the first.
func spread(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	out := make([]string, 0, n)
	step := float64(len(items)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, items[int(float64(i)*step+0.5)])
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
