package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/pkg/logging"
)

type fakeBridge struct {
	booked    map[string][]string
	bookedErr error

	operatorFree  bool
	operatorSlots []string
	alternatives  []string
	operatorCalls int
}

func (f *fakeBridge) BookedSlots(_ context.Context, date, _ string) ([]string, error) {
	if f.bookedErr != nil {
		return nil, f.bookedErr
	}
	return f.booked[date], nil
}

func (f *fakeBridge) OperatorAvailability(context.Context, string, string, string) (bool, []string, []string, error) {
	f.operatorCalls++
	return f.operatorFree, f.operatorSlots, f.alternatives, nil
}

// Monday 19 October 2026, 14:00.
var fixedNow = time.Date(2026, time.October, 19, 14, 0, 0, 0, time.UTC)

func newTestChecker(t *testing.T, cfg domain.AvailabilityConfig, b Bridge) *Checker {
	t.Helper()
	c, err := NewChecker(cfg, b,
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
		WithLogger(logging.Discard()),
	)
	require.NoError(t, err)
	return c
}

func TestNewCheckerRejectsBadTimes(t *testing.T) {
	cfg := domain.DefaultAvailability()
	cfg.ClosingTime = "7pm"
	_, err := NewChecker(cfg, nil)
	require.Error(t, err)
}

func TestCheckSlotTooSoon(t *testing.T) {
	c := newTestChecker(t, domain.DefaultAvailability(), &fakeBridge{})
	ctx := context.Background()

	res, err := c.CheckSlot(ctx, "2026-10-19", "13:59", "", "")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, ReasonTooSoon, res.Reason)

	res, err = c.CheckSlot(ctx, "2026-10-19", "15:00", "taglio", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonTooSoon, res.Reason)
	assert.Contains(t, res.Message, "preavviso di almeno 2 ore")
	assert.Equal(t, []string{"16:00", "16:30", "17:00"}, res.Alternatives)

	res, err = c.CheckSlot(ctx, "2026-10-18", "10:00", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonTooSoon, res.Reason)
}

func TestCheckSlotTooSoonRegardlessOfSchedule(t *testing.T) {
	cfg := domain.DefaultAvailability()
	cfg.WorkingDays = nil
	cfg.Holidays = []string{"2026-10-19"}
	c := newTestChecker(t, cfg, nil)

	res, err := c.CheckSlot(context.Background(), "2026-10-19", "13:59", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonTooSoon, res.Reason)
}

func TestCheckDateTooFar(t *testing.T) {
	c := newTestChecker(t, domain.DefaultAvailability(), &fakeBridge{})

	res, err := c.CheckDate(context.Background(), "2026-12-19", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonTooFar, res.UnavailableReason)
	assert.Empty(t, res.AvailableSlots)

	res, err = c.CheckDate(context.Background(), "2026-12-18", "", "")
	require.NoError(t, err)
	assert.Empty(t, res.UnavailableReason)
	assert.NotEmpty(t, res.AvailableSlots)
}

func TestCheckDateInvalid(t *testing.T) {
	c := newTestChecker(t, domain.DefaultAvailability(), nil)
	res, err := c.CheckDate(context.Background(), "31/02/2026", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonClosed, res.UnavailableReason)
	assert.Equal(t, "Data non valida", res.Message)
}

func TestLunchBoundaries(t *testing.T) {
	c := newTestChecker(t, domain.DefaultAvailability(), &fakeBridge{})
	ctx := context.Background()

	res, err := c.CheckSlot(ctx, "2026-10-20", "13:00", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonLunchBreak, res.Reason)

	res, err = c.CheckSlot(ctx, "2026-10-20", "14:00", "", "")
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, ReasonAvailable, res.Reason)

	// A one-hour service starting at 12:30 runs into the break.
	cfg := domain.DefaultAvailability()
	cfg.ServiceDurations = map[string]int{"colore": 60}
	c = newTestChecker(t, cfg, &fakeBridge{})
	res, err = c.CheckSlot(ctx, "2026-10-20", "12:30", "colore", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonLunchBreak, res.Reason)
}

func TestCheckSlotOutsideHours(t *testing.T) {
	c := newTestChecker(t, domain.DefaultAvailability(), &fakeBridge{})
	for _, hhmm := range []string{"08:30", "19:00", "18:45"} {
		res, err := c.CheckSlot(context.Background(), "2026-10-20", hhmm, "", "")
		require.NoError(t, err)
		assert.Equal(t, ReasonOutsideHours, res.Reason, hhmm)
	}
}

func TestCheckDateClosedSuggestsNextWorkingDays(t *testing.T) {
	c := newTestChecker(t, domain.DefaultAvailability(), &fakeBridge{})

	res, err := c.CheckDate(context.Background(), "2026-10-25", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonClosed, res.UnavailableReason)
	assert.Equal(t, "Mi dispiace, domenica 25 ottobre siamo chiusi. Vuole un altro giorno?", res.Message)
	assert.Equal(t, []string{"lunedì 26 ottobre", "martedì 27 ottobre", "mercoledì 28 ottobre"}, res.Suggestions)
	assert.Equal(t, []string{"2026-10-26", "2026-10-27", "2026-10-28"}, res.SuggestedDates)
}

func TestCheckDateHoliday(t *testing.T) {
	cfg := domain.DefaultAvailability()
	cfg.Holidays = []string{"2026-10-20", "2026-10-21"}
	c := newTestChecker(t, cfg, &fakeBridge{})

	res, err := c.CheckDate(context.Background(), "2026-10-20", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonHoliday, res.UnavailableReason)
	assert.Equal(t, []string{"giovedì 22 ottobre", "venerdì 23 ottobre", "sabato 24 ottobre"}, res.Suggestions)

	slot, err := c.CheckSlot(context.Background(), "2026-10-21", "10:00", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonHoliday, slot.Reason)
}

func TestCheckDateListsFreeSlots(t *testing.T) {
	b := &fakeBridge{booked: map[string][]string{"2026-10-20": {"10:00", "bad"}}}
	c := newTestChecker(t, domain.DefaultAvailability(), b)

	res, err := c.CheckDate(context.Background(), "2026-10-20", "", "")
	require.NoError(t, err)
	// 20 half hours, minus two for lunch, minus one booked.
	assert.Len(t, res.AvailableSlots, 17)
	for _, s := range res.AvailableSlots {
		assert.True(t, s.Available)
		assert.NotEqual(t, "10:00", s.Time)
		assert.NotEqual(t, "13:00", s.Time)
	}
	assert.Contains(t, res.Message, "Per il martedì 20 ottobre, abbiamo disponibilità alle 09:00")
	assert.Contains(t, res.Message, "Quale orario preferisce?")
}

func TestCheckSlotAlreadyBooked(t *testing.T) {
	b := &fakeBridge{booked: map[string][]string{"2026-10-20": {"10:00"}}}
	cfg := domain.DefaultAvailability()
	cfg.ServiceDurations = map[string]int{"colore": 60}
	c := newTestChecker(t, cfg, b)
	ctx := context.Background()

	res, err := c.CheckSlot(ctx, "2026-10-20", "10:00", "", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyBooked, res.Reason)
	assert.Equal(t, []string{"09:00", "09:30", "10:30"}, res.Alternatives)

	res, err = c.CheckSlot(ctx, "2026-10-20", "09:30", "", "")
	require.NoError(t, err)
	assert.True(t, res.Available)

	res, err = c.CheckSlot(ctx, "2026-10-20", "09:30", "colore", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyBooked, res.Reason)
}

func TestCheckDateFullyBooked(t *testing.T) {
	cfg := domain.DefaultAvailability()
	cfg.OpeningTime, cfg.ClosingTime = "09:00", "10:00"
	cfg.LunchStart, cfg.LunchEnd = "", ""
	b := &fakeBridge{booked: map[string][]string{"2026-10-20": {"09:00", "09:30"}}}
	c := newTestChecker(t, cfg, b)

	res, err := c.CheckDate(context.Background(), "2026-10-20", "", "")
	require.NoError(t, err)
	assert.Empty(t, res.AvailableSlots)
	assert.Equal(t, ReasonAlreadyBooked, res.UnavailableReason)
	assert.Len(t, res.Suggestions, 3)
	assert.Equal(t, "mercoledì 21 ottobre", res.Suggestions[0])
}

func TestCheckSlotOperatorUnavailable(t *testing.T) {
	b := &fakeBridge{operatorFree: false, operatorSlots: []string{"11:00", "11:30", "12:00", "12:30"}}
	c := newTestChecker(t, domain.DefaultAvailability(), b)

	res, err := c.CheckSlot(context.Background(), "2026-10-20", "10:00", "", "op-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonOperatorUnavailable, res.Reason)
	assert.Equal(t, []string{"11:00", "11:30", "12:00"}, res.Alternatives)
	assert.Equal(t, 1, b.operatorCalls)

	b.operatorFree = true
	res, err = c.CheckSlot(context.Background(), "2026-10-20", "10:00", "", "op-1")
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestCheckOperatorAvailability(t *testing.T) {
	b := &fakeBridge{operatorFree: false, operatorSlots: []string{"15:00"}, alternatives: []string{"Giulia"}}
	c := newTestChecker(t, domain.DefaultAvailability(), b)

	res, err := c.CheckOperatorAvailability(context.Background(), "op-1", "2026-10-20", "10:00")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, []string{"15:00"}, res.Slots)
	assert.Equal(t, []string{"Giulia"}, res.AlternativeOperators)

	c = newTestChecker(t, domain.DefaultAvailability(), nil)
	res, err = c.CheckOperatorAvailability(context.Background(), "op-1", "2026-10-20", "")
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestCheckWeek(t *testing.T) {
	c := newTestChecker(t, domain.DefaultAvailability(), &fakeBridge{})

	res, err := c.CheckWeek(context.Background(), 0, "", "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", res.WeekStart)
	require.Len(t, res.AvailableDays, 6)
	assert.Equal(t, "2026-10-19", res.AvailableDays[0].Date)
	assert.Equal(t, 6, res.AvailableDays[0].SlotCount)
	assert.Equal(t, "martedì 20 ottobre", res.AvailableDays[1].DayName)
	assert.Equal(t, 18, res.AvailableDays[1].SlotCount)

	next, err := c.CheckWeek(context.Background(), 1, "", "", fixedNow.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-26", next.WeekStart)
	assert.Len(t, next.AvailableDays, 6)
}

func TestBridgeErrorPropagates(t *testing.T) {
	boom := errors.New("bridge down")
	c := newTestChecker(t, domain.DefaultAvailability(), &fakeBridge{bookedErr: boom})

	_, err := c.CheckDate(context.Background(), "2026-10-20", "", "")
	assert.ErrorIs(t, err, boom)

	_, err = c.CheckSlot(context.Background(), "2026-10-20", "10:00", "", "")
	assert.ErrorIs(t, err, boom)
}

func TestSpread(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, spread([]string{"a", "b"}, 4))
	assert.Equal(t, []string{"a", "c", "e", "g"}, spread([]string{"a", "b", "c", "d", "e", "f", "g"}, 4))
}
