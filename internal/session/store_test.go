package session

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/domain"
)

var storeNow = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

func sampleSession() *domain.Session {
	s := &domain.Session{
		ID:           "sess-1",
		Channel:      domain.ChannelVoice,
		State:        domain.SessionActive,
		Vertical:     "salone",
		BusinessName: "Salone Bella",
		CreatedAt:    storeNow,
		UpdatedAt:    storeNow.Add(time.Minute),
		ExpiresAt:    storeNow.Add(31 * time.Minute),
		Outcome:      domain.OutcomeUnknown,
		Turns: []domain.Turn{{
			ID: "t1", Number: 1, Timestamp: storeNow.Add(time.Minute),
			UserInput: "vorrei un taglio", Intent: domain.IntentBooking, IntentConfidence: 0.9,
			Response: "Per quale giorno?", Layer: domain.LayerIntent, LatencyMs: 12,
		}},
		TotalTurns:     1,
		TotalLatencyMs: 12,
	}
	s.Booking.State = domain.StateWaitingDate
	s.Booking.Service = "taglio"
	return s
}

func sessionRow(s *domain.Session) *sqlmock.Rows {
	turns := `[{"id":"t1","turn_number":1,"timestamp":"2026-10-19T14:01:00Z","user_input":"vorrei un taglio","detected_intent":"BOOKING","intent_confidence":0.9,"response":"Per quale giorno?","latency_ms":12,"layer_used":"L2","sentiment":"","frustration_level":0,"used_llm":false,"escalated":false}]`
	ctx, _ := s.EncodeContext()
	return sqlmock.NewRows([]string{
		"id", "channel", "state", "vertical", "business_name", "created_at", "updated_at", "expires_at",
		"client_id", "client_name", "phone", "turns", "context", "outcome", "booking_id", "escalation_reason",
		"total_turns", "total_latency_ms", "llm_calls",
	}).AddRow(
		s.ID, "voice", "active", "salone", "Salone Bella",
		s.CreatedAt.UnixMilli(), s.UpdatedAt.UnixMilli(), s.ExpiresAt.UnixMilli(),
		"", "", "", turns, string(ctx), "unknown", "", "",
		int64(1), int64(12), int64(0),
	)
}

func TestSaveSessionUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := sampleSession()
	args := make([]driver.Value, 19)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[0] = "sess-1"
	args[2] = "active"
	args[5] = storeNow.UnixMilli()
	mock.ExpectExec(`INSERT INTO sessions .* ON CONFLICT \(id\) DO UPDATE SET`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewSQLStore(db, DriverSQLite).SaveSession(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSessionDecodesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	want := sampleSession()
	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id = \?`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(want))

	got, err := NewSQLStore(db, DriverSQLite).LoadSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.CreatedAt, got.CreatedAt)
	assert.Equal(t, want.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, domain.StateWaitingDate, got.Booking.State)
	assert.Equal(t, "taglio", got.Booking.Service)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, domain.LayerIntent, got.Turns[0].Layer)
	assert.Equal(t, 1, got.TotalTurns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSessionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewSQLStore(db, DriverSQLite).LoadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRebind(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM audit_log WHERE retention_until < \$1`).
		WithArgs(storeNow.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewSQLStore(db, DriverPostgres).DeleteExpiredAudit(context.Background(), storeNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAuditSetsRetention(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entry, err := NewAuditEntry("sess-1", ActionBookingCreated, map[string]any{"booking_id": "APP-1"}, storeNow, DefaultRetention())
	require.NoError(t, err)
	assert.Equal(t, CategoryBooking, entry.Category)
	assert.Equal(t, storeNow.AddDate(0, 0, 1095), entry.RetentionUntil)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(entry.ID, "sess-1", ActionBookingCreated, "booking", storeNow.UnixMilli(), `{"booking_id":"APP-1"}`, storeNow.AddDate(0, 0, 1095).UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewSQLStore(db, DriverSQLite).AppendAudit(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionRemovesAuditTrail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM audit_log WHERE session_id = \?`).WithArgs("sess-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM sessions WHERE id = \?`).WithArgs("sess-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewSQLStore(db, DriverSQLite).DeleteSession(context.Background(), "sess-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE sessions SET state = 'timeout', outcome = 'timeout'`).
		WithArgs(storeNow.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewSQLStore(db, DriverSQLite).ExpireStale(context.Background(), storeNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRetentionDays(t *testing.T) {
	r := DefaultRetention()
	assert.Equal(t, 2555, r.Days(CategoryPersonalData))
	assert.Equal(t, 1825, r.Days(CategoryConsent))
	assert.Equal(t, 1095, r.Days(CategoryBooking))
	assert.Equal(t, 365, r.Days(CategoryVoiceSession))
	assert.Equal(t, CategoryVoiceSession, CategoryFor(ActionTurn))
	assert.Equal(t, CategoryPersonalData, CategoryFor(ActionCustomerCreated))
}

func TestSQLiteRoundTrip(t *testing.T) {
	st, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "voice", "sessions.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(false))

	ctx := context.Background()
	s := sampleSession()
	require.NoError(t, st.SaveSession(ctx, s))

	s.Booking.Date = "2026-10-20"
	s.State = domain.SessionCompleted
	s.Outcome = domain.OutcomeBookingCreated
	require.NoError(t, st.SaveSession(ctx, s))

	got, err := st.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, got.State)
	assert.Equal(t, "2026-10-20", got.Booking.Date)
	assert.Equal(t, s.Turns[0].UserInput, got.Turns[0].UserInput)

	active, err := st.ActiveSessions(ctx, storeNow)
	require.NoError(t, err)
	assert.Empty(t, active)

	entry, err := NewAuditEntry("sess-1", ActionTurn, nil, storeNow, DefaultRetention())
	require.NoError(t, err)
	require.NoError(t, st.AppendAudit(ctx, entry))
	trail, err := st.AuditTrail(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, ActionTurn, trail[0].Action)

	old, err := st.ClosedBefore(ctx, storeNow.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	require.NoError(t, st.DeleteSession(ctx, "sess-1"))
	_, err = st.LoadSession(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
