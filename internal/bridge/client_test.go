package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/booking"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/pkg/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(logging.Discard()), WithRetryDelay(time.Millisecond)}, opts...)
	return NewClient(srv.URL, opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSearchCustomersSendsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/clienti/search", r.URL.Path)
		assert.Equal(t, "Gigio Peruzzi", r.URL.Query().Get("q"))
		assert.Equal(t, "1990-03-15", r.URL.Query().Get("data_nascita"))
		writeJSON(w, http.StatusOK, map[string]any{
			"clienti": []map[string]any{{"id": "C1", "nome": "Gigio", "cognome": "Peruzzi", "vip": true}},
		})
	})

	got, err := c.SearchCustomers(context.Background(), "Gigio Peruzzi", "1990-03-15")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Candidate{ID: "C1", Name: "Gigio", Surname: "Peruzzi", VIP: true}, got[0])
}

func TestRetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"operatori": []map[string]any{
			{"id": "O1", "nome": "Giulia", "cognome": "Rossi", "genere": "F", "alias": []string{"giuli"}},
		}})
	})

	ops, err := c.Operators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, ops, 1)
	assert.Equal(t, "Giulia Rossi", ops[0].FullName())
	assert.Equal(t, []string{"giuli"}, ops[0].Aliases)
}

func TestGivesUpAfterSecondTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.BookedSlots(context.Background(), "2026-10-20", "")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, IsTransient(err))
	assert.False(t, booking.IsPermanent(err))
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := c.AddToWaitlist(context.Background(), booking.WaitlistRequest{ClientID: "C1", Service: "taglio"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrPermanent)
	assert.True(t, booking.IsPermanent(err))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestCreateAppointmentRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req booking.AppointmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "C1", req.ClientID)
		assert.Equal(t, "2026-10-20", req.Date)
		assert.Equal(t, "10:00", req.Time)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "slot occupato"})
	})

	_, err := c.CreateAppointment(context.Background(), booking.AppointmentRequest{
		ClientID: "C1", Service: "taglio", Date: "2026-10-20", Time: "10:00",
	})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "slot occupato", rejected.Message)
	assert.True(t, booking.IsPermanent(err))
}

func TestCreateCustomer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Mario", body["nome"])
		assert.Equal(t, "Bianchi", body["cognome"])
		assert.Equal(t, "3471234567", body["telefono"])
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": "C42"})
	})

	got, err := c.CreateCustomer(context.Background(), booking.NewCustomer{Name: "Mario", Surname: "Bianchi", Phone: "3471234567"})
	require.NoError(t, err)
	assert.Equal(t, "C42", got.ID)
	assert.Equal(t, "Bianchi", got.Surname)
}

func TestMalformedBodyIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := c.SearchCustomers(context.Background(), "Gigio", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestSettingsFlattensAndUppercases(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"settings": map[string]any{
			"prezzo_taglio": 25.0,
			"orario":        "9-19",
			"sconto":        12.5,
			"vuoto":         nil,
		}})
	})

	got, err := c.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PREZZO_TAGLIO": "25", "ORARIO": "9-19", "SCONTO": "12.5"}, got)
}

func TestGetSessionNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/voice/sessions/abc", r.URL.Path)
		http.NotFound(w, r)
	})

	_, err := c.GetSession(context.Background(), "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutSessionPostsJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var s domain.Session
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		assert.Equal(t, "abc", s.ID)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.PutSession(context.Background(), &domain.Session{ID: "abc", State: domain.SessionActive}))
}

func TestMetricsRecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewVoiceMetrics(reg)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": "W1"})
	}, WithMetrics(m))

	id, err := c.AddToWaitlist(context.Background(), booking.WaitlistRequest{ClientID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, "W1", id)
	expected := `
# HELP sara_bridge_requests_total Business bridge calls by endpoint and result
# TYPE sara_bridge_requests_total counter
sara_bridge_requests_total{endpoint="waitlist_add",result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sara_bridge_requests_total"))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(errors.New("connection refused")))
	assert.True(t, IsTransient(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, IsTransient(&StatusError{StatusCode: http.StatusUnprocessableEntity}))
	assert.False(t, IsTransient(&RejectedError{Message: "no"}))
}
