package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/booking"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/events"
	"github.com/fluxion/voice-agent/internal/faq"
	"github.com/fluxion/voice-agent/internal/session"
	"github.com/fluxion/voice-agent/internal/vertical"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// Monday 19 October 2026, 14:00.
var pipelineStart = time.Date(2026, time.October, 19, 14, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu           sync.Mutex
	customers    []domain.Candidate
	operators    []entities.Operator
	appointments []booking.AppointmentRequest
	waitlist     []booking.WaitlistRequest
}

func (f *fakeBackend) SearchCustomers(context.Context, string, string) ([]domain.Candidate, error) {
	return f.customers, nil
}

func (f *fakeBackend) CreateCustomer(_ context.Context, c booking.NewCustomer) (domain.Candidate, error) {
	return domain.Candidate{ID: "C9", Name: c.Name, Surname: c.Surname, Phone: c.Phone}, nil
}

func (f *fakeBackend) Operators(context.Context) ([]entities.Operator, error) { return f.operators, nil }

func (f *fakeBackend) CreateAppointment(_ context.Context, req booking.AppointmentRequest) (booking.AppointmentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appointments = append(f.appointments, req)
	return booking.AppointmentResult{ID: "APP-1"}, nil
}

func (f *fakeBackend) AddToWaitlist(_ context.Context, req booking.WaitlistRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitlist = append(f.waitlist, req)
	return "W-1", nil
}

type fakeSlots struct{}

func (fakeSlots) BookedSlots(context.Context, string, string) ([]string, error) { return nil, nil }

func (fakeSlots) OperatorAvailability(context.Context, string, string, string) (bool, []string, []string, error) {
	return true, nil, nil, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.envs))
	for _, e := range p.envs {
		out = append(out, e.EventType)
	}
	return out
}

type stubLLMClient struct {
	mu       sync.Mutex
	response LLMResponse
	err      error
	requests []LLMRequest
}

func (s *stubLLMClient) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return s.response, nil
}

func testSalone() *vertical.Config {
	return &vertical.Config{
		Name:        "salone",
		DisplayName: "Salone di bellezza",
		Services: map[string]vertical.ServiceSpec{
			"taglio": {DisplayName: "taglio", DurationMinutes: 30, Price: "25 €"},
			"colore": {DisplayName: "colore", Aliases: []string{"tinta"}, DurationMinutes: 60},
		},
		FAQ: []faq.Entry{
			{ID: "parcheggio", Keywords: []string{"parcheggio"}, Question: "C'è parcheggio?", Answer: "Sì, c'è un parcheggio gratuito in {{INDIRIZZO}}."},
		},
		Responses: map[string]vertical.Template{
			"greeting":   "Buongiorno, sono Sara di {{BUSINESS_NAME}}. Come posso aiutarla?",
			"farewell":   "Grazie per aver chiamato {{BUSINESS_NAME}}. Buona giornata!",
			"escalation": "Mi dispiace per il disagio. La metto subito in contatto con un operatore.",
		},
		Variables: map[string]string{"BUSINESS_NAME": "Salone Fluxion", "INDIRIZZO": "via Roma 12"},
	}
}

func testMedical() *vertical.Config {
	return &vertical.Config{
		Name:        "medical",
		DisplayName: "Studio medico",
		Responses:   map[string]vertical.Template{"greeting": "Studio medico, buongiorno."},
		TriageRules: []vertical.TriageRule{
			{Keywords: []string{"dolore al petto"}, Urgency: vertical.UrgencyEmergency, Response: "Chiami subito il 112."},
			{Keywords: []string{"febbre"}, Urgency: vertical.UrgencyUrgent, Response: "La visitiamo oggi."},
		},
	}
}

type pipelineFixture struct {
	p         *Pipeline
	sessions  *session.Manager
	store     *session.SQLStore
	backend   *fakeBackend
	publisher *recordingPublisher
	llm       *stubLLMClient
	stream    *Broadcaster
	clock     *testClock
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	clock := &testClock{now: pipelineStart}
	store, err := session.Open(session.DriverSQLite, filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(false))

	sessions := session.NewManager(store,
		session.WithClock(clock.Now),
		session.WithTimeout(30*time.Minute),
		session.WithLogger(logging.Discard()),
	)
	registry := vertical.NewRegistry(t.TempDir(), vertical.WithLogger(logging.Discard()))
	registry.Put(testSalone())
	registry.Put(testMedical())

	f := &pipelineFixture{
		sessions:  sessions,
		store:     store,
		backend:   &fakeBackend{},
		publisher: &recordingPublisher{},
		llm:       &stubLLMClient{response: LLMResponse{Text: "Purtroppo non so rispondere a questo.", Provider: "stub"}},
		stream:    NewBroadcaster(),
		clock:     clock,
	}
	machines := NewMachines(f.backend, fakeSlots{}, clock.Now, time.UTC, logging.Discard())
	f.p = NewPipeline(sessions, registry, machines,
		WithLLM(f.llm, "test-model"),
		WithPublisher(f.publisher),
		WithBroadcaster(f.stream),
		WithClock(clock.Now),
		WithDefaults("salone", "Fluxion"),
		WithLogger(logging.Discard()),
	)
	return f
}

func (f *pipelineFixture) say(t *testing.T, sessionID, text string) TurnResult {
	t.Helper()
	res, err := f.p.Process(context.Background(), TurnRequest{SessionID: sessionID, Text: text})
	require.NoError(t, err)
	return res
}

func (f *pipelineFixture) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := f.sessions.LoadSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

// identify binds a session to Gigio Peruzzi (C1) before any turn.
func (f *pipelineFixture) identify(t *testing.T, id string) {
	t.Helper()
	h, err := f.sessions.Acquire(context.Background(), id)
	require.NoError(t, err)
	b := &h.Session().Booking
	b.ClientID, b.ClientName, b.ClientSurname, b.ClientPhone, b.ClientVIP = "C1", "Gigio", "Peruzzi", "3331234567", true
	h.Release()
}

func (f *pipelineFixture) open(t *testing.T, verticalName string) string {
	t.Helper()
	res, err := f.p.Greet(context.Background(), TurnRequest{Vertical: verticalName})
	require.NoError(t, err)
	return res.SessionID
}

func TestGreetOpensSession(t *testing.T) {
	f := newPipelineFixture(t)
	res, err := f.p.Greet(context.Background(), TurnRequest{})
	require.NoError(t, err)

	assert.True(t, res.NewSession)
	assert.Equal(t, domain.LayerExact, res.Layer)
	assert.Equal(t, domain.IntentGreeting, res.Intent)
	assert.Equal(t, "Buongiorno, sono Sara di Salone Fluxion. Come posso aiutarla?", res.Response)

	again, err := f.p.Greet(context.Background(), TurnRequest{SessionID: res.SessionID})
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, again.SessionID)
	assert.False(t, again.NewSession)
}

func TestHappyPathBooking(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")
	f.identify(t, id)

	res := f.say(t, id, "vorrei prenotare un taglio per domani alle 15")
	assert.Equal(t, domain.LayerIntent, res.Layer)
	assert.Equal(t, domain.IntentBooking, res.Intent)
	assert.Contains(t, res.Response, "taglio")
	assert.Contains(t, res.Response, "domani")
	assert.Contains(t, res.Response, "15:00")
	assert.Equal(t, domain.StateConfirming, f.session(t, id).Booking.State)

	res = f.say(t, id, "sì, confermo")
	assert.Equal(t, domain.ActionBookingCreated, res.BookingAction)
	require.Len(t, f.backend.appointments, 1)
	assert.Equal(t, booking.AppointmentRequest{ClientID: "C1", Service: "taglio", Date: "2026-10-20", Time: "15:00"}, f.backend.appointments[0])

	s := f.session(t, id)
	assert.Equal(t, domain.StateCompleted, s.Booking.State)
	assert.Equal(t, "APP-1", s.BookingID)
	assert.Equal(t, domain.SessionActive, s.State, "a booking does not end the call")
	assert.Equal(t, 2, s.TotalTurns)
	assert.Contains(t, f.publisher.types(), events.TypeBookingCreated)

	res = f.say(t, id, "arrivederci")
	assert.Equal(t, domain.LayerExact, res.Layer)
	s = f.session(t, id)
	assert.Equal(t, domain.SessionCompleted, s.State)
	assert.Equal(t, domain.OutcomeBookingCreated, s.Outcome)
}

func TestDuplicateTurnIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")
	f.identify(t, id)

	f.say(t, id, "vorrei prenotare un taglio per domani alle 15")
	first := f.say(t, id, "sì, confermo")
	second := f.say(t, id, "sì, confermo")

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.TurnID, second.TurnID)
	assert.Equal(t, first.BookingAction, second.BookingAction)
	assert.Len(t, f.backend.appointments, 1)
	assert.Equal(t, 2, f.session(t, id).TotalTurns)
}

func TestNewCustomerConfirmsPhoneThenBooking(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")

	f.say(t, id, "vorrei prenotare un taglio domani alle 15")
	f.say(t, id, "Mario")
	f.say(t, id, "Bianchi")
	f.say(t, id, "3331234567")
	assert.Equal(t, domain.StateConfirmingPhone, f.session(t, id).Booking.State)

	res := f.say(t, id, "sì")
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.StateConfirming, f.session(t, id).Booking.State)

	res = f.say(t, id, "sì")
	assert.False(t, res.Duplicate, "a second yes answers the booking summary")
	assert.Equal(t, domain.ActionBookingCreated, res.BookingAction)
	require.Len(t, f.backend.appointments, 1)
	assert.Equal(t, booking.AppointmentRequest{ClientID: "C9", Service: "taglio", Date: "2026-10-20", Time: "15:00"}, f.backend.appointments[0])

	s := f.session(t, id)
	assert.Equal(t, domain.StateCompleted, s.Booking.State)
	assert.Equal(t, 6, s.TotalTurns)
	assert.Contains(t, f.publisher.types(), events.TypeBookingCreated)
}

func TestRepeatAfterRetryWindowIsProcessed(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")

	first := f.say(t, id, "c'è parcheggio?")
	f.clock.Advance(10 * time.Second)
	second := f.say(t, id, "c'è parcheggio?")

	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.TurnID, second.TurnID)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 2, f.session(t, id).TotalTurns)
}

func TestServiceAndTimeStartBookingWithoutVerb(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")
	f.identify(t, id)

	res := f.say(t, id, "taglio oggi alle quindici")
	assert.Equal(t, domain.LayerIntent, res.Layer)
	assert.Equal(t, domain.IntentBooking, res.Intent)
	assert.Contains(t, res.Response, "preavviso di almeno 2 ore")
	assert.Empty(t, f.llm.requests)
	assert.Empty(t, f.backend.appointments)

	s := f.session(t, id)
	assert.Equal(t, domain.StateWaitingTime, s.Booking.State)
	assert.Equal(t, "taglio", s.Booking.Service)
	assert.Equal(t, "2026-10-19", s.Booking.Date)
}

func TestServiceAndDayStartBookingForNewCaller(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")

	res := f.say(t, id, "un taglio per domani")
	assert.Equal(t, domain.LayerIntent, res.Layer)
	assert.Contains(t, res.Response, "nome")

	s := f.session(t, id)
	assert.Equal(t, domain.StateWaitingName, s.Booking.State)
	assert.Equal(t, "taglio", s.Booking.Service)
	assert.Equal(t, "2026-10-20", s.Booking.Date)
}

func TestNamedOperatorIsNotEscalation(t *testing.T) {
	f := newPipelineFixture(t)
	f.backend.operators = []entities.Operator{{ID: "OP1", FirstName: "Marco", LastName: "Verdi"}}
	id := f.open(t, "salone")
	f.identify(t, id)

	res := f.say(t, id, "vorrei il taglio con l'operatore Marco")
	assert.False(t, res.Escalated)
	assert.Equal(t, domain.LayerIntent, res.Layer)
	assert.Equal(t, domain.IntentBooking, res.Intent)

	s := f.session(t, id)
	assert.Equal(t, domain.SessionActive, s.State)
	assert.Equal(t, "OP1", s.Booking.OperatorID)
	assert.Equal(t, "taglio", s.Booking.Service)
	assert.Equal(t, domain.StateWaitingDate, s.Booking.State)

	res = f.say(t, id, "mi passi un operatore")
	assert.True(t, res.Escalated)
	assert.Equal(t, domain.LayerSentiment, res.Layer)
}

func TestExplicitEscalation(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")

	res := f.say(t, id, "passami un operatore umano")
	assert.Equal(t, domain.LayerSentiment, res.Layer)
	assert.True(t, res.Escalated)
	assert.Equal(t, domain.IntentOperatorEscalation, res.Intent)
	assert.Equal(t, "Mi dispiace per il disagio. La metto subito in contatto con un operatore.", res.Response)

	stored, err := f.store.LoadSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEscalated, stored.State)
	assert.Equal(t, domain.OutcomeEscalated, stored.Outcome)
	assert.Equal(t, "user_requested", stored.EscalationReason)
	require.Len(t, stored.Turns, 1)
	assert.Equal(t, domain.LayerSentiment, stored.Turns[0].Layer)
	assert.Contains(t, f.publisher.types(), events.TypeSessionEscalated)
}

func TestClosedSessionStartsFresh(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")
	f.say(t, id, "passami un operatore umano")

	res := f.say(t, id, "buongiorno")
	assert.True(t, res.NewSession)
	assert.NotEqual(t, id, res.SessionID)
	assert.Equal(t, domain.LayerExact, res.Layer)
	assert.Equal(t, domain.IntentGreeting, res.Intent)
	assert.Contains(t, res.Response, "Salone Fluxion")

	old, err := f.store.LoadSession(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, old.Turns, 1, "no turn is appended to a closed session")
}

func TestExpiredSessionTimesOut(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")
	f.say(t, id, "c'è parcheggio?")

	f.clock.Advance(31 * time.Minute)
	res := f.say(t, id, "quanto costa il taglio?")
	assert.True(t, res.NewSession)
	assert.Equal(t, domain.IntentGreeting, res.Intent)

	old, err := f.store.LoadSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionTimeout, old.State)
	assert.Equal(t, domain.OutcomeTimeout, old.Outcome)
}

func TestFAQThenFarewell(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")

	res := f.say(t, id, "c'è parcheggio?")
	assert.Equal(t, domain.LayerFAQ, res.Layer)
	assert.Equal(t, "Sì, c'è un parcheggio gratuito in via Roma 12.", res.Response)

	res = f.say(t, id, "arrivederci")
	assert.Equal(t, domain.LayerExact, res.Layer)
	assert.Equal(t, domain.SessionCompleted, res.SessionState)
	assert.Equal(t, domain.OutcomeInfoProvided, f.session(t, id).Outcome)
}

func TestLLMFallbackLayer(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")

	res := f.say(t, id, "mi racconti una barzelletta")
	assert.Equal(t, domain.LayerLLM, res.Layer)
	assert.Equal(t, "Purtroppo non so rispondere a questo.", res.Response)

	require.Len(t, f.llm.requests, 1)
	req := f.llm.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "mi racconti una barzelletta", req.Messages[len(req.Messages)-1].Content)
	assert.Contains(t, req.System[0], "Sara")

	s := f.session(t, id)
	assert.Equal(t, 1, s.LLMCalls)
	assert.True(t, s.Turns[0].UsedLLM)
}

func TestLLMFailureUsesCannedAnswer(t *testing.T) {
	f := newPipelineFixture(t)
	f.llm.err = errors.New("provider down")
	id := f.open(t, "salone")

	res := f.say(t, id, "mi racconti una barzelletta")
	assert.Equal(t, domain.LayerLLM, res.Layer)
	assert.Equal(t, cannedFallbacks[HintGeneric], res.Response)

	s := f.session(t, id)
	assert.True(t, s.Turns[0].UsedLLM)
	assert.Equal(t, HintGeneric, s.Turns[0].Entities["fallback"])
}

func TestConfirmationOutsideBooking(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")

	res := f.say(t, id, "sì")
	assert.Equal(t, domain.LayerIntent, res.Layer)
	assert.Equal(t, "Perfetto. Come posso aiutarla?", res.Response)
	assert.Empty(t, res.BookingAction)
	assert.Empty(t, f.backend.appointments)
}

func TestTriage(t *testing.T) {
	f := newPipelineFixture(t)

	id := f.open(t, "medical")
	res := f.say(t, id, "mio padre ha un forte dolore al petto")
	assert.Equal(t, domain.LayerSentiment, res.Layer)
	assert.True(t, res.Escalated)
	assert.Equal(t, "Chiami subito il 112.", res.Response)
	stored, err := f.store.LoadSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "triage_emergency", stored.EscalationReason)

	id = f.open(t, "medical")
	res = f.say(t, id, "ho la febbre da ieri")
	assert.False(t, res.Escalated)
	assert.Equal(t, "urgent", f.session(t, id).Turns[0].Entities["triage"])
}

func TestResetClosesSession(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")
	f.say(t, id, "c'è parcheggio?")

	require.NoError(t, f.p.Reset(context.Background(), id))
	s := f.session(t, id)
	assert.Equal(t, domain.SessionCompleted, s.State)
	assert.Equal(t, domain.OutcomeInfoProvided, s.Outcome)

	assert.NoError(t, f.p.Reset(context.Background(), id), "resetting twice is a no-op")
}

func TestTurnsAreBroadcast(t *testing.T) {
	f := newPipelineFixture(t)
	ch, cancel := f.stream.Subscribe(4)
	defer cancel()

	id := f.open(t, "salone")
	f.say(t, id, "c'è parcheggio?")

	select {
	case evt := <-ch:
		assert.Equal(t, id, evt.SessionID)
		assert.Equal(t, 1, evt.TurnNumber)
		assert.Equal(t, domain.LayerFAQ, evt.Layer)
	case <-time.After(time.Second):
		t.Fatal("no turn event")
	}
}

func TestSessionInvariantsHold(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.open(t, "salone")
	for _, text := range []string{"buongiorno", "c'è parcheggio?", "mi racconti una barzelletta", "vorrei prenotare un taglio"} {
		f.clock.Advance(time.Second)
		f.say(t, id, text)
	}

	s := f.session(t, id)
	require.Len(t, s.Turns, 4)
	assert.Equal(t, len(s.Turns), s.TotalTurns)
	var latency int64
	llm := 0
	for i, turn := range s.Turns {
		assert.Equal(t, i+1, turn.Number)
		assert.Equal(t, turn.Layer == domain.LayerLLM, turn.UsedLLM)
		assert.GreaterOrEqual(t, turn.IntentConfidence, 0.0)
		assert.LessOrEqual(t, turn.IntentConfidence, 1.0)
		latency += turn.LatencyMs
		if turn.UsedLLM {
			llm++
		}
	}
	assert.Equal(t, latency, s.TotalLatencyMs)
	assert.Equal(t, llm, s.LLMCalls)
	assert.Equal(t, s.Turns[3].Timestamp, s.UpdatedAt)
	assert.Equal(t, s.UpdatedAt.Add(30*time.Minute), s.ExpiresAt)
}

func TestUnknownVertical(t *testing.T) {
	f := newPipelineFixture(t)
	f.p.defaultVertical = "missing"
	_, err := f.p.Greet(context.Background(), TurnRequest{Vertical: "nope"})
	assert.ErrorIs(t, err, ErrUnknownVertical)
}

func TestEmptyTurnRejected(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.p.Process(context.Background(), TurnRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyTurn)
}
