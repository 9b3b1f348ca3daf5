// Package conversation runs the turn pipeline: sentiment and triage (L0),
// exact phrases (L1), intent plus the booking dialog (L2), FAQ (L3) and the
// LLM fallback (L4), one turn at a time per session.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxion/voice-agent/internal/archive"
	"github.com/fluxion/voice-agent/internal/availability"
	"github.com/fluxion/voice-agent/internal/booking"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/events"
	"github.com/fluxion/voice-agent/internal/intent"
	"github.com/fluxion/voice-agent/internal/italian"
	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/internal/sentiment"
	"github.com/fluxion/voice-agent/internal/session"
	"github.com/fluxion/voice-agent/internal/vertical"
	"github.com/fluxion/voice-agent/pkg/logging"
)

var pipelineTracer = otel.Tracer("sara.internal.conversation")

var (
	// ErrEmptyTurn is returned for blank user text.
	ErrEmptyTurn = errors.New("conversation: empty turn")
	// ErrUnknownVertical is returned when neither the requested nor the
	// default vertical is loaded.
	ErrUnknownVertical = errors.New("conversation: unknown vertical")
)

const (
	defaultLLMTimeout = 2 * time.Second
	llmMaxTokens      = 200
	llmTemperature    = 0.3
	duplicateWindow   = 3 * time.Second

	responseGreeting       = "greeting"
	responseFarewell       = "farewell"
	responseOutsideBooking = "confirmation_outside_booking"
)

var defaultResponses = map[string]string{
	responseGreeting:       "Buongiorno, sono Sara di {{BUSINESS_NAME}}. Come posso aiutarla?",
	responseFarewell:       "Grazie per aver chiamato. Arrivederci!",
	responseOutsideBooking: "Perfetto. Come posso aiutarla?",
	booking.MsgEscalation:  "Mi dispiace per il disagio. La metto subito in contatto con un operatore.",
}

// TurnRequest is one caller utterance. Vertical, BusinessName, Channel and
// Phone only matter when a new session has to be opened.
type TurnRequest struct {
	SessionID    string
	Text         string
	Vertical     string
	BusinessName string
	Channel      domain.Channel
	Phone        string
}

// TurnResult is the pipeline's answer to one turn.
type TurnResult struct {
	SessionID     string               `json:"session_id"`
	TurnID        string               `json:"turn_id,omitempty"`
	Response      string               `json:"response"`
	Intent        domain.Intent        `json:"intent"`
	Layer         domain.Layer         `json:"layer"`
	BookingAction domain.BookingAction `json:"booking_action,omitempty"`
	Escalated     bool                 `json:"escalated"`
	SessionState  domain.SessionState  `json:"session_state"`
	NewSession    bool                 `json:"new_session,omitempty"`
	Duplicate     bool                 `json:"duplicate,omitempty"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLLM sets the L4 collaborator. Without one, L4 always answers with a
// canned fallback.
func WithLLM(c LLMClient, model string) Option {
	return func(p *Pipeline) { p.llm, p.llmModel = c, model }
}

// WithLLMTimeout bounds each L4 call.
func WithLLMTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.llmTimeout = d }
}

// WithPublisher sets where booking and escalation events go.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithMetrics(m *metrics.VoiceMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithDefaults sets the vertical and business name used for sessions
// opened without them.
func WithDefaults(verticalName, businessName string) Option {
	return func(p *Pipeline) { p.defaultVertical, p.businessName = verticalName, businessName }
}

// WithBroadcaster fans every processed turn out to live subscribers.
func WithBroadcaster(b *Broadcaster) Option {
	return func(p *Pipeline) { p.stream = b }
}

// Pipeline routes each turn to the cheapest layer able to answer it.
// Process must not run concurrently for one session: the Dispatcher and
// the session lease both guarantee it.
type Pipeline struct {
	sessions  *session.Manager
	verticals *vertical.Registry
	machines  *Machines
	analyzer  *sentiment.Analyzer

	llm        LLMClient
	llmModel   string
	llmTimeout time.Duration
	publisher  events.Publisher
	stream     *Broadcaster
	metrics    *metrics.VoiceMetrics
	logger     *logging.Logger
	now        func() time.Time

	defaultVertical string
	businessName    string
}

// NewPipeline wires the pipeline to its collaborators.
func NewPipeline(sessions *session.Manager, verticals *vertical.Registry, machines *Machines, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessions:   sessions,
		verticals:  verticals,
		machines:   machines,
		llmTimeout: defaultLLMTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	if p.publisher == nil {
		p.publisher = events.NewLogPublisher(p.logger)
	}
	p.analyzer = sentiment.NewAnalyzer(p.logger, sentiment.DefaultWindow)
	return p
}

// turnRun is the working state of one Process call.
type turnRun struct {
	h    *session.Handle
	s    *domain.Session
	cfg  *vertical.Config
	text string
	log  *logging.Logger
	turn domain.Turn

	// screened is text with staff titles dropped; escalation and intent
	// are scored on it.
	screened string

	booking    *booking.Result
	outcome    domain.Outcome
	escalation sentiment.Reason
}

func (r *turnRun) answer(layer domain.Layer, response string) {
	r.turn.Layer = layer
	r.turn.Response = response
}

func (r *turnRun) entity(key, value string) {
	if value == "" {
		return
	}
	if r.turn.Entities == nil {
		r.turn.Entities = map[string]string{}
	}
	r.turn.Entities[key] = value
}

func (r *turnRun) escalate(reason sentiment.Reason, response string) {
	r.turn.Response = response
	r.turn.Escalated = true
	r.escalation = reason
	r.outcome = domain.OutcomeEscalated
}

// Process handles one turn end to end.
func (p *Pipeline) Process(ctx context.Context, req TurnRequest) (TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return TurnResult{}, ErrEmptyTurn
	}
	ctx, span := pipelineTracer.Start(ctx, "conversation.process")
	defer span.End()
	start := p.now()

	h, err := p.acquire(ctx, &req)
	switch {
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrExpired):
		return p.restart(ctx, req)
	case err != nil:
		return TurnResult{}, err
	}
	defer h.Release()

	s := h.Session()
	log := p.logger.WithSession(s.ID)
	if last := s.LastTurn(); isRetransmit(s, last, text, start) {
		log.Debug("duplicate turn replayed", "turn_id", last.ID)
		return TurnResult{
			SessionID:     s.ID,
			TurnID:        last.ID,
			Response:      last.Response,
			Intent:        last.Intent,
			Layer:         last.Layer,
			BookingAction: last.BookingAction,
			Escalated:     last.Escalated,
			SessionState:  s.State,
			Duplicate:     true,
		}, nil
	}

	cfg, err := p.vertical(s.Vertical)
	if err != nil {
		return TurnResult{}, err
	}

	r := &turnRun{h: h, s: s, cfg: cfg, text: text, log: log}
	log.Debug("turn received", "text", archive.ScrubPII(text))
	p.route(ctx, r)
	turnID := p.finish(ctx, r, start)

	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("turn.layer", string(r.turn.Layer)),
		attribute.String("turn.intent", string(r.turn.Intent)),
	)
	return TurnResult{
		SessionID:     s.ID,
		TurnID:        turnID,
		Response:      r.turn.Response,
		Intent:        r.turn.Intent,
		Layer:         r.turn.Layer,
		BookingAction: r.turn.BookingAction,
		Escalated:     r.turn.Escalated,
		SessionState:  s.State,
	}, nil
}

// isRetransmit reports whether text repeats the last turn closely enough to
// be a client retry. A repeat while the booking dialog is collecting data
// answers a new question and is never a retry.
func isRetransmit(s *domain.Session, last *domain.Turn, text string, now time.Time) bool {
	if last == nil || last.UserInput != text {
		return false
	}
	if s.Booking.State.InProgress() {
		return false
	}
	return now.Sub(last.Timestamp) <= duplicateWindow
}

// acquire leases the requested session, opening a new one when the id is
// empty or unknown. req.SessionID is updated to the leased id.
func (p *Pipeline) acquire(ctx context.Context, req *TurnRequest) (*session.Handle, error) {
	if req.SessionID != "" {
		h, err := p.sessions.Acquire(ctx, req.SessionID)
		if !errors.Is(err, session.ErrNotFound) {
			return h, err
		}
	}
	s, err := p.open(ctx, *req)
	if err != nil {
		return nil, err
	}
	req.SessionID = s.ID
	return p.sessions.Acquire(ctx, s.ID)
}

func (p *Pipeline) route(ctx context.Context, r *turnRun) {
	r.screened = p.staffText(ctx, r)
	if p.layerSentiment(ctx, r) {
		return
	}
	cls, exact := intent.ExactMatch(r.text)
	if !exact {
		cls = intent.MatchPattern(r.screened, r.cfg.Examples())
	}
	r.turn.Intent, r.turn.IntentConfidence = cls.Intent, cls.Confidence
	if exact && p.layerExact(r, cls) {
		return
	}
	if p.layerIntent(ctx, r, cls) {
		return
	}
	if p.layerFAQ(ctx, r) {
		return
	}
	p.layerLLM(ctx, r)
}

// staffText drops the "operatore" title in front of a staff name. The
// operator list is only fetched when the title is mentioned.
func (p *Pipeline) staffText(ctx context.Context, r *turnRun) string {
	if p.machines == nil || !strings.Contains(italian.Fold(r.text), "operat") {
		return r.text
	}
	ops, err := p.machines.Operators(ctx)
	if err != nil {
		r.log.Warn("operator list unavailable", "error", err)
		return r.text
	}
	names := make([]string, 0, 2*len(ops))
	for _, op := range ops {
		names = append(names, op.FirstName, op.LastName)
		names = append(names, op.Aliases...)
	}
	return italian.DropStaffTitle(r.text, names)
}

// layerSentiment scores frustration, applies triage rules and escalates
// when the caller asks for a human or is too frustrated.
func (p *Pipeline) layerSentiment(ctx context.Context, r *turnRun) bool {
	a := p.analyzer.Analyze(ctx, r.screened, r.s.Frustration)
	r.s.Frustration = sentiment.Record(r.s.Frustration, a.RawScore, p.analyzer.Window())
	r.turn.Sentiment = a.Sentiment
	r.turn.FrustrationLevel = a.Level

	rule, triaged := r.cfg.Triage(r.text)
	if triaged && rule.Urgency != vertical.UrgencyEmergency {
		r.entity("triage", rule.Urgency)
	}
	emergency := triaged && rule.Urgency == vertical.UrgencyEmergency
	if !emergency && !a.ShouldEscalate {
		return false
	}

	cls := intent.Classify(r.screened, r.cfg.Examples())
	r.turn.Intent, r.turn.IntentConfidence = cls.Intent, cls.Confidence
	r.turn.Layer = domain.LayerSentiment
	if emergency {
		r.entity("triage", rule.Urgency)
		r.escalate(sentiment.ReasonTriageEmergency, rule.Response)
		return true
	}
	if a.WantsEscalation {
		r.turn.Intent, r.turn.IntentConfidence = domain.IntentOperatorEscalation, 1
	}
	r.escalate(a.Reason, p.render(ctx, r, booking.MsgEscalation, nil))
	return true
}

// layerExact answers cortesia phrases. While a booking is in progress only
// hold-on and goodbye phrases are answered here.
func (p *Pipeline) layerExact(r *turnRun, cls intent.Result) bool {
	if !cls.HasResponse() {
		return false
	}
	inBooking := r.s.Booking.State.InProgress()
	if inBooking && cls.Category != intent.CategoryAttesa && cls.Category != intent.CategoryCongedo {
		return false
	}
	r.answer(domain.LayerExact, cls.Response)
	if cls.Intent == domain.IntentFarewell && !inBooking {
		r.outcome = finalOutcome(r.s)
	}
	return true
}

// layerIntent hands booking-family turns, and every turn of a booking in
// progress, to the booking dialog.
func (p *Pipeline) layerIntent(ctx context.Context, r *turnRun, cls intent.Result) bool {
	b := &r.s.Booking
	inBooking := b.State.InProgress()
	switch {
	case cls.Intent == domain.IntentFarewell && !inBooking:
		r.answer(domain.LayerIntent, p.render(ctx, r, responseFarewell, nil))
		r.outcome = finalOutcome(r.s)
		return true
	case cls.Intent == domain.IntentConfirmation && !inBooking:
		r.answer(domain.LayerIntent, p.render(ctx, r, responseOutsideBooking, nil))
		return true
	}

	engage := inBooking || cls.Intent.BookingFamily() ||
		cls.Intent == domain.IntentUnknown || cls.Intent == domain.IntentGreeting
	if !engage || p.machines == nil {
		return false
	}
	m, err := p.machines.For(r.cfg)
	if err != nil {
		r.log.Error("booking dialog unavailable", "vertical", r.cfg.Name, "error", err)
		return false
	}
	res := m.Handle(ctx, b, booking.Input{Text: r.text, Intent: cls.Intent, Vertical: r.cfg})
	if !res.Handled || res.Response == "" {
		return false
	}

	r.answer(domain.LayerIntent, res.Response)
	if !inBooking && cls.Intent == domain.IntentUnknown && b.State.InProgress() {
		r.turn.Intent = domain.IntentBooking
	}
	r.booking = &res
	r.turn.BookingAction = res.Action
	for k, v := range res.Entities {
		r.entity(k, v)
	}
	if b.Identified() {
		r.s.ClientID = b.ClientID
		r.s.ClientName = b.FullName()
	}
	if r.s.Phone == "" {
		r.s.Phone = b.ClientPhone
	}
	if res.BookingID != "" {
		r.s.BookingID = res.BookingID
	}
	switch res.Action {
	case domain.ActionBookingCreated, domain.ActionBookingRescheduled:
		r.s.Outcome = domain.OutcomeBookingCreated
	case domain.ActionWaitlistAdded:
		if r.s.Outcome != domain.OutcomeBookingCreated {
			r.s.Outcome = domain.OutcomeWaitlistAdded
		}
	}
	if res.Escalate {
		r.escalate(res.Reason, res.Response)
	}
	return true
}

func (p *Pipeline) layerFAQ(ctx context.Context, r *turnRun) bool {
	ans, ok := p.verticals.SearchFAQ(ctx, r.cfg.Name, r.text)
	if !ok {
		return false
	}
	r.answer(domain.LayerFAQ, ans.Text)
	r.entity("faq_id", ans.EntryID)
	r.entity("faq_source", string(ans.Source))
	if r.turn.Intent == domain.IntentUnknown {
		r.turn.Intent, r.turn.IntentConfidence = domain.IntentInfo, ans.Confidence
	}
	markInfoProvided(r.s)
	return true
}

// layerLLM asks the LLM, falling back to a canned answer for the intent
// when it fails, times out or its breaker is open.
func (p *Pipeline) layerLLM(ctx context.Context, r *turnRun) {
	ctx, span := pipelineTracer.Start(ctx, "conversation.llm")
	defer span.End()

	r.turn.Layer = domain.LayerLLM
	markInfoProvided(r.s)
	key := fallbackKey(r.turn.Intent, r.s.Booking.State.InProgress())
	if p.llm == nil {
		r.turn.Response = p.fallback(ctx, r, key)
		return
	}

	lctx, cancel := context.WithTimeout(ctx, p.llmTimeout)
	defer cancel()
	resp, err := p.llm.Complete(lctx, LLMRequest{
		Model:       p.llmModel,
		System:      buildSystemPrompt(r.cfg, r.s),
		Messages:    buildMessages(r.s, r.text),
		MaxTokens:   llmMaxTokens,
		Temperature: llmTemperature,
	})
	if err == nil && resp.Text != "" {
		r.turn.Response = resp.Text
		r.entity("llm_provider", resp.Provider)
		return
	}
	if err != nil {
		span.RecordError(err)
		r.log.Warn("llm fallback used", "reason", key, "error", err)
	}
	r.turn.Response = p.fallback(ctx, r, key)
}

func (p *Pipeline) fallback(ctx context.Context, r *turnRun, key string) string {
	r.entity("fallback", key)
	if text, ok := p.verticals.RenderResponse(ctx, r.cfg.Name, key, nil); ok {
		return text
	}
	return cannedFallbacks[key]
}

// finish records the turn, applies closing and side effects, and notifies
// subscribers. Writes use a context that outlives the turn deadline.
func (p *Pipeline) finish(ctx context.Context, r *turnRun, start time.Time) string {
	wctx := context.WithoutCancel(ctx)
	r.turn.UserInput = r.text
	if r.turn.Intent == "" {
		r.turn.Intent = domain.IntentUnknown
	}
	latency := p.now().Sub(start)
	r.turn.LatencyMs = latency.Milliseconds()

	turnID := r.h.AddTurn(r.turn)
	if r.outcome != "" {
		reason := ""
		if r.escalation != sentiment.ReasonNone {
			reason = string(r.escalation)
		}
		r.h.Close(r.outcome, r.s.BookingID, reason)
	}
	_ = r.h.Persist(wctx)
	r.h.Audit(wctx, session.ActionTurn, map[string]any{
		"turn_id": turnID,
		"layer":   string(r.turn.Layer),
		"intent":  string(r.turn.Intent),
	})

	p.sideEffects(wctx, r)
	if r.outcome != "" {
		r.h.Audit(wctx, session.ActionSessionClosed, map[string]any{"outcome": string(r.outcome)})
	}

	p.metrics.ObserveTurn(string(r.turn.Layer), string(r.turn.Intent), latency)
	r.log.Info("turn processed",
		"turn_id", turnID,
		"layer", string(r.turn.Layer),
		"intent", string(r.turn.Intent),
		"state", r.s.Booking.State.String(),
		"latency_ms", r.turn.LatencyMs,
	)
	if p.stream != nil {
		p.stream.Publish(newTurnEvent(r.s, r.s.LastTurn()))
	}
	return turnID
}

// sideEffects publishes events and audit entries for what the turn did.
func (p *Pipeline) sideEffects(ctx context.Context, r *turnRun) {
	s := r.s
	if res := r.booking; res != nil {
		b := s.Booking
		if r.turn.Entities["client_id"] != "" && b.IsNewClient {
			r.h.Audit(ctx, session.ActionCustomerCreated, map[string]any{"client_id": b.ClientID})
		}
		switch res.Action {
		case domain.ActionBookingCreated, domain.ActionBookingRescheduled:
			created := events.BookingCreatedV1{
				BookingID:   res.BookingID,
				Vertical:    s.Vertical,
				ClientID:    b.ClientID,
				ClientName:  b.FullName(),
				ClientPhone: b.ClientPhone,
				Service:     b.Service,
				Date:        b.Date,
				Time:        b.Time,
				OperatorID:  b.OperatorID,
				NewClient:   b.IsNewClient,
			}
			if a := res.Appointment; a != nil {
				created.Service, created.Date, created.Time, created.OperatorID = a.Service, a.Date, a.Time, a.OperatorID
			}
			var evt events.CanonicalEvent = created
			if res.Action == domain.ActionBookingRescheduled {
				evt = events.BookingRescheduledV1{BookingCreatedV1: created}
			}
			p.emit(ctx, r, evt)
			r.h.Audit(ctx, session.ActionBookingCreated, map[string]any{
				"booking_id":  res.BookingID,
				"rescheduled": res.Action == domain.ActionBookingRescheduled,
			})
		case domain.ActionBookingCancelled:
			p.emit(ctx, r, events.BookingCancelledV1{
				Vertical: s.Vertical,
				ClientID: b.ClientID,
				Service:  b.Service,
				Date:     b.Date,
				Time:     b.Time,
			})
			r.h.Audit(ctx, session.ActionBookingCanceled, nil)
		case domain.ActionWaitlistAdded:
			added := events.WaitlistAddedV1{
				WaitlistID: r.turn.Entities["waitlist_id"],
				Vertical:   s.Vertical,
				ClientID:   b.ClientID,
				Service:    b.Service,
			}
			if w := res.Waitlist; w != nil {
				added.Service, added.PreferredDate, added.PreferredTime, added.Priority = w.Service, w.PreferredDate, w.PreferredTime, w.Priority
			}
			p.emit(ctx, r, added)
			r.h.Audit(ctx, session.ActionWaitlistAdded, map[string]any{"priority": added.Priority})
		}
	}

	if r.turn.Escalated {
		handoff := booking.NewHandoff(s, string(r.escalation), p.now())
		p.emit(ctx, r, events.SessionEscalatedV1{
			Reason:  string(r.escalation),
			Handoff: handoff,
			Summary: booking.FormatHandoff(handoff),
		})
		r.h.Audit(ctx, session.ActionEscalated, map[string]any{"reason": string(r.escalation)})
		p.metrics.ObserveEscalation(string(r.escalation))
	}
}

func (p *Pipeline) emit(ctx context.Context, r *turnRun, evt events.CanonicalEvent) {
	if _, err := events.Emit(ctx, p.publisher, r.s.ID, evt); err != nil {
		r.log.Warn("event publish failed", "event_type", evt.EventType(), "error", err)
	}
}

// Greet opens a session (or reuses an open one) and returns the vertical
// greeting.
func (p *Pipeline) Greet(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.SessionID != "" {
		s, err := p.sessions.GetSession(ctx, req.SessionID)
		if err == nil && !s.State.Closed() {
			return p.greeting(ctx, s, false)
		}
		if err == nil || errors.Is(err, session.ErrExpired) {
			return p.restart(ctx, req)
		}
	}
	s, err := p.open(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	return p.greeting(ctx, s, true)
}

// restart opens a fresh session for a closed or expired one, inheriting
// its vertical, business and channel, and greets the caller.
func (p *Pipeline) restart(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if old, err := p.sessions.LoadSession(ctx, req.SessionID); err == nil {
		if req.Vertical == "" {
			req.Vertical = old.Vertical
		}
		if req.BusinessName == "" {
			req.BusinessName = old.BusinessName
		}
		if req.Channel == "" {
			req.Channel = old.Channel
		}
		if req.Phone == "" {
			req.Phone = old.Phone
		}
	}
	s, err := p.open(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	p.logger.WithSession(s.ID).Info("session restarted", "previous_session_id", req.SessionID)
	return p.greeting(ctx, s, true)
}

func (p *Pipeline) greeting(ctx context.Context, s *domain.Session, created bool) (TurnResult, error) {
	cfg, err := p.vertical(s.Vertical)
	if err != nil {
		return TurnResult{}, err
	}
	r := &turnRun{s: s, cfg: cfg}
	text := p.render(ctx, r, responseGreeting, map[string]string{"BUSINESS_NAME": s.BusinessName})
	p.metrics.ObserveTurn(string(domain.LayerExact), string(domain.IntentGreeting), 0)
	return TurnResult{
		SessionID:    s.ID,
		Response:     text,
		Intent:       domain.IntentGreeting,
		Layer:        domain.LayerExact,
		SessionState: s.State,
		NewSession:   created,
	}, nil
}

func (p *Pipeline) open(ctx context.Context, req TurnRequest) (*domain.Session, error) {
	name := req.Vertical
	if name == "" {
		name = p.defaultVertical
	}
	cfg, err := p.vertical(name)
	if err != nil {
		return nil, err
	}
	business := req.BusinessName
	if business == "" {
		business = cfg.Variables["BUSINESS_NAME"]
	}
	if business == "" {
		business = p.businessName
	}
	return p.sessions.CreateSession(ctx, cfg.Name, business, req.Channel, req.Phone)
}

// Reset closes the session. The next turn for it starts a new one.
func (p *Pipeline) Reset(ctx context.Context, sessionID string) error {
	h, err := p.sessions.Acquire(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrExpired):
		return nil
	case err != nil:
		return err
	}
	defer h.Release()
	outcome := finalOutcome(h.Session())
	h.Close(outcome, "", "")
	wctx := context.WithoutCancel(ctx)
	_ = h.Persist(wctx)
	h.Audit(wctx, session.ActionSessionClosed, map[string]any{"outcome": string(outcome), "reset": true})
	return nil
}

// Latest is the most recently active session, for the status endpoint.
func (p *Pipeline) Latest() *domain.Session { return p.sessions.Latest() }

func (p *Pipeline) vertical(name string) (*vertical.Config, error) {
	if cfg, ok := p.verticals.Get(name); ok {
		return cfg, nil
	}
	if cfg, ok := p.verticals.Get(p.defaultVertical); ok {
		return cfg, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVertical, name)
}

// render prefers the vertical's template and falls back to the built-in
// wording.
func (p *Pipeline) render(ctx context.Context, r *turnRun, key string, vars map[string]string) string {
	if text, ok := p.verticals.RenderResponse(ctx, r.cfg.Name, key, vars); ok {
		return text
	}
	scopes := []map[string]string{vars, r.cfg.Variables}
	if r.s != nil {
		scopes = append(scopes, map[string]string{"BUSINESS_NAME": r.s.BusinessName})
	}
	return vertical.Template(defaultResponses[key]).Render(scopes...)
}

const infoProvidedKey = "info_provided"

func markInfoProvided(s *domain.Session) {
	if s.Context == nil {
		s.Context = map[string]string{}
	}
	s.Context[infoProvidedKey] = "true"
}

// finalOutcome is the outcome a session closes with on farewell or reset.
func finalOutcome(s *domain.Session) domain.Outcome {
	switch {
	case s.BookingID != "" || s.Outcome == domain.OutcomeBookingCreated:
		return domain.OutcomeBookingCreated
	case s.Outcome == domain.OutcomeWaitlistAdded:
		return domain.OutcomeWaitlistAdded
	case s.Context[infoProvidedKey] == "true":
		return domain.OutcomeInfoProvided
	}
	return domain.OutcomeUnknown
}

// Machines builds one booking dialog per vertical, each with a slot
// checker for that vertical's opening hours.
type Machines struct {
	backend booking.Backend
	bridge  availability.Bridge
	now     func() time.Time
	loc     *time.Location
	logger  *logging.Logger

	mu     sync.Mutex
	byName map[string]machineEntry
}

type machineEntry struct {
	cfg *vertical.Config
	m   *booking.Machine
}

// NewMachines returns a factory over the business backend.
func NewMachines(backend booking.Backend, bridge availability.Bridge, now func() time.Time, loc *time.Location, logger *logging.Logger) *Machines {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Machines{backend: backend, bridge: bridge, now: now, loc: loc, logger: logger, byName: map[string]machineEntry{}}
}

// Operators lists the staff callers can ask for by name.
func (ms *Machines) Operators(ctx context.Context) ([]entities.Operator, error) {
	return ms.backend.Operators(ctx)
}

// For returns the dialog for cfg, rebuilding it when the vertical was
// reloaded.
func (ms *Machines) For(cfg *vertical.Config) (*booking.Machine, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if e, ok := ms.byName[cfg.Name]; ok && e.cfg == cfg {
		return e.m, nil
	}
	log := ms.logger.WithComponent("booking")
	checker, err := availability.NewChecker(cfg.AvailabilityConfig(), ms.bridge,
		availability.WithClock(ms.now),
		availability.WithLocation(ms.loc),
		availability.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: availability for %s: %w", cfg.Name, err)
	}
	m := booking.NewMachine(ms.backend, checker,
		booking.WithClock(ms.now),
		booking.WithLocation(ms.loc),
		booking.WithLogger(log),
	)
	ms.byName[cfg.Name] = machineEntry{cfg: cfg, m: m}
	return m, nil
}
