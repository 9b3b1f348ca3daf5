package booking

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxion/voice-agent/internal/availability"
	"github.com/fluxion/voice-agent/internal/disambiguation"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/italian"
	"github.com/fluxion/voice-agent/internal/sentiment"
	"github.com/fluxion/voice-agent/internal/vertical"
	"github.com/fluxion/voice-agent/pkg/logging"
)

var bookingTracer = otel.Tracer("sara.internal.booking")

// MaxBridgeFailures is the number of consecutive backend failures in one
// session that hands the call to a human.
const MaxBridgeFailures = 3

const (
	pendingWaitlist  = "waitlist"
	hintTime         = "time"
	hintWaitlistDate = "waitlist_date"
	maxProposals     = 3
)

// Input is one user turn as the dialog sees it.
type Input struct {
	Text     string
	Intent   domain.Intent
	Vertical *vertical.Config
}

// Result is the dialog's answer to one turn. Handled is false when the
// dialog did not engage and the turn should fall through to later layers.
type Result struct {
	Handled     bool
	Response    string
	Action      domain.BookingAction
	BookingID   string
	Appointment *AppointmentRequest
	Waitlist    *WaitlistRequest
	Escalate    bool
	Reason      sentiment.Reason
	Entities    map[string]string
	// Path lists the states entered during the turn, in order.
	Path []domain.BookingState
}

type stateHandler func(*Machine, *turn) string

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLocation sets the business time zone used to resolve dates.
func WithLocation(loc *time.Location) Option {
	return func(m *Machine) { m.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithDisambiguation replaces the default disambiguation handler.
func WithDisambiguation(h *disambiguation.Handler) Option {
	return func(m *Machine) { m.disamb = h }
}

// Machine is the booking dialog. It holds no per-call state: everything
// lives in the domain.BookingContext passed to Handle, which the caller
// serializes per session.
type Machine struct {
	backend  Backend
	avail    Availability
	disamb   *disambiguation.Handler
	now      func() time.Time
	loc      *time.Location
	logger   *logging.Logger
	handlers map[domain.BookingState]stateHandler
}

// NewMachine wires the dialog to the business backend and the slot checker.
func NewMachine(backend Backend, avail Availability, opts ...Option) *Machine {
	m := &Machine{backend: backend, avail: avail, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}
	if m.disamb == nil {
		m.disamb = disambiguation.NewHandler(disambiguation.WithClock(m.now), disambiguation.WithLogger(m.logger))
	}
	m.handlers = map[domain.BookingState]stateHandler{
		domain.StateWaitingName:        (*Machine).handleWaitingName,
		domain.StateDisambiguatingName: (*Machine).handleDisambiguating,
		domain.StateRegisteringSurname: (*Machine).handleSurname,
		domain.StateRegisteringPhone:   (*Machine).handlePhone,
		domain.StateConfirmingPhone:    (*Machine).handleConfirmPhone,
		domain.StateWaitingService:     (*Machine).handleService,
		domain.StateWaitingDate:        (*Machine).handleDate,
		domain.StateWaitingTime:        (*Machine).handleTime,
		domain.StateCorrecting:         (*Machine).correct,
		domain.StateConfirming:         (*Machine).handleConfirming,
	}
	return m
}

// turn carries everything one Handle call works on.
type turn struct {
	ctx   context.Context
	b     *domain.BookingContext
	in    Input
	text  string
	now   time.Time
	today time.Time
	res   *Result
}

// Handle advances the dialog by one user turn.
func (m *Machine) Handle(ctx context.Context, b *domain.BookingContext, in Input) Result {
	ctx, span := bookingTracer.Start(ctx, "booking.handle")
	defer span.End()

	now := m.now().In(m.loc)
	y, mo, d := now.Date()
	res := Result{Entities: map[string]string{}}
	t := &turn{
		ctx:   ctx,
		b:     b,
		in:    in,
		text:  italian.StripFillers(in.Text),
		now:   now,
		today: time.Date(y, mo, d, 0, 0, 0, 0, m.loc),
		res:   &res,
	}
	from := b.State

	if !b.State.InProgress() {
		resp, ok := m.begin(t)
		if !ok {
			return Result{}
		}
		if resp != "" {
			res.Handled = true
			res.Response = resp
			return res
		}
	}

	res.Response = m.step(t)
	res.Handled = true

	span.SetAttributes(
		attribute.String("booking.from", from.String()),
		attribute.String("booking.to", b.State.String()),
		attribute.String("booking.action", string(res.Action)),
	)
	m.logger.Debug("booking turn", "from", from.String(), "to", b.State.String(), "action", string(res.Action))
	return res
}

// begin decides whether an idle dialog engages on this turn.
func (m *Machine) begin(t *turn) (string, bool) {
	b := t.b
	switch t.in.Intent {
	case domain.IntentBooking:
		restart(b, false)
	case domain.IntentReschedule:
		restart(b, true)
		b.Reschedule = true
	case domain.IntentWaitlist:
		restart(b, true)
		b.PendingAction = pendingWaitlist
	case domain.IntentCancellation:
		return m.cancel(t), true
	default:
		if !requestsSlot(t) && !introduces(t) {
			return "", false
		}
		restart(b, false)
	}
	if b.Identified() {
		t.moveTo(domain.StateWaitingService)
	} else {
		t.moveTo(domain.StateWaitingName)
	}
	return "", true
}

// requestsSlot reports whether the caller names a service together with a
// day or a time ("taglio oggi alle quindici") without a booking verb.
func requestsSlot(t *turn) bool {
	if _, ok := entities.ExtractService(t.text, vocabulary(t.in.Vertical)); !ok {
		return false
	}
	if _, ok := entities.ExtractDate(t.text, t.now); ok {
		return true
	}
	_, ok := entities.ExtractTime(t.text, t.now)
	return ok
}

// introduces reports whether an unidentified caller just said their name.
func introduces(t *turn) bool {
	if t.b.Identified() {
		return false
	}
	n, ok := entities.ExtractName(t.text)
	return ok && n.Confidence >= 0.75
}

func restart(b *domain.BookingContext, keepService bool) {
	service := b.Service
	b.ClearAppointment()
	b.PendingAction = ""
	b.BridgeFailures = 0
	b.Disambiguation = domain.DisambiguationState{}
	if keepService {
		b.Service = service
	}
}

// step applies corrections and booking-wide intents, then runs the handler
// of the current state.
func (m *Machine) step(t *turn) string {
	b := t.b
	switch italian.DetectCorrection(t.in.Text) {
	case italian.CorrectionReset:
		return m.reset(t)
	case italian.CorrectionHard:
		if b.State != domain.StateDisambiguatingName {
			return m.correct(t)
		}
	case italian.CorrectionSoft:
		if m.soften(t) {
			return m.advance(t)
		}
	}

	switch t.in.Intent {
	case domain.IntentCancellation:
		return m.cancel(t)
	case domain.IntentWaitlist:
		if b.Date != "" {
			b.SetHint(hintWaitlistDate, b.Date)
		}
		b.PendingAction = pendingWaitlist
		m.fill(t)
		return m.advance(t)
	case domain.IntentReschedule:
		b.Reschedule = true
		if b.State != domain.StateWaitingDate {
			b.Date, b.Time = "", ""
			m.fill(t)
			return m.advance(t)
		}
	}

	h, ok := m.handlers[b.State]
	if !ok {
		return m.advance(t)
	}
	return h(m, t)
}

// advance moves to the earliest slot still missing and returns its prompt.
// Entering the time slot consults the day's availability; entering the
// confirmation validates the exact slot.
func (m *Machine) advance(t *turn) string {
	b := t.b
	if !b.Identified() {
		switch {
		case b.ClientName == "":
			t.moveTo(domain.StateWaitingName)
			return t.say(MsgAskName, nil)
		case b.Disambiguation.Active():
			t.moveTo(domain.StateDisambiguatingName)
			return disambiguation.AskBirthDate
		case b.ClientSurname == "":
			t.moveTo(domain.StateRegisteringSurname)
			return t.say(MsgAskSurname, map[string]string{"name": b.ClientName})
		case b.ClientPhone == "":
			t.moveTo(domain.StateRegisteringPhone)
			return t.say(MsgAskPhone, nil)
		default:
			t.moveTo(domain.StateConfirmingPhone)
			return t.say(MsgConfirmPhone, map[string]string{"phone": entities.FormatPhoneSpoken(b.ClientPhone)})
		}
	}

	if b.Service == "" {
		t.moveTo(domain.StateWaitingService)
		return t.say(MsgAskService, map[string]string{"services": serviceList(t.in.Vertical)})
	}
	if b.PendingAction == pendingWaitlist {
		return m.addToWaitlist(t)
	}
	if b.Date == "" {
		t.moveTo(domain.StateWaitingDate)
		return t.say(MsgAskDate, nil)
	}

	day, err := m.avail.CheckDate(t.ctx, b.Date, b.Service, b.OperatorID)
	if err != nil {
		return m.bridgeFailure(t, err)
	}
	b.BridgeFailures = 0
	if len(day.AvailableSlots) == 0 {
		return m.dateUnavailable(t, day.Message, day.UnavailableReason, day.Suggestions)
	}
	if b.Time == "" {
		t.moveTo(domain.StateWaitingTime)
		return m.offerTimes(t, day.Message, slotTimes(day.AvailableSlots))
	}
	return m.confirmSlot(t)
}

// offerTimes proposes the free times of the day, narrowed by a pending
// time constraint ("dopo le 17", "di mattina").
func (m *Machine) offerTimes(t *turn, dayMessage string, free []string) string {
	hint, ok := t.b.CorrectionHints[hintTime]
	if !ok {
		return dayMessage
	}
	matching := filterTimes(free, hint)
	if len(matching) == 0 {
		return join(t.say(MsgNoTimes, nil), dayMessage)
	}
	if len(matching) > maxProposals {
		matching = matching[:maxProposals]
	}
	return t.say(MsgProposeTimes, map[string]string{"times": italian.JoinAlternatives(matching)})
}

// confirmSlot validates date and time together and, when bookable, moves
// to the confirmation with a summary.
func (m *Machine) confirmSlot(t *turn) string {
	b := t.b
	slot, err := m.avail.CheckSlot(t.ctx, b.Date, b.Time, b.Service, b.OperatorID)
	if err != nil {
		return m.bridgeFailure(t, err)
	}
	b.BridgeFailures = 0
	if !slot.Available {
		b.Time = ""
		t.moveTo(domain.StateWaitingTime)
		msg := slot.Message
		if len(slot.Alternatives) > 0 {
			msg = join(msg, t.say(MsgAlternativeTimes, map[string]string{"times": italian.JoinAlternatives(slot.Alternatives)}))
		}
		return msg
	}
	delete(b.CorrectionHints, hintTime)
	t.moveTo(domain.StateConfirming)
	return t.say(MsgSummary, m.summaryVars(t))
}

// dateUnavailable drops the requested date and offers other days and, when
// the day is simply full, the waitlist.
func (m *Machine) dateUnavailable(t *turn, message string, reason availability.Reason, suggestions []string) string {
	b := t.b
	b.SetHint(hintWaitlistDate, b.Date)
	b.Date = ""
	t.moveTo(domain.StateWaitingDate)

	parts := []string{message}
	if len(suggestions) > 0 {
		parts = append(parts, t.say(MsgSuggestDays, map[string]string{"days": italian.JoinAlternatives(suggestions)}))
	}
	if reason == availability.ReasonAlreadyBooked || reason == availability.ReasonTooSoon {
		b.WaitlistOffered = true
		parts = append(parts, t.say(MsgWaitlistOffer, nil))
	}
	return join(parts...)
}

func (m *Machine) summaryVars(t *turn) map[string]string {
	b := t.b
	vars := map[string]string{
		"service":  serviceName(t.in.Vertical, b.Service),
		"when":     m.when(t, b.Date),
		"time":     b.Time,
		"operator": "",
		"name":     b.ClientName,
	}
	if b.OperatorName != "" {
		vars["operator"] = " con " + b.OperatorName
	}
	return vars
}

// when renders a date as "domani" or "lunedì 24 febbraio".
func (m *Machine) when(t *turn, iso string) string {
	d, err := entities.ParseISODate(iso, m.loc)
	if err != nil {
		return iso
	}
	if rel := italian.RelativeDay(d, t.today); rel != "" {
		return rel
	}
	return italian.FormatDate(d)
}

// complete books the confirmed slot.
func (m *Machine) complete(t *turn) string {
	b := t.b
	req := AppointmentRequest{
		ClientID:   b.ClientID,
		Service:    b.Service,
		Date:       b.Date,
		Time:       b.Time,
		OperatorID: b.OperatorID,
	}
	out, err := m.backend.CreateAppointment(t.ctx, req)
	if err != nil {
		return m.bridgeFailure(t, err)
	}
	b.BridgeFailures = 0

	vars := m.summaryVars(t)
	key, action := MsgBooked, domain.ActionBookingCreated
	if b.Reschedule {
		key, action = MsgRescheduled, domain.ActionBookingRescheduled
	}
	t.moveTo(domain.StateCompleted)
	t.res.Action = action
	t.res.BookingID = out.ID
	t.res.Appointment = &req
	t.set("booking_id", out.ID)
	return t.say(key, vars)
}

func (m *Machine) cancel(t *turn) string {
	t.moveTo(domain.StateCancelled)
	t.b.PendingAction = ""
	t.res.Action = domain.ActionBookingCancelled
	return t.say(MsgCancelled, nil)
}

// reset clears everything but the caller's identity.
func (m *Machine) reset(t *turn) string {
	restart(t.b, false)
	t.moveTo(domain.StateWaitingService)
	return join(t.say(MsgReset, nil), t.say(MsgAskService, map[string]string{"services": serviceList(t.in.Vertical)}))
}

func (m *Machine) addToWaitlist(t *turn) string {
	b := t.b
	priority := PriorityNormal
	if b.ClientVIP {
		priority = PriorityVIP
	}
	preferred := b.Date
	if preferred == "" {
		preferred = b.CorrectionHints[hintWaitlistDate]
	}
	req := WaitlistRequest{
		ClientID:          b.ClientID,
		Service:           b.Service,
		PreferredDate:     preferred,
		PreferredTime:     b.Time,
		PreferredOperator: b.OperatorID,
		Priority:          priority,
	}
	id, err := m.backend.AddToWaitlist(t.ctx, req)
	if err != nil {
		return m.bridgeFailure(t, err)
	}
	b.BridgeFailures = 0
	b.PendingAction = ""
	b.WaitlistOffered = false
	t.moveTo(domain.StateCompleted)
	t.res.Action = domain.ActionWaitlistAdded
	t.res.Waitlist = &req
	t.set("waitlist_id", id)
	if priority == PriorityVIP {
		return t.say(MsgWaitlistVIP, nil)
	}
	return t.say(MsgWaitlistAdded, nil)
}

// bridgeFailure keeps the current state and asks the caller to wait, or
// escalates when the failure is permanent or keeps repeating.
func (m *Machine) bridgeFailure(t *turn, err error) string {
	b := t.b
	b.BridgeFailures++
	m.logger.Warn("booking backend call failed",
		"state", b.State.String(),
		"failures", b.BridgeFailures,
		"permanent", IsPermanent(err),
		"error", err,
	)
	if IsPermanent(err) || b.BridgeFailures >= MaxBridgeFailures {
		return m.escalate(t, sentiment.ReasonBridgeFailure)
	}
	return t.say(MsgRetry, nil)
}

func (m *Machine) escalate(t *turn, reason sentiment.Reason) string {
	t.res.Escalate = true
	t.res.Reason = reason
	return t.say(MsgEscalation, nil)
}

// bind attaches the caller to a stored customer record.
func (m *Machine) bind(t *turn, c domain.Candidate) {
	b := t.b
	b.ClientID = c.ID
	b.ClientName = c.Name
	b.ClientSurname = c.Surname
	if c.Phone != "" {
		b.ClientPhone = c.Phone
	}
	b.ClientVIP = c.VIP
	b.IsNewClient = false
	b.Disambiguation = domain.DisambiguationState{}
	t.set("client_id", c.ID)
}

// moveTo changes state. Leaving the confirmation for anything other than
// completion or cancellation passes through CORRECTING.
func (t *turn) moveTo(s domain.BookingState) {
	if t.b.State == s {
		return
	}
	if t.b.State == domain.StateConfirming {
		switch s {
		case domain.StateCompleted, domain.StateCancelled, domain.StateCorrecting:
		default:
			t.b.State = domain.StateCorrecting
			t.res.Path = append(t.res.Path, domain.StateCorrecting)
		}
	}
	t.b.State = s
	t.res.Path = append(t.res.Path, s)
}

func (t *turn) set(key, value string) {
	if value != "" {
		t.res.Entities[key] = value
	}
}

// say renders a response, preferring the vertical's own wording.
func (t *turn) say(key string, vars map[string]string) string {
	var (
		tpl    vertical.Template
		ok     bool
		static map[string]string
	)
	if v := t.in.Vertical; v != nil {
		tpl, ok = v.Responses[key]
		static = v.Variables
	}
	if !ok {
		tpl = defaultMessages[key]
	}
	return tpl.Render(vars, static)
}

func serviceName(v *vertical.Config, key string) string {
	if v == nil {
		return strings.ReplaceAll(key, "_", " ")
	}
	return v.ServiceName(key)
}

func serviceList(v *vertical.Config) string {
	if v == nil {
		return ""
	}
	keys := make([]string, 0, len(v.Services))
	for k := range v.Services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = v.ServiceName(k)
	}
	return italian.JoinList(names)
}

func vocabulary(v *vertical.Config) entities.ServiceVocabulary {
	if v == nil {
		return nil
	}
	return v.ServiceVocabulary()
}

func join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
