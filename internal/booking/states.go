package booking

import (
	"regexp"
	"strings"

	"github.com/fluxion/voice-agent/internal/availability"
	"github.com/fluxion/voice-agent/internal/disambiguation"
	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/italian"
	"github.com/fluxion/voice-agent/internal/sentiment"
)

var (
	// "non X" fragments are what the caller is taking back.
	negatedRe = regexp.MustCompile(`(?i)\bnon\s+(?:(?:alle|all'|le|il|la|lo|l'|per|con)\s*)?[\p{L}\d:.']+`)

	namePairNegFirstRe = regexp.MustCompile(`\bnon\s+(\p{Lu}[\p{L}']*)\s*,\s*(?:ma\s+)?(\p{Lu}[\p{L}']*)`)
	namePairNegLastRe  = regexp.MustCompile(`(\p{Lu}[\p{L}']*)\s*,?\s*non\s+(\p{Lu}[\p{L}']*)`)
)

var constraintLabels = map[entities.Constraint]string{
	entities.ConstraintAfter:           "dopo le ",
	entities.ConstraintBefore:          "prima delle ",
	entities.ConstraintPeriodMorning:   "la mattina",
	entities.ConstraintPeriodAfternoon: "il pomeriggio",
	entities.ConstraintPeriodEvening:   "la sera",
}

func (m *Machine) handleWaitingName(t *turn) string {
	b := t.b
	m.fill(t)
	n, ok := entities.ExtractName(t.in.Text)
	if !ok {
		n, ok = entities.ExtractBareName(t.in.Text)
	}
	if !ok {
		if b.ClientName != "" {
			// A previous lookup failed; try again with what we have.
			return m.identify(t)
		}
		return t.say(MsgAskName, nil)
	}
	b.ClientName = n.Name
	if n.Surname != "" {
		b.ClientSurname = n.Surname
	}
	t.set("name", b.ClientName)
	t.set("surname", b.ClientSurname)
	return m.identify(t)
}

// identify looks the caller up and either binds them, starts the
// disambiguation probe, or continues as a new customer.
func (m *Machine) identify(t *turn) string {
	b := t.b
	found, err := m.backend.SearchCustomers(t.ctx, b.FullName(), "")
	if err != nil {
		return m.bridgeFailure(t, err)
	}
	b.BridgeFailures = 0

	res, st := m.disamb.Start(b.FullName(), disambiguation.SimilarCandidates(b.FullName(), found))
	switch res.Kind {
	case disambiguation.KindResolved:
		m.bind(t, res.Candidate)
		return join(t.say(MsgWelcomeBack, map[string]string{"name": b.ClientName}), m.advance(t))
	case disambiguation.KindAsk:
		b.Disambiguation = st
		t.moveTo(domain.StateDisambiguatingName)
		return res.Message
	default:
		b.IsNewClient = true
		return m.advance(t)
	}
}

func (m *Machine) handleDisambiguating(t *turn) string {
	b := t.b
	res, st := m.disamb.Handle(t.in.Text, b.Disambiguation)
	b.Disambiguation = st
	switch res.Kind {
	case disambiguation.KindResolved:
		m.bind(t, res.Candidate)
		return join(t.say(MsgWelcomeBack, map[string]string{"name": b.ClientName}), m.advance(t))
	case disambiguation.KindNewCustomer:
		b.IsNewClient = true
		return m.advance(t)
	case disambiguation.KindEscalate:
		return m.escalate(t, sentiment.ReasonDisambiguationFailed)
	}
	return res.Message
}

func (m *Machine) handleSurname(t *turn) string {
	b := t.b
	m.fill(t)
	if n, ok := entities.ExtractSurname(t.in.Text, b.ClientName); ok {
		b.ClientSurname = n.Surname
		t.set("surname", n.Surname)
	}
	if b.ClientSurname == "" {
		return t.say(MsgAskSurname, map[string]string{"name": b.ClientName})
	}
	return m.advance(t)
}

func (m *Machine) handlePhone(t *turn) string {
	m.fill(t)
	if t.b.ClientPhone == "" {
		return t.say(MsgRepeatPhone, nil)
	}
	return m.advance(t)
}

func (m *Machine) handleConfirmPhone(t *turn) string {
	b := t.b
	if p, ok := entities.ExtractPhone(t.text); ok && p != b.ClientPhone {
		b.ClientPhone = p
		t.set("phone", p)
		return t.say(MsgConfirmPhone, map[string]string{"phone": entities.FormatPhoneSpoken(p)})
	}
	switch {
	case italian.IsConferma(t.in.Text):
		c, err := m.backend.CreateCustomer(t.ctx, NewCustomer{
			Name:    b.ClientName,
			Surname: b.ClientSurname,
			Phone:   b.ClientPhone,
		})
		if err != nil {
			return m.bridgeFailure(t, err)
		}
		b.BridgeFailures = 0
		if c.Name == "" {
			c.Name = b.ClientName
		}
		if c.Surname == "" {
			c.Surname = b.ClientSurname
		}
		m.bind(t, c)
		b.IsNewClient = true
		m.fill(t)
		return m.advance(t)
	case italian.IsRifiuto(t.in.Text):
		b.ClientPhone = ""
		t.moveTo(domain.StateRegisteringPhone)
		return t.say(MsgRepeatPhone, nil)
	}
	return t.say(MsgConfirmPhone, map[string]string{"phone": entities.FormatPhoneSpoken(b.ClientPhone)})
}

func (m *Machine) handleService(t *turn) string {
	m.fill(t)
	return m.advance(t)
}

func (m *Machine) handleDate(t *turn) string {
	b := t.b
	if b.WaitlistOffered && italian.IsConferma(t.in.Text) {
		b.PendingAction = pendingWaitlist
		return m.advance(t)
	}
	m.fill(t)
	if b.Date == "" && italian.IsAmbiguousDate(t.in.Text) {
		return m.proposeDays(t)
	}
	return m.advance(t)
}

// proposeDays answers "la settimana prossima" style requests with the
// first bookable days of that week, or of the following one.
func (m *Machine) proposeDays(t *turn) string {
	b := t.b
	offset := italian.AmbiguousWeekOffset(t.in.Text)
	var days []string
	for w := offset; w <= offset+1 && len(days) == 0; w++ {
		week, err := m.avail.CheckWeek(t.ctx, w, b.Service, b.OperatorID, t.today)
		if err != nil {
			return m.bridgeFailure(t, err)
		}
		for _, d := range week.AvailableDays {
			days = append(days, d.DayName)
			if len(days) == maxProposals {
				break
			}
		}
	}
	b.BridgeFailures = 0
	t.moveTo(domain.StateWaitingDate)
	if len(days) == 0 {
		return t.say(MsgAskDate, nil)
	}
	return t.say(MsgProposeDays, map[string]string{"days": italian.JoinAlternatives(days)})
}

func (m *Machine) handleTime(t *turn) string {
	m.fill(t)
	return m.advance(t)
}

func (m *Machine) handleConfirming(t *turn) string {
	if slot, value := m.detectSlot(t, t.text, false); slot != "" && value != m.current(t, slot) {
		return m.correct(t)
	}
	switch {
	case italian.IsConferma(t.in.Text):
		return m.complete(t)
	case italian.IsRifiuto(t.in.Text):
		return m.cancel(t)
	}
	return t.say(MsgConfirmAgain, nil)
}

// correct applies a hard correction to the slot the caller names, or the
// one their words fit, and resumes from the earliest missing slot.
func (m *Machine) correct(t *turn) string {
	b := t.b
	t.moveTo(domain.StateCorrecting)

	var slot, value string
	if good, bad, ok := namePair(t.text); ok && !m.slotWord(t, good) {
		slot, value = "surname", good
		if strings.EqualFold(italian.Fold(bad), italian.Fold(b.ClientName)) {
			slot = "name"
		}
	} else {
		clean := strings.TrimSpace(negatedRe.ReplaceAllString(t.text, ""))
		if slot = italian.CorrectionSlot(t.text); slot != "" {
			value = m.extractSlot(t, slot, clean)
		} else {
			slot, value = m.detectSlot(t, clean, true)
		}
	}
	if slot == "" {
		return t.say(MsgWhatToCorrect, nil)
	}
	if value == "" {
		m.clearSlot(t, slot)
		return m.advance(t)
	}

	wasBound := b.Identified()
	m.applySlot(t, slot, value)
	ack := t.say(MsgCorrected, map[string]string{"slot": slotLabels[slot], "value": m.display(t, slot, value)})
	if wasBound && (slot == "name" || slot == "surname") {
		return join(ack, m.identify(t))
	}
	return join(ack, m.advance(t))
}

// soften applies "meglio giovedì" and "preferirei dopo le 17" without
// discarding the rest of the booking. It reports whether anything changed.
func (m *Machine) soften(t *turn) bool {
	b := t.b
	switch b.State {
	case domain.StateWaitingDate, domain.StateWaitingTime, domain.StateConfirming, domain.StateCorrecting:
	default:
		return false
	}
	changed := false
	if d, ok := entities.ExtractDate(t.text, t.now); ok && d.ISO() != b.Date {
		b.Date = d.ISO()
		t.set("date", b.Date)
		changed = true
	}
	if tr, ok := entities.ExtractTime(t.text, t.now); ok {
		m.applyTime(t, tr)
		changed = true
	}
	return changed
}

// namePair reads "non Rossi, Neri" and "Neri, non Rossi".
func namePair(text string) (good, bad string, ok bool) {
	if m := namePairNegFirstRe.FindStringSubmatch(text); m != nil {
		return m[2], m[1], true
	}
	if m := namePairNegLastRe.FindStringSubmatch(text); m != nil {
		return m[1], m[2], true
	}
	return "", "", false
}

// slotWord reports whether a capitalized word is a day or service rather
// than a name ("Martedì, non Mercoledì").
func (m *Machine) slotWord(t *turn, word string) bool {
	if _, ok := entities.ExtractDate(word, t.now); ok {
		return true
	}
	_, ok := entities.ExtractService(word, vocabulary(t.in.Vertical))
	return ok
}

// detectSlot finds which slot the words carry a value for. Operators are
// looked up only when withOperator is set since that needs the backend.
func (m *Machine) detectSlot(t *turn, text string, withOperator bool) (string, string) {
	for _, slot := range []string{"time", "date", "service", "phone"} {
		if v := m.extractSlot(t, slot, text); v != "" {
			return slot, v
		}
	}
	if withOperator {
		if v := m.extractSlot(t, "operator", text); v != "" {
			return "operator", v
		}
	}
	return "", ""
}

// extractSlot returns the slot value found in text. Times with a
// constraint come back as "constraint@HH:MM".
func (m *Machine) extractSlot(t *turn, slot, text string) string {
	b := t.b
	switch slot {
	case "name":
		if n, ok := entities.ExtractName(text); ok {
			return n.Name
		}
		if n, ok := entities.ExtractBareName(text); ok {
			return n.Name
		}
	case "surname":
		if n, ok := entities.ExtractSurname(text, b.ClientName); ok {
			return n.Surname
		}
	case "phone":
		if p, ok := entities.ExtractPhone(text); ok {
			return p
		}
	case "service":
		if s, ok := entities.ExtractService(text, vocabulary(t.in.Vertical)); ok {
			return s
		}
	case "date":
		if d, ok := entities.ExtractDate(text, t.now); ok {
			return d.ISO()
		}
	case "time":
		if tr, ok := entities.ExtractTime(text, t.now); ok {
			if exactish(tr.Constraint) {
				return tr.HHMM()
			}
			return string(tr.Constraint) + "@" + tr.HHMM()
		}
	case "operator":
		if op, ok := m.lookupOperator(t, text); ok {
			return op.ID
		}
	}
	return ""
}

func (m *Machine) current(t *turn, slot string) string {
	b := t.b
	switch slot {
	case "name":
		return b.ClientName
	case "surname":
		return b.ClientSurname
	case "phone":
		return b.ClientPhone
	case "service":
		return b.Service
	case "date":
		return b.Date
	case "time":
		return b.Time
	case "operator":
		return b.OperatorID
	}
	return ""
}

func (m *Machine) applySlot(t *turn, slot, value string) {
	b := t.b
	switch slot {
	case "name", "surname":
		if b.Identified() {
			b.ClientID = ""
			b.ClientVIP = false
		}
		if slot == "name" {
			b.ClientName = entities.Capitalize(value)
		} else {
			b.ClientSurname = entities.Capitalize(value)
		}
	case "phone":
		b.ClientPhone = value
	case "service":
		b.Service = value
	case "date":
		b.Date = value
	case "time":
		if c, hhmm, ok := strings.Cut(value, "@"); ok {
			b.SetHint(hintTime, c+"@"+hhmm)
			b.Time = ""
		} else {
			b.Time = value
			delete(b.CorrectionHints, hintTime)
		}
	case "operator":
		// lookupOperator already bound it.
	}
	t.set(slot, value)
}

func (m *Machine) clearSlot(t *turn, slot string) {
	b := t.b
	switch slot {
	case "name":
		b.ClientName, b.ClientID = "", ""
	case "surname":
		b.ClientSurname, b.ClientID = "", ""
	case "phone":
		b.ClientPhone = ""
	case "service":
		b.Service = ""
	case "date":
		b.Date = ""
	case "time":
		b.Time = ""
	case "operator":
		b.OperatorID, b.OperatorName, b.OperatorPreference = "", "", ""
	}
}

// display renders a corrected value the way it is read back.
func (m *Machine) display(t *turn, slot, value string) string {
	switch slot {
	case "name", "surname":
		return entities.Capitalize(value)
	case "phone":
		return entities.FormatPhoneSpoken(value)
	case "service":
		return serviceName(t.in.Vertical, value)
	case "date":
		return m.when(t, value)
	case "time":
		if c, hhmm, ok := strings.Cut(value, "@"); ok {
			label := constraintLabels[entities.Constraint(c)]
			if entities.Constraint(c).IsPeriod() {
				return label
			}
			return label + hhmm
		}
	case "operator":
		return t.b.OperatorName
	}
	return value
}

// fill takes every slot value the utterance carries. Values already set are
// only replaced while the dialog is asking for them.
func (m *Machine) fill(t *turn) {
	b := t.b
	if s, ok := entities.ExtractService(t.text, vocabulary(t.in.Vertical)); ok &&
		(b.Service == "" || b.State == domain.StateWaitingService) {
		b.Service = s
		t.set("service", s)
	}
	replaceable := b.State == domain.StateWaitingDate || b.State == domain.StateWaitingTime
	if d, ok := entities.ExtractDate(t.text, t.now); ok && (b.Date == "" || replaceable) {
		b.Date = d.ISO()
		t.set("date", b.Date)
	}
	extract := entities.ExtractTime
	if b.State == domain.StateWaitingTime {
		extract = entities.ExtractTimeLoose
	}
	if tr, ok := extract(t.text, t.now); ok && (b.Time == "" || replaceable) {
		m.applyTime(t, tr)
	}
	if !b.Identified() && b.ClientPhone == "" && b.State != domain.StateConfirmingPhone {
		if p, ok := entities.ExtractPhone(t.text); ok {
			b.ClientPhone = p
			t.set("phone", p)
		}
	}
	m.fillOperator(t)
}

// applyTime sets an exact time, or keeps a constraint as a hint used to
// narrow the proposals.
func (m *Machine) applyTime(t *turn, tr entities.TimeResult) {
	b := t.b
	if exactish(tr.Constraint) {
		b.Time = tr.HHMM()
		delete(b.CorrectionHints, hintTime)
		t.set("time", b.Time)
		return
	}
	b.Time = ""
	b.SetHint(hintTime, string(tr.Constraint)+"@"+tr.HHMM())
}

func (m *Machine) fillOperator(t *turn) {
	b := t.b
	switch entities.ExtractGenericOperator(t.text) {
	case entities.GenericFemale:
		b.OperatorPreference = string(entities.GenericFemale)
	case entities.GenericMale:
		b.OperatorPreference = string(entities.GenericMale)
	case entities.GenericSpecific:
		m.lookupOperator(t, t.text)
	default:
		if strings.Contains(italian.Fold(t.text), " con ") {
			m.lookupOperator(t, t.text)
		}
	}
}

// lookupOperator binds a named operator. Failures are logged and the
// booking continues without a preference.
func (m *Machine) lookupOperator(t *turn, text string) (entities.Operator, bool) {
	ops, err := m.backend.Operators(t.ctx)
	if err != nil {
		m.logger.Warn("operator list unavailable", "error", err)
		return entities.Operator{}, false
	}
	op, ok := entities.ExtractOperator(text, ops)
	if !ok {
		return entities.Operator{}, false
	}
	t.b.OperatorID = op.ID
	t.b.OperatorName = op.FullName()
	t.set("operator", op.ID)
	return op, true
}

func exactish(c entities.Constraint) bool {
	return c == entities.ConstraintExact || c == entities.ConstraintAround || c == ""
}

func slotTimes(slots []availability.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Time)
	}
	return out
}

// filterTimes keeps the times satisfying a "constraint@HH:MM" hint.
func filterTimes(times []string, hint string) []string {
	c, hhmm, _ := strings.Cut(hint, "@")
	ref, err := entities.ParseHHMM(hhmm)
	if err != nil {
		return times
	}
	var out []string
	for _, s := range times {
		at, err := entities.ParseHHMM(s)
		if err != nil {
			continue
		}
		if timeFits(entities.Constraint(c), at, ref) {
			out = append(out, s)
		}
	}
	return out
}

func timeFits(c entities.Constraint, at, ref int) bool {
	switch c {
	case entities.ConstraintAfter:
		return at >= ref
	case entities.ConstraintBefore:
		return at < ref
	case entities.ConstraintPeriodMorning:
		return at < 13*60
	case entities.ConstraintPeriodAfternoon:
		return at >= 13*60 && at < 18*60
	case entities.ConstraintPeriodEvening:
		return at >= 18*60
	case entities.ConstraintAround:
		d := at - ref
		return d >= -60 && d <= 60
	}
	return true
}
