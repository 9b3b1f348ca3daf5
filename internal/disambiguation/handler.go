// Package disambiguation resolves which stored customer a caller is when
// the spoken name matches several records or sounds like another one.
package disambiguation

import (
	"sort"
	"strings"
	"time"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/italian"
	"github.com/fluxion/voice-agent/pkg/logging"
)

const (
	// SimilarThreshold marks two names as phonetically similar.
	SimilarThreshold = 0.60
	// AutoConfirmThreshold lets a single close match through without asking.
	AutoConfirmThreshold = 0.90
	// MaxAttempts is the number of probes before escalating.
	MaxAttempts = 3
	// MaxCandidates bounds what is kept inline in the session.
	MaxCandidates = 10

	prefixBonus = 0.1
)

// Italian prompts.
const (
	AskBirthDate = "Ho più clienti con questo nome; mi può confermare la data di nascita?"
	AskPhone     = "Grazie. Per sicurezza, mi può dire il suo numero di telefono?"
	RetryBirth   = "Mi scusi, non ho capito la data. Mi può dire giorno, mese e anno di nascita?"
	RetryPhone   = "Mi scusi, non ho capito il numero. Me lo può ripetere?"
)

// Kind is the outcome of one disambiguation step.
type Kind int

const (
	// KindAsk means the caller must answer a probe question.
	KindAsk Kind = iota
	// KindResolved means exactly one candidate was identified.
	KindResolved
	// KindNewCustomer means no candidate matched.
	KindNewCustomer
	// KindEscalate means too many probes failed.
	KindEscalate
)

func (k Kind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindNewCustomer:
		return "new_customer"
	case KindEscalate:
		return "escalate"
	}
	return "ask"
}

// Result is what the booking dialog acts on.
type Result struct {
	Kind      Kind
	Candidate domain.Candidate
	Message   string
}

// Similarity compares two names: the normalized Levenshtein ratio, raised by
// a small bonus when the first two letters agree.
func Similarity(a, b string) float64 {
	a = strings.TrimSpace(italian.Fold(a))
	b = strings.TrimSpace(italian.Fold(b))
	if a == "" || b == "" {
		return 0
	}
	score := entities.Similarity(a, b)
	if len(a) >= 2 && len(b) >= 2 && a[:2] == b[:2] {
		score += prefixBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Similar reports whether two names could be confused by speech recognition.
func Similar(a, b string) bool {
	return Similarity(a, b) >= SimilarThreshold
}

// SimilarCandidates keeps the records whose given name sounds like spoken,
// best first, at most MaxCandidates.
func SimilarCandidates(spoken string, records []domain.Candidate) []domain.Candidate {
	type scored struct {
		c     domain.Candidate
		score float64
	}
	var keep []scored
	for _, c := range records {
		if s := nameScore(spoken, c); s >= SimilarThreshold {
			keep = append(keep, scored{c, s})
		}
	}
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].score > keep[j].score })
	if len(keep) > MaxCandidates {
		keep = keep[:MaxCandidates]
	}
	out := make([]domain.Candidate, len(keep))
	for i, k := range keep {
		out[i] = k.c
	}
	return out
}

// nameScore compares spoken against the given name, or the full name when
// the caller said more than one word.
func nameScore(spoken string, c domain.Candidate) float64 {
	if len(strings.Fields(spoken)) > 1 && c.Surname != "" {
		return Similarity(spoken, c.DisplayName())
	}
	given := spoken
	if f := strings.Fields(spoken); len(f) > 0 {
		given = f[0]
	}
	return Similarity(given, c.Name)
}

// Handler drives the probe sub-dialog. It is stateless; the state travels
// in domain.DisambiguationState.
type Handler struct {
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides time.Now for date parsing.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler builds a Handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.Default()
	}
	return h
}

// Start evaluates the candidates found for spoken. A single close match
// with no similar rival is confirmed silently; otherwise the birth date is
// requested.
func (h *Handler) Start(spoken string, candidates []domain.Candidate) (Result, domain.DisambiguationState) {
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	switch len(candidates) {
	case 0:
		return Result{Kind: KindNewCustomer}, domain.DisambiguationState{}
	case 1:
		if nameScore(spoken, candidates[0]) >= AutoConfirmThreshold {
			return Result{Kind: KindResolved, Candidate: candidates[0]}, domain.DisambiguationState{}
		}
	}

	if c, ok := autoConfirm(spoken, candidates); ok {
		h.logger.Debug("disambiguation auto-confirmed", "candidates", len(candidates))
		return Result{Kind: KindResolved, Candidate: c}, domain.DisambiguationState{}
	}

	st := domain.DisambiguationState{
		SpokenName: spoken,
		Candidates: append([]domain.Candidate(nil), candidates...),
		Attempts:   1,
		Awaiting:   domain.AwaitingDOB,
	}
	return Result{Kind: KindAsk, Message: AskBirthDate}, st
}

// autoConfirm returns the one candidate scoring at least the auto threshold
// when every other candidate sounds different enough.
func autoConfirm(spoken string, candidates []domain.Candidate) (domain.Candidate, bool) {
	var hit domain.Candidate
	hits, similar := 0, 0
	for _, c := range candidates {
		s := nameScore(spoken, c)
		if s >= AutoConfirmThreshold {
			hit = c
			hits++
		}
		if s >= SimilarThreshold {
			similar++
		}
	}
	if hits == 1 && similar == 1 {
		return hit, true
	}
	return domain.Candidate{}, false
}

// Handle consumes the caller's answer to the pending probe.
func (h *Handler) Handle(text string, st domain.DisambiguationState) (Result, domain.DisambiguationState) {
	if !st.Active() {
		return Result{Kind: KindNewCustomer}, domain.DisambiguationState{}
	}

	if c, ok := h.byName(text, st.Candidates); ok {
		return Result{Kind: KindResolved, Candidate: c}, domain.DisambiguationState{}
	}

	switch st.Awaiting {
	case domain.AwaitingPhone:
		return h.handlePhone(text, st)
	default:
		return h.handleBirthDate(text, st)
	}
}

func (h *Handler) handleBirthDate(text string, st domain.DisambiguationState) (Result, domain.DisambiguationState) {
	d, ok := entities.ExtractDate(text, h.now())
	if !ok {
		return h.retry(st, RetryBirth)
	}
	iso := d.ISO()
	var matches []domain.Candidate
	for _, c := range st.Candidates {
		if c.BirthDate == iso {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return Result{Kind: KindNewCustomer}, domain.DisambiguationState{}
	case 1:
		return Result{Kind: KindResolved, Candidate: matches[0]}, domain.DisambiguationState{}
	}
	if st.Attempts >= MaxAttempts {
		return Result{Kind: KindEscalate}, domain.DisambiguationState{}
	}
	st.Candidates = matches
	st.Attempts++
	st.Awaiting = domain.AwaitingPhone
	return Result{Kind: KindAsk, Message: AskPhone}, st
}

func (h *Handler) handlePhone(text string, st domain.DisambiguationState) (Result, domain.DisambiguationState) {
	digits, ok := entities.ExtractPhone(text)
	if !ok {
		return h.retry(st, RetryPhone)
	}
	var matches []domain.Candidate
	for _, c := range st.Candidates {
		if samePhone(c.Phone, digits) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return Result{Kind: KindNewCustomer}, domain.DisambiguationState{}
	case 1:
		return Result{Kind: KindResolved, Candidate: matches[0]}, domain.DisambiguationState{}
	}
	return Result{Kind: KindEscalate}, domain.DisambiguationState{}
}

func (h *Handler) retry(st domain.DisambiguationState, msg string) (Result, domain.DisambiguationState) {
	if st.Attempts >= MaxAttempts {
		return Result{Kind: KindEscalate}, domain.DisambiguationState{}
	}
	st.Attempts++
	return Result{Kind: KindAsk, Message: msg}, st
}

// byName resolves when the caller repeats a full name that fits exactly one
// candidate.
func (h *Handler) byName(text string, candidates []domain.Candidate) (domain.Candidate, bool) {
	f := italian.Fold(text)
	var hit domain.Candidate
	n := 0
	for _, c := range candidates {
		if c.Surname == "" {
			continue
		}
		if italian.ContainsWord(f, italian.Fold(c.DisplayName())) {
			hit = c
			n++
		}
	}
	return hit, n == 1
}

func samePhone(stored, spoken string) bool {
	stored = digitsOnly(stored)
	if stored == "" || spoken == "" {
		return false
	}
	stored = strings.TrimPrefix(stored, "0039")
	if len(stored) > 10 && strings.HasPrefix(stored, "39") {
		stored = stored[2:]
	}
	return stored == spoken
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
