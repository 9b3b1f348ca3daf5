package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/pkg/logging"
)

const (
	defaultTimeout       = 30 * time.Minute
	defaultMirrorTimeout = 2 * time.Second
)

// Mirror is the best-effort remote copy of sessions.
type Mirror interface {
	PutSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
}

// Archiver keeps an anonymized transcript before a session is deleted.
type Archiver interface {
	ArchiveSession(ctx context.Context, s *domain.Session) error
}

// Option configures a Manager.
type Option func(*Manager)

func WithMirror(m Mirror) Option { return func(mg *Manager) { mg.mirror = m } }

func WithArchiver(a Archiver) Option { return func(mg *Manager) { mg.archiver = a } }

// WithTimeout sets the inactivity window after which a session expires.
func WithTimeout(d time.Duration) Option { return func(mg *Manager) { mg.timeout = d } }

func WithRetention(r Retention) Option { return func(mg *Manager) { mg.retention = r } }

// WithAnonymize makes the retention sweep anonymize old sessions instead of
// archiving and deleting them.
func WithAnonymize(on bool) Option { return func(mg *Manager) { mg.anonymize = on } }

func WithClock(now func() time.Time) Option { return func(mg *Manager) { mg.now = now } }

func WithLogger(l *logging.Logger) Option { return func(mg *Manager) { mg.logger = l } }

func WithMetrics(m *metrics.VoiceMetrics) Option { return func(mg *Manager) { mg.metrics = m } }

// Manager is the session directory. The map is guarded by one mutex; each
// session has its own lock held for the whole of a turn.
type Manager struct {
	store         Store
	mirror        Mirror
	archiver      Archiver
	timeout       time.Duration
	mirrorTimeout time.Duration
	retention     Retention
	anonymize     bool
	now           func() time.Time
	logger        *logging.Logger
	metrics       *metrics.VoiceMetrics

	mu       sync.Mutex
	sessions map[string]*entry
	inflight sync.WaitGroup
}

type entry struct {
	mu sync.Mutex
	s  *domain.Session
}

// NewManager builds a Manager writing through store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		timeout:       defaultTimeout,
		mirrorTimeout: defaultMirrorTimeout,
		retention:     DefaultRetention(),
		now:           time.Now,
		sessions:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}
	if m.timeout <= 0 {
		m.timeout = defaultTimeout
	}
	return m
}

// Timeout is the inactivity window.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// CreateSession opens a new active session and writes it to the local
// store immediately. A failed write leaves the session dirty in memory.
func (m *Manager) CreateSession(ctx context.Context, vertical, businessName string, channel domain.Channel, phone string) (*domain.Session, error) {
	now := m.now().UTC()
	if channel == "" {
		channel = domain.ChannelVoice
	}
	s := &domain.Session{
		ID:           uuid.NewString(),
		Channel:      channel,
		State:        domain.SessionActive,
		Vertical:     vertical,
		BusinessName: businessName,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(m.timeout),
		Phone:        phone,
		Outcome:      domain.OutcomeUnknown,
		Context:      map[string]string{},
	}
	e := &entry{s: s}
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	m.sessions[s.ID] = e
	m.metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	_ = m.persist(ctx, s)
	m.audit(ctx, s.ID, ActionSessionCreated, map[string]any{"vertical": vertical, "channel": string(channel)})
	return s.Clone(), nil
}

// Handle is an exclusive lease on one session. Callers must Release it.
type Handle struct {
	m        *Manager
	e        *entry
	released bool
}

// Session is the live session. It may be mutated until Release.
func (h *Handle) Session() *domain.Session { return h.e.s }

// AddTurn appends t, updates the counters and extends the deadline.
// It returns the turn id.
func (h *Handle) AddTurn(t domain.Turn) string {
	s := h.e.s
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = h.m.now().UTC()
	}
	t.Number = len(s.Turns) + 1
	t.UsedLLM = t.Layer == domain.LayerLLM
	if t.IntentConfidence < 0 {
		t.IntentConfidence = 0
	} else if t.IntentConfidence > 1 {
		t.IntentConfidence = 1
	}

	s.Turns = append(s.Turns, t)
	s.TotalTurns++
	s.TotalLatencyMs += t.LatencyMs
	if t.UsedLLM {
		s.LLMCalls++
	}
	if t.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = t.Timestamp
	}
	s.ExpiresAt = s.UpdatedAt.Add(h.m.timeout)
	if s.State == domain.SessionIdle {
		s.State = domain.SessionActive
	}
	return t.ID
}

// Close ends the session with outcome. Closing twice keeps the first
// outcome.
func (h *Handle) Close(outcome domain.Outcome, bookingID, reason string) {
	closeSession(h.e.s, outcome, bookingID, reason)
}

// Persist writes the session locally and mirrors it in the background.
func (h *Handle) Persist(ctx context.Context) error {
	return h.m.persist(ctx, h.e.s)
}

// Audit appends an audit entry for the session.
func (h *Handle) Audit(ctx context.Context, action string, details map[string]any) {
	h.m.audit(ctx, h.e.s.ID, action, details)
}

// Release gives the lease back. Closed sessions leave the directory.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	closed := h.e.s.State.Closed()
	id := h.e.s.ID
	h.e.mu.Unlock()
	if closed {
		h.m.evict(id, h.e)
	}
}

// Acquire locks session id for a turn. Closed sessions return ErrClosed;
// a session past its deadline is closed with outcome timeout and returns
// ErrExpired.
func (m *Manager) Acquire(ctx context.Context, id string) (*Handle, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	s := e.s
	if s.State.Closed() {
		e.mu.Unlock()
		m.evict(id, e)
		return nil, ErrClosed
	}
	if s.Expired(m.now()) {
		m.expireLocked(ctx, s)
		e.mu.Unlock()
		m.evict(id, e)
		return nil, ErrExpired
	}
	return &Handle{m: m, e: e}, nil
}

// GetSession returns a copy of the session. An expired session is closed
// with outcome timeout and ErrExpired is returned.
func (m *Manager) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.s.State.Closed() && e.s.Expired(m.now()) {
		m.expireLocked(ctx, e.s)
		return nil, ErrExpired
	}
	return e.s.Clone(), nil
}

// LoadSession returns a copy of the session looking in memory, then the
// local store, then the remote mirror.
func (m *Manager) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// AddTurn appends a turn to session id and persists it.
func (m *Manager) AddTurn(ctx context.Context, id string, t domain.Turn) (string, error) {
	h, err := m.Acquire(ctx, id)
	if err != nil {
		return "", err
	}
	defer h.Release()
	turnID := h.AddTurn(t)
	_ = h.Persist(ctx)
	h.Audit(ctx, ActionTurn, map[string]any{"turn_id": turnID, "layer": string(t.Layer)})
	return turnID, nil
}

// CloseSession ends session id with outcome and persists it.
func (m *Manager) CloseSession(ctx context.Context, id string, outcome domain.Outcome, bookingID, reason string) error {
	h, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer h.Release()
	h.Close(outcome, bookingID, reason)
	if err := h.Persist(ctx); err != nil {
		m.logger.Warn("closed session kept in memory only", "session_id", id, "error", err)
	}
	h.Audit(ctx, ActionSessionClosed, map[string]any{"outcome": string(outcome), "reason": reason})
	return nil
}

// PersistSession writes session id locally and mirrors it.
func (m *Manager) PersistSession(ctx context.Context, id string) error {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.persist(ctx, e.s)
}

// LogAudit appends an audit entry. Closed sessions accept audit writes.
func (m *Manager) LogAudit(ctx context.Context, id, action string, details map[string]any) error {
	entry, err := NewAuditEntry(id, action, details, m.now().UTC(), m.retention)
	if err != nil {
		return err
	}
	return m.store.AppendAudit(ctx, entry)
}

// Latest returns a copy of the most recently updated session in memory.
func (m *Manager) Latest() *domain.Session {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var latest *domain.Session
	for _, e := range entries {
		e.mu.Lock()
		if latest == nil || e.s.UpdatedAt.After(latest.UpdatedAt) {
			latest = e.s.Clone()
		}
		e.mu.Unlock()
	}
	return latest
}

// Len is the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Recover re-hydrates open, unexpired sessions from the local store.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	sessions, err := m.store.ActiveSessions(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: recover: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range sessions {
		if _, ok := m.sessions[s.ID]; ok {
			continue
		}
		m.sessions[s.ID] = &entry{s: s}
		n++
	}
	m.metrics.SetActiveSessions(len(m.sessions))
	m.logger.Info("sessions recovered", "count", n)
	return n, nil
}

// Sweep closes every session past its deadline with outcome timeout and
// drops closed sessions from memory.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	expired := 0
	for _, id := range ids {
		m.mu.Lock()
		e, ok := m.sessions[id]
		m.mu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		if !e.s.State.Closed() && e.s.Expired(now) {
			m.expireLocked(ctx, e.s)
			expired++
		}
		closed := e.s.State.Closed()
		e.mu.Unlock()
		if closed {
			m.evict(id, e)
		}
	}

	n, err := m.store.ExpireStale(ctx, now.UTC())
	if err != nil {
		return expired, err
	}
	return expired + int(n), nil
}

// RunSweeper sweeps every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info("sessions timed out", "count", n)
			}
		}
	}
}

// Wait blocks until background mirror writes finish.
func (m *Manager) Wait() { m.inflight.Wait() }

func (m *Manager) lookup(ctx context.Context, id string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return e, nil
	}

	s, err := m.store.LoadSession(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("local session load failed", "session_id", id, "error", err)
	}
	if s == nil && m.mirror != nil {
		s = m.fromMirror(ctx, id)
	}
	if s == nil {
		return nil, ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	e = &entry{s: s}
	m.sessions[id] = e
	m.metrics.SetActiveSessions(len(m.sessions))
	return e, nil
}

func (m *Manager) fromMirror(ctx context.Context, id string) *domain.Session {
	ctx, cancel := context.WithTimeout(ctx, m.mirrorTimeout)
	defer cancel()
	s, err := m.mirror.GetSession(ctx, id)
	if err != nil || s == nil {
		return nil
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		m.logger.Warn("remote session back-fill failed", "session_id", id, "error", err)
		s.Dirty = true
	}
	return s
}

func (m *Manager) evict(id string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[id]; ok && cur == e {
		delete(m.sessions, id)
		m.metrics.SetActiveSessions(len(m.sessions))
	}
}

func (m *Manager) expireLocked(ctx context.Context, s *domain.Session) {
	closeSession(s, domain.OutcomeTimeout, "", "")
	_ = m.persist(ctx, s)
	m.audit(ctx, s.ID, ActionSessionClosed, map[string]any{"outcome": string(domain.OutcomeTimeout)})
}

func (m *Manager) persist(ctx context.Context, s *domain.Session) error {
	if err := m.store.SaveSession(ctx, s); err != nil {
		s.Dirty = true
		m.logger.Error("local session write failed", "session_id", s.ID, "error", err)
		m.mirrorAsync(s)
		return err
	}
	s.Dirty = false
	m.mirrorAsync(s)
	return nil
}

func (m *Manager) mirrorAsync(s *domain.Session) {
	if m.mirror == nil {
		return
	}
	snap := s.Clone()
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.mirrorTimeout)
		defer cancel()
		if err := m.mirror.PutSession(ctx, snap); err != nil {
			m.logger.Warn("remote session sync failed", "session_id", snap.ID, "error", err)
		}
	}()
}

func (m *Manager) audit(ctx context.Context, id, action string, details map[string]any) {
	if err := m.LogAudit(ctx, id, action, details); err != nil {
		m.logger.Warn("audit write failed", "session_id", id, "action", action, "error", err)
	}
}

func closeSession(s *domain.Session, outcome domain.Outcome, bookingID, reason string) {
	if s.State.Closed() {
		return
	}
	s.State = outcome.ClosedState()
	s.Outcome = outcome
	if bookingID != "" {
		s.BookingID = bookingID
	}
	if reason != "" {
		s.EscalationReason = reason
	}
}
