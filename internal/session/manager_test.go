package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/pkg/logging"
)

type memStore struct {
	mu         sync.Mutex
	sessions   map[string]*domain.Session
	anonymized map[string]bool
	audit      []AuditEntry
	saveErr    error
	saves      int
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*domain.Session{}, anonymized: map[string]bool{}}
}

func (m *memStore) SaveSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) LoadSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) ActiveSessions(_ context.Context, now time.Time) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if !s.State.Closed() && s.ExpiresAt.After(now) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *memStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if !s.State.Closed() && s.ExpiresAt.Before(now) {
			s.State, s.Outcome = domain.SessionTimeout, domain.OutcomeTimeout
			n++
		}
	}
	return n, nil
}

func (m *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) DeleteExpiredAudit(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.audit[:0]
	var n int64
	for _, e := range m.audit {
		if e.RetentionUntil.Before(now) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return n, nil
}

func (m *memStore) ClosedBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for id, s := range m.sessions {
		if s.State.Closed() && s.UpdatedAt.Before(cutoff) && !m.anonymized[id] {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkAnonymized(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	m.anonymized[s.ID] = true
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) SessionsSince(_ context.Context, since time.Time) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if !s.CreatedAt.Before(since) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

type fakeMirror struct {
	mu   sync.Mutex
	puts []*domain.Session
	get  *domain.Session
	err  error
}

func (f *fakeMirror) PutSession(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, s)
	return f.err
}

func (f *fakeMirror) GetSession(_ context.Context, id string) (*domain.Session, error) {
	if f.get == nil || f.get.ID != id {
		return nil, errors.New("not found")
	}
	return f.get.Clone(), nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *memStore, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)}
	store := newMemStore()
	opts = append([]Option{WithClock(clock.now), WithLogger(logging.Discard()), WithTimeout(30 * time.Minute)}, opts...)
	return NewManager(store, opts...), store, clock
}

func TestCreateSessionWritesImmediately(t *testing.T) {
	m, store, clock := newTestManager(t)
	s, err := m.CreateSession(context.Background(), "salone", "Salone Bella", domain.ChannelVoice, "3331234567")
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, domain.SessionActive, s.State)
	assert.Equal(t, clock.t.Add(30*time.Minute), s.ExpiresAt)
	assert.Contains(t, store.sessions, s.ID)
	require.Len(t, store.audit, 1)
	assert.Equal(t, ActionSessionCreated, store.audit[0].Action)
}

func TestAddTurnMaintainsCounters(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateSession(ctx, "salone", "Salone Bella", domain.ChannelVoice, "")
	require.NoError(t, err)

	clock.advance(time.Minute)
	_, err = m.AddTurn(ctx, s.ID, domain.Turn{UserInput: "ciao", Layer: domain.LayerExact, LatencyMs: 3, IntentConfidence: 1})
	require.NoError(t, err)
	clock.advance(time.Minute)
	_, err = m.AddTurn(ctx, s.ID, domain.Turn{UserInput: "boh", Layer: domain.LayerLLM, LatencyMs: 900, IntentConfidence: 1.7})
	require.NoError(t, err)
	clock.advance(time.Minute)
	_, err = m.AddTurn(ctx, s.ID, domain.Turn{UserInput: "ok", Layer: domain.LayerFAQ, LatencyMs: 40, UsedLLM: true})
	require.NoError(t, err)

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalTurns)
	assert.Len(t, got.Turns, 3)
	assert.Equal(t, int64(943), got.TotalLatencyMs)
	assert.Equal(t, 1, got.LLMCalls)
	for i, turn := range got.Turns {
		assert.Equal(t, i+1, turn.Number)
		assert.Equal(t, turn.Layer == domain.LayerLLM, turn.UsedLLM)
		assert.LessOrEqual(t, turn.IntentConfidence, 1.0)
	}
	assert.Equal(t, got.Turns[2].Timestamp, got.UpdatedAt)
	assert.Equal(t, got.UpdatedAt.Add(30*time.Minute), got.ExpiresAt)
}

func TestExpiredSessionTimesOut(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateSession(ctx, "salone", "Salone Bella", domain.ChannelVoice, "")
	require.NoError(t, err)

	clock.advance(31 * time.Minute)
	_, err = m.Acquire(ctx, s.ID)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, domain.SessionTimeout, store.sessions[s.ID].State)
	assert.Equal(t, domain.OutcomeTimeout, store.sessions[s.ID].Outcome)

	_, err = m.AddTurn(ctx, s.ID, domain.Turn{UserInput: "ci sei?"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, store.sessions[s.ID].Turns)
}

func TestClosedSessionRejectsTurns(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateSession(ctx, "salone", "Salone Bella", domain.ChannelVoice, "")
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(ctx, s.ID, domain.OutcomeEscalated, "", "user_requested"))
	assert.Equal(t, domain.SessionEscalated, store.sessions[s.ID].State)
	assert.Equal(t, "user_requested", store.sessions[s.ID].EscalationReason)
	assert.Equal(t, 0, m.Len())

	_, err = m.AddTurn(ctx, s.ID, domain.Turn{UserInput: "pronto"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.LogAudit(ctx, s.ID, ActionConsent, nil))
}

func TestWriteFailureMarksDirty(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateSession(ctx, "salone", "Salone Bella", domain.ChannelVoice, "")
	require.NoError(t, err)

	store.saveErr = errors.New("disk full")
	_, err = m.AddTurn(ctx, s.ID, domain.Turn{UserInput: "ciao"})
	require.NoError(t, err)
	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Dirty)
	assert.Equal(t, 1, got.TotalTurns)

	store.saveErr = nil
	require.NoError(t, m.PersistSession(ctx, s.ID))
	got, err = m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, 1, store.sessions[s.ID].TotalTurns)
}

func TestRecoverRehydratesOpenSessions(t *testing.T) {
	m, store, clock := newTestManager(t)
	store.sessions["live"] = &domain.Session{ID: "live", State: domain.SessionActive, ExpiresAt: clock.t.Add(10 * time.Minute)}
	store.sessions["gone"] = &domain.Session{ID: "gone", State: domain.SessionActive, ExpiresAt: clock.t.Add(-time.Minute)}
	store.sessions["done"] = &domain.Session{ID: "done", State: domain.SessionCompleted, ExpiresAt: clock.t.Add(10 * time.Minute)}

	n, err := m.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Len())
}

func TestSweepClosesExpired(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	a, err := m.CreateSession(ctx, "salone", "A", domain.ChannelVoice, "")
	require.NoError(t, err)
	clock.advance(20 * time.Minute)
	b, err := m.CreateSession(ctx, "salone", "B", domain.ChannelVoice, "")
	require.NoError(t, err)

	clock.advance(15 * time.Minute)
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.SessionTimeout, store.sessions[a.ID].State)
	assert.Equal(t, domain.SessionActive, store.sessions[b.ID].State)
	assert.Equal(t, 1, m.Len())
}

func TestLoadFallsBackToMirrorAndBackfills(t *testing.T) {
	mirror := &fakeMirror{get: &domain.Session{ID: "remote-1", State: domain.SessionActive, Vertical: "salone"}}
	m, store, clock := newTestManager(t, WithMirror(mirror))
	mirror.get.ExpiresAt = clock.t.Add(time.Hour)

	got, err := m.LoadSession(context.Background(), "remote-1")
	require.NoError(t, err)
	assert.Equal(t, "salone", got.Vertical)
	assert.Contains(t, store.sessions, "remote-1")

	_, err = m.LoadSession(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistMirrorsInBackground(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("bridge down")}
	m, _, _ := newTestManager(t, WithMirror(mirror))

	s, err := m.CreateSession(context.Background(), "salone", "Salone Bella", domain.ChannelVoice, "")
	require.NoError(t, err)
	m.Wait()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Len(t, mirror.puts, 1)
	assert.Equal(t, s.ID, mirror.puts[0].ID)
}

func TestHandleSerializesTurns(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.CreateSession(ctx, "salone", "Salone Bella", domain.ChannelVoice, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AddTurn(ctx, s.ID, domain.Turn{UserInput: "ciao", LatencyMs: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.TotalTurns)
	assert.Equal(t, int64(20), got.TotalLatencyMs)
}
