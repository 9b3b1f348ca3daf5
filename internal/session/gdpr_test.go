package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/domain"
)

type fakeArchiver struct {
	archived []string
	failFor  string
}

func (f *fakeArchiver) ArchiveSession(_ context.Context, s *domain.Session) error {
	if s.ID == f.failFor {
		return errors.New("s3 unavailable")
	}
	f.archived = append(f.archived, s.ID)
	return nil
}

func seedOld(store *memStore, now time.Time) {
	old := now.AddDate(0, 0, -400)
	store.sessions["old-1"] = &domain.Session{ID: "old-1", State: domain.SessionCompleted, UpdatedAt: old, Phone: "3331234567"}
	store.sessions["old-2"] = &domain.Session{ID: "old-2", State: domain.SessionTimeout, UpdatedAt: old}
	store.sessions["recent"] = &domain.Session{ID: "recent", State: domain.SessionCompleted, UpdatedAt: now.AddDate(0, 0, -10)}
	store.audit = []AuditEntry{
		{ID: "a1", RetentionUntil: now.Add(-time.Hour)},
		{ID: "a2", RetentionUntil: now.Add(time.Hour)},
	}
}

func TestCleanupArchivesThenDeletes(t *testing.T) {
	arch := &fakeArchiver{failFor: "old-2"}
	m, store, clock := newTestManager(t, WithArchiver(arch))
	seedOld(store, clock.t)

	rep, err := m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.AuditDeleted)
	assert.Equal(t, 1, rep.SessionsDeleted)
	assert.Equal(t, 1, rep.ArchiveFailures)
	assert.Equal(t, []string{"old-1"}, arch.archived)
	assert.NotContains(t, store.sessions, "old-1")
	assert.Contains(t, store.sessions, "old-2")
	assert.Contains(t, store.sessions, "recent")
	require.Len(t, store.audit, 1)
	assert.Equal(t, "a2", store.audit[0].ID)
}

func TestCleanupAnonymizes(t *testing.T) {
	m, store, clock := newTestManager(t, WithAnonymize(true))
	seedOld(store, clock.t)

	rep, err := m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.SessionsAnonymous)
	assert.Equal(t, 0, rep.SessionsDeleted)
	assert.Equal(t, "******4567", store.sessions["old-1"].Phone)

	rep, err = m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.SessionsAnonymous)
}
