package session

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxion/voice-agent/internal/archive"
)

const cleanupBatch = 500

// CleanupReport summarises one retention pass.
type CleanupReport struct {
	AuditDeleted      int64
	SessionsDeleted   int
	SessionsAnonymous int
	ArchiveFailures   int
}

// Cleanup deletes audit entries past retention_until and retires closed
// sessions older than the voice_session window. Retired sessions are
// anonymized in place when anonymization is on; otherwise they are
// archived and deleted. A session whose archival fails is kept for the
// next pass.
func (m *Manager) Cleanup(ctx context.Context) (CleanupReport, error) {
	var rep CleanupReport
	now := m.now().UTC()

	n, err := m.store.DeleteExpiredAudit(ctx, now)
	if err != nil {
		return rep, err
	}
	rep.AuditDeleted = n
	m.metrics.ObserveGDPRDeleted("audit_log", n)

	cutoff := now.AddDate(0, 0, -m.retention.VoiceSession)
	old, err := m.store.ClosedBefore(ctx, cutoff, cleanupBatch)
	if err != nil {
		return rep, fmt.Errorf("session: cleanup: %w", err)
	}
	for _, s := range old {
		if m.anonymize {
			archive.AnonymizeSession(s)
			if err := m.store.MarkAnonymized(ctx, s); err != nil {
				m.logger.Warn("session anonymization failed", "session_id", s.ID, "error", err)
				continue
			}
			rep.SessionsAnonymous++
			continue
		}
		if m.archiver != nil {
			if err := m.archiver.ArchiveSession(ctx, s); err != nil {
				rep.ArchiveFailures++
				m.logger.Warn("session archival failed, deletion postponed", "session_id", s.ID, "error", err)
				continue
			}
		}
		if err := m.store.DeleteSession(ctx, s.ID); err != nil {
			m.logger.Warn("session deletion failed", "session_id", s.ID, "error", err)
			continue
		}
		rep.SessionsDeleted++
	}
	m.metrics.ObserveGDPRDeleted("sessions", int64(rep.SessionsDeleted))

	m.logger.Info("gdpr cleanup complete",
		"audit_deleted", rep.AuditDeleted,
		"sessions_deleted", rep.SessionsDeleted,
		"sessions_anonymized", rep.SessionsAnonymous,
		"archive_failures", rep.ArchiveFailures,
	)
	return rep, nil
}

// RunCleanup runs Cleanup every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx); err != nil {
				m.logger.Warn("gdpr cleanup failed", "error", err)
			}
		}
	}
}
