package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category is the GDPR data category an audit entry belongs to. It decides
// how long the entry is kept.
type Category string

const (
	CategoryPersonalData Category = "personal_data"
	CategoryConsent      Category = "consent"
	CategoryBooking      Category = "booking"
	CategoryVoiceSession Category = "voice_session"
)

// Audit actions written by the dialog engine.
const (
	ActionSessionCreated  = "session_created"
	ActionTurn            = "turn"
	ActionSessionClosed   = "session_closed"
	ActionEscalated       = "escalated"
	ActionBookingCreated  = "booking_created"
	ActionBookingCanceled = "booking_cancelled"
	ActionWaitlistAdded   = "waitlist_added"
	ActionCustomerCreated = "customer_created"
	ActionConsent         = "consent"
	ActionAnonymized      = "anonymized"
)

var actionCategories = map[string]Category{
	ActionBookingCreated:  CategoryBooking,
	ActionBookingCanceled: CategoryBooking,
	ActionWaitlistAdded:   CategoryBooking,
	ActionCustomerCreated: CategoryPersonalData,
	ActionConsent:         CategoryConsent,
}

// CategoryFor maps an action onto its retention category. Unknown actions
// are session data.
func CategoryFor(action string) Category {
	if c, ok := actionCategories[action]; ok {
		return c
	}
	return CategoryVoiceSession
}

// Retention holds the retention window in days per category.
type Retention struct {
	PersonalData int
	Consent      int
	Booking      int
	VoiceSession int
}

// DefaultRetention is the retention applied when none is configured.
func DefaultRetention() Retention {
	return Retention{PersonalData: 2555, Consent: 1825, Booking: 1095, VoiceSession: 365}
}

// Days returns the window for c.
func (r Retention) Days(c Category) int {
	switch c {
	case CategoryPersonalData:
		return r.PersonalData
	case CategoryConsent:
		return r.Consent
	case CategoryBooking:
		return r.Booking
	default:
		return r.VoiceSession
	}
}

// Until returns the deletion deadline for an entry of category c written
// at t.
func (r Retention) Until(c Category, t time.Time) time.Time {
	return t.AddDate(0, 0, r.Days(c))
}

// AuditEntry is one append-only audit_log row.
type AuditEntry struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Action         string          `json:"action"`
	Category       Category        `json:"category"`
	Timestamp      time.Time       `json:"timestamp"`
	Details        json.RawMessage `json:"details,omitempty"`
	RetentionUntil time.Time       `json:"retention_until"`
}

// NewAuditEntry stamps an entry for action at now.
func NewAuditEntry(sessionID, action string, details map[string]any, now time.Time, r Retention) (AuditEntry, error) {
	raw := json.RawMessage(`{}`)
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return AuditEntry{}, fmt.Errorf("session: encode audit details: %w", err)
		}
		raw = b
	}
	cat := CategoryFor(action)
	return AuditEntry{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Action:         action,
		Category:       cat,
		Timestamp:      now,
		Details:        raw,
		RetentionUntil: r.Until(cat, now),
	}, nil
}

// AppendAudit writes e.
func (s *SQLStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	details := string(e.Details)
	if details == "" {
		details = "{}"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_log (id, session_id, action, category, timestamp, details, retention_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		e.ID,
		e.SessionID,
		e.Action,
		string(e.Category),
		millis(e.Timestamp),
		details,
		millis(e.RetentionUntil),
	)
	if err != nil {
		return fmt.Errorf("session: failed to log audit event: %w", err)
	}
	return nil
}

// DeleteExpiredAudit removes entries whose retention ended before now.
func (s *SQLStore) DeleteExpiredAudit(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM audit_log WHERE retention_until < ?`), millis(now))
	if err != nil {
		return 0, fmt.Errorf("session: delete expired audit: %w", err)
	}
	return res.RowsAffected()
}

// AuditTrail lists the entries of a session in write order.
func (s *SQLStore) AuditTrail(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, session_id, action, category, timestamp, details, retention_until
		FROM audit_log WHERE session_id = ? ORDER BY timestamp, id
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: audit trail: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e        AuditEntry
			category string
			details  string
			ts, ret  int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Action, &category, &ts, &details, &ret); err != nil {
			return nil, fmt.Errorf("session: scan audit: %w", err)
		}
		e.Category = Category(category)
		e.Details = json.RawMessage(details)
		e.Timestamp = fromMillis(ts)
		e.RetentionUntil = fromMillis(ret)
		out = append(out, e)
	}
	return out, rows.Err()
}
