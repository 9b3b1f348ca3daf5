package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/session/migrations"
)

// Supported local store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the local persistence the Manager writes through.
type Store interface {
	SaveSession(ctx context.Context, s *domain.Session) error
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	ActiveSessions(ctx context.Context, now time.Time) ([]*domain.Session, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	DeleteExpiredAudit(ctx context.Context, now time.Time) (int64, error)
	ClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Session, error)
	MarkAnonymized(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, id string) error
	SessionsSince(ctx context.Context, since time.Time) ([]*domain.Session, error)
}

// SQLStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects to the local store. For sqlite dsn is a file path whose
// parent directory is created when missing.
func Open(driver, dsn string) (*SQLStore, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite, "":
		driver, sqlDriver = DriverSQLite, "sqlite"
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("%w: create store dir: %v", ErrStoreUnavailable, err)
			}
		}
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrStoreUnavailable, driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if driver == DriverSQLite {
		// one writer; modernc serializes on the connection
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// NewSQLStore wraps an open handle.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	if driver == "" {
		driver = DriverSQLite
	}
	return &SQLStore{db: db, driver: driver}
}

// DB exposes the handle for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate applies the embedded migrations. down rolls back instead.
func (s *SQLStore) Migrate(down bool) error {
	src, err := iofs.New(migrations.FS, s.driver)
	if err != nil {
		return fmt.Errorf("session: migration source: %w", err)
	}

	var m *migrate.Migrate
	switch s.driver {
	case DriverPostgres:
		drv, err := migratepgx.WithInstance(s.db, &migratepgx.Config{})
		if err != nil {
			return fmt.Errorf("session: migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", drv)
		if err != nil {
			return fmt.Errorf("session: create migrator: %w", err)
		}
	default:
		drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("session: migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("session: create migrator: %w", err)
		}
	}

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("session: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const sessionColumns = `id, channel, state, vertical, business_name, created_at, updated_at, expires_at,
	client_id, client_name, phone, turns, context, outcome, booking_id, escalation_reason,
	total_turns, total_latency_ms, llm_calls`

// SaveSession upserts the whole session row.
func (s *SQLStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	turns := sess.Turns
	if turns == nil {
		turns = []domain.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("session: encode turns: %w", err)
	}
	contextJSON, err := sess.EncodeContext()
	if err != nil {
		return fmt.Errorf("session: encode context: %w", err)
	}

	query := s.rebind(`
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at,
			client_id = excluded.client_id,
			client_name = excluded.client_name,
			phone = excluded.phone,
			turns = excluded.turns,
			context = excluded.context,
			outcome = excluded.outcome,
			booking_id = excluded.booking_id,
			escalation_reason = excluded.escalation_reason,
			total_turns = excluded.total_turns,
			total_latency_ms = excluded.total_latency_ms,
			llm_calls = excluded.llm_calls
	`)
	_, err = s.db.ExecContext(ctx, query,
		sess.ID,
		string(sess.Channel),
		string(sess.State),
		sess.Vertical,
		sess.BusinessName,
		millis(sess.CreatedAt),
		millis(sess.UpdatedAt),
		millis(sess.ExpiresAt),
		sess.ClientID,
		sess.ClientName,
		sess.Phone,
		string(turnsJSON),
		string(contextJSON),
		string(sess.Outcome),
		sess.BookingID,
		sess.EscalationReason,
		sess.TotalTurns,
		sess.TotalLatencyMs,
		sess.LLMCalls,
	)
	if err != nil {
		return fmt.Errorf("session: save %s: %w", sess.ID, err)
	}
	return nil
}

// LoadSession returns ErrNotFound when no row matches.
func (s *SQLStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", id, err)
	}
	return sess, nil
}

// ActiveSessions returns the open sessions that have not expired at now.
func (s *SQLStore) ActiveSessions(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE state IN ('active', 'idle') AND expires_at > ?
		ORDER BY updated_at`, millis(now))
}

// ExpireStale closes with outcome timeout every open row past its deadline.
func (s *SQLStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE sessions SET state = 'timeout', outcome = 'timeout'
		WHERE state IN ('active', 'idle') AND expires_at < ?
	`), millis(now))
	if err != nil {
		return 0, fmt.Errorf("session: expire stale: %w", err)
	}
	return res.RowsAffected()
}

// ClosedBefore returns up to limit closed sessions last touched before
// cutoff.
func (s *SQLStore) ClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE state NOT IN ('active', 'idle') AND updated_at < ? AND anonymized = 0
		ORDER BY updated_at
		LIMIT ?`, millis(cutoff), limit)
}

// MarkAnonymized saves the anonymized session and excludes it from later
// retention passes.
func (s *SQLStore) MarkAnonymized(ctx context.Context, sess *domain.Session) error {
	if err := s.SaveSession(ctx, sess); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sessions SET anonymized = 1 WHERE id = ?`), sess.ID)
	if err != nil {
		return fmt.Errorf("session: mark anonymized %s: %w", sess.ID, err)
	}
	return nil
}

// DeleteSession removes a session row and its audit trail.
func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM audit_log WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("session: delete audit %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return tx.Commit()
}

// SessionsSince returns every session created at or after since.
func (s *SQLStore) SessionsSince(ctx context.Context, since time.Time) ([]*domain.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE created_at >= ?
		ORDER BY created_at`, millis(since))
}

func (s *SQLStore) querySessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("session: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		sess                      domain.Session
		channel, state, outcome   string
		created, updated, expires int64
		turnsJSON, contextJSON    string
		totalTurns, llmCalls      int64
	)
	err := row.Scan(
		&sess.ID,
		&channel,
		&state,
		&sess.Vertical,
		&sess.BusinessName,
		&created,
		&updated,
		&expires,
		&sess.ClientID,
		&sess.ClientName,
		&sess.Phone,
		&turnsJSON,
		&contextJSON,
		&outcome,
		&sess.BookingID,
		&sess.EscalationReason,
		&totalTurns,
		&sess.TotalLatencyMs,
		&llmCalls,
	)
	if err != nil {
		return nil, err
	}
	sess.Channel = domain.Channel(channel)
	sess.State = domain.SessionState(state)
	sess.Outcome = domain.Outcome(outcome)
	sess.CreatedAt = fromMillis(created)
	sess.UpdatedAt = fromMillis(updated)
	sess.ExpiresAt = fromMillis(expires)
	sess.TotalTurns = int(totalTurns)
	sess.LLMCalls = int(llmCalls)

	if turnsJSON != "" {
		if err := json.Unmarshal([]byte(turnsJSON), &sess.Turns); err != nil {
			return nil, fmt.Errorf("decode turns: %w", err)
		}
	}
	if err := sess.DecodeContext([]byte(contextJSON)); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &sess, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
