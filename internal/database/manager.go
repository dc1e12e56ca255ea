package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	dbconfig "mentorsync/pkg/database"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// Manager is the sqlite implementation of interfaces.Store. Reads go straight to
// the pool; every write is funnelled through a single writer goroutine so sqlite
// never sees concurrent writers.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database at config.DatabasePath and starts the writer.
// Call Migrate before serving traffic.
func NewManager(config *dbconfig.Config, log *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		log:          log,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// Migrate applies the embedded schema migrations and validates the result.
func (m *Manager) Migrate(ctx context.Context) error {
	mm := dbconfig.NewMigrationManager(m.db, dbconfig.EmbeddedMigrations())
	if err := mm.ApplyMigrations(); err != nil {
		return err
	}
	if err := mm.ValidateSchema(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	versions, err := mm.AppliedVersions()
	if err != nil {
		return err
	}
	m.log.Info("database schema ready", zap.Strings("versions", versions))
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)
		case <-m.shutdown:
			return
		}
	}
}

// runWrite retries a failed write once after RetryDelay unless the caller has
// already given up.
func (m *Manager) runWrite(op writeOperation) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}
	err := op.operation(op.ctx, m.db)
	if err == nil || m.config.RetryDelay == 0 {
		return err
	}

	m.log.Warn("database write failed, retrying",
		zap.Duration("delay", m.config.RetryDelay),
		zap.Error(err))

	select {
	case <-time.After(m.config.RetryDelay):
	case <-op.ctx.Done():
		return err
	case <-m.shutdown:
		return err
	}

	if err = op.operation(op.ctx, m.db); err != nil {
		m.log.Error("database write failed after retry", zap.Error(err))
	}
	return err
}

// executeWrite queues operation for the writer and waits for its result, the
// caller's context or WriteTimeout, whichever ends first.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.WriteTimeout)
	defer cancel()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return fmt.Errorf("write operation not scheduled: %w", ctx.Err())
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation timeout: %w", ctx.Err())
	}
}

// AppendChatMessage inserts one chat row. CreatedAt is set when zero.
func (m *Manager) AppendChatMessage(ctx context.Context, msg *types.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_messages (id, session_id, author_id, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, msg.ID, msg.SessionID, msg.AuthorID, msg.Content, msg.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// AppendCodeSnapshot inserts one snapshot row. CreatedAt is set when zero.
func (m *Manager) AppendCodeSnapshot(ctx context.Context, snap *types.CodeSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_code_snapshots (id, session_id, author_id, language, code, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, snap.ID, snap.SessionID, snap.AuthorID, snap.Language, snap.Code, snap.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert code snapshot: %w", err)
		}
		return nil
	})
}

func (m *Manager) IsParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	var exists int
	err := m.db.QueryRowContext(ctx, `
		SELECT 1 FROM session_participants
		WHERE session_id = ? AND user_id = ?
		LIMIT 1
	`, sessionID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query participant: %w", err)
	}
	return true, nil
}

func (m *Manager) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var (
		p    types.Profile
		role sql.NullString
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, email, role FROM profiles WHERE id = ?`, userID,
	).Scan(&p.ID, &p.Name, &p.Email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	p.Role = types.ParseRole(role.String)
	return &p, nil
}

// UpsertProfile inserts or replaces a profile row.
func (m *Manager) UpsertProfile(ctx context.Context, p *types.Profile) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		var role interface{}
		if p.Role != "" {
			role = string(p.Role)
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO profiles (id, name, email, role) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role
		`, p.ID, p.Name, p.Email, role)
		if err != nil {
			return fmt.Errorf("failed to upsert profile: %w", err)
		}
		return nil
	})
}

// CreateSession inserts the session and its roster in one transaction.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var scheduledAt interface{}
		if session.ScheduledAt != nil {
			scheduledAt = session.ScheduledAt.UTC()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO mentorship_sessions (id, title, status, scheduled_at, duration_minutes, created_by, summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.Title,
			session.Status,
			scheduledAt,
			session.DurationMinutes,
			session.CreatedBy,
			session.Summary,
			session.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		for _, p := range session.Participants {
			if p.JoinedAt.IsZero() {
				p.JoinedAt = session.CreatedAt
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO session_participants (id, session_id, user_id, role, joined_at)
				VALUES (?, ?, ?, ?, ?)
			`, p.ID, session.ID, p.UserID, string(p.Role), p.JoinedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to insert participant %s: %w", p.UserID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session creation: %w", err)
		}
		return nil
	})
}

const sessionColumns = `s.id, s.title, s.status, s.scheduled_at, s.duration_minutes, s.created_by, s.summary, s.created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		s           types.Session
		scheduledAt sql.NullTime
		duration    sql.NullInt64
		summary     sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Title, &s.Status, &scheduledAt, &duration, &s.CreatedBy, &summary, &s.CreatedAt); err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time.UTC()
		s.ScheduledAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationMinutes = &d
	}
	if summary.Valid {
		sm := summary.String
		s.Summary = &sm
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.Participants = []*types.Participant{}
	return &s, nil
}

func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM mentorship_sessions s WHERE s.id = ?`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if err := m.loadParticipants(ctx, []*types.Session{session}); err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessionsForUser orders by scheduled_at ascending. sqlite sorts NULL first
// in ascending order, so unscheduled sessions lead.
func (m *Manager) ListSessionsForUser(ctx context.Context, userID string) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM mentorship_sessions s
		JOIN session_participants p ON p.session_id = s.id
		WHERE p.user_id = ?
		ORDER BY s.scheduled_at ASC, s.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []*types.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	if err := m.loadParticipants(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (m *Manager) loadParticipants(ctx context.Context, sessions []*types.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	byID := make(map[string]*types.Session, len(sessions))
	args := make([]interface{}, 0, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
		args = append(args, s.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, joined_at
		FROM session_participants
		WHERE session_id IN (`+placeholders+`)
		ORDER BY joined_at ASC, user_id ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			p    types.Participant
			role string
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &role, &p.JoinedAt); err != nil {
			return fmt.Errorf("failed to scan participant row: %w", err)
		}
		p.Role = types.Role(role)
		p.JoinedAt = p.JoinedAt.UTC()
		if s, ok := byID[p.SessionID]; ok {
			s.Participants = append(s.Participants, &p)
		}
	}
	return rows.Err()
}

// HealthCheck pings the pool and runs a read against the sessions table.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mentorship_sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB exposes the pool for migrations and schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer after in-flight writes finish and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
