// Package sqlite is the durable persistence layer: companies,
// baselines, events, sessions, nudges and escalations in one SQLite
// file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

// Store is the SQLite implementation of ports.Store.
type Store struct {
	db *sql.DB
}

var _ ports.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and initializes
// the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_key_hash TEXT NOT NULL,
			tone_settings TEXT NOT NULL,
			escalation_threshold INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			name TEXT NOT NULL,
			event_sequence TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (company_id) REFERENCES companies(id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			company_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			target_element_id TEXT,
			metadata TEXT,
			occurred_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			user_id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			last_event TEXT NOT NULL,
			last_timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nudges (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			company_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			stuck_point TEXT NOT NULL,
			nudge_type TEXT NOT NULL,
			content TEXT NOT NULL,
			target_element_id TEXT,
			diagnosis TEXT,
			status TEXT NOT NULL,
			sent_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			company_id TEXT NOT NULL,
			stuck_point TEXT NOT NULL,
			inferred_reason TEXT,
			nudge_log TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_api_key ON companies(api_key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_baselines_company ON baselines(company_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(user_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nudges_user_stuck ON nudges(user_id, stuck_point)`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_company_status ON escalations(company_id, status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// CreateCompany inserts a new tenant. It is not part of ports.Store;
// provisioning goes through the admin tooling, not the request path.
func (s *Store) CreateCompany(ctx context.Context, c *domain.Company) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	tone, err := json.Marshal(c.Tone)
	if err != nil {
		return fmt.Errorf("failed to marshal tone settings: %w", err)
	}

	query := `INSERT INTO companies (id, name, api_key_hash, tone_settings, escalation_threshold, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.APIKeyHash, string(tone), c.EscalationThreshold, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

func (s *Store) CompanyByID(ctx context.Context, id string) (*domain.Company, error) {
	query := `SELECT id, name, api_key_hash, tone_settings, escalation_threshold, created_at
	          FROM companies WHERE id = ?`
	return s.scanCompany(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) CompanyByAPIKeyHash(ctx context.Context, keyHash string) (*domain.Company, error) {
	query := `SELECT id, name, api_key_hash, tone_settings, escalation_threshold, created_at
	          FROM companies WHERE api_key_hash = ?`
	return s.scanCompany(s.db.QueryRowContext(ctx, query, keyHash))
}

func (s *Store) scanCompany(row *sql.Row) (*domain.Company, error) {
	var c domain.Company
	var toneJSON string

	err := row.Scan(&c.ID, &c.Name, &c.APIKeyHash, &toneJSON, &c.EscalationThreshold, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	if err := json.Unmarshal([]byte(toneJSON), &c.Tone); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tone settings: %w", err)
	}
	return &c, nil
}

func (s *Store) UpdateCompany(ctx context.Context, c *domain.Company) error {
	tone, err := json.Marshal(c.Tone)
	if err != nil {
		return fmt.Errorf("failed to marshal tone settings: %w", err)
	}

	query := `UPDATE companies SET name = ?, tone_settings = ?, escalation_threshold = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, c.Name, string(tone), c.EscalationThreshold, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update company: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ActiveBaseline(ctx context.Context, companyID string) (*domain.Baseline, error) {
	query := `SELECT id, company_id, name, event_sequence, is_active, created_at
	          FROM baselines WHERE company_id = ? AND is_active = 1`

	var b domain.Baseline
	var sequenceJSON string

	err := s.db.QueryRowContext(ctx, query, companyID).Scan(
		&b.ID, &b.CompanyID, &b.Name, &sequenceJSON, &b.Active, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active baseline: %w", err)
	}

	if err := json.Unmarshal([]byte(sequenceJSON), &b.Sequence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event sequence: %w", err)
	}
	return &b, nil
}

func (s *Store) ListBaselines(ctx context.Context, companyID string) ([]domain.Baseline, error) {
	query := `SELECT id, company_id, name, event_sequence, is_active, created_at
	          FROM baselines WHERE company_id = ?
	          ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	var baselines []domain.Baseline
	for rows.Next() {
		var b domain.Baseline
		var sequenceJSON string
		if err := rows.Scan(&b.ID, &b.CompanyID, &b.Name, &sequenceJSON, &b.Active, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		if err := json.Unmarshal([]byte(sequenceJSON), &b.Sequence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event sequence: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}

func (s *Store) CreateBaseline(ctx context.Context, b *domain.Baseline) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	sequence, err := json.Marshal(b.Sequence)
	if err != nil {
		return fmt.Errorf("failed to marshal event sequence: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// A baseline created active displaces the previous active one.
	if b.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE baselines SET is_active = 0 WHERE company_id = ?`, b.CompanyID); err != nil {
			return fmt.Errorf("failed to deactivate baselines: %w", err)
		}
	}

	query := `INSERT INTO baselines (id, company_id, name, event_sequence, is_active, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query,
		b.ID, b.CompanyID, b.Name, string(sequence), b.Active, b.CreatedAt); err != nil {
		return fmt.Errorf("failed to create baseline: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ActivateBaseline(ctx context.Context, companyID, baselineID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE baselines SET is_active = 0 WHERE company_id = ?`, companyID); err != nil {
		return fmt.Errorf("failed to deactivate baselines: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE baselines SET is_active = 1 WHERE id = ? AND company_id = ?`, baselineID, companyID)
	if err != nil {
		return fmt.Errorf("failed to activate baseline: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) InsertEvent(ctx context.Context, ev *domain.Event) error {
	var metadata any
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(raw)
	}

	occurredAt := ev.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `INSERT INTO events (user_id, company_id, session_id, event_type, target_element_id, metadata, occurred_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ev.UserID, ev.CompanyID, ev.SessionID, ev.EventType, ev.TargetElementID, metadata, occurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *Store) SessionEvents(ctx context.Context, userID, sessionID string) ([]domain.Event, error) {
	query := `SELECT user_id, company_id, session_id, event_type, target_element_id, metadata, occurred_at
	          FROM events WHERE user_id = ? AND session_id = ?
	          ORDER BY occurred_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var target, metadata sql.NullString
		if err := rows.Scan(&ev.UserID, &ev.CompanyID, &ev.SessionID, &ev.EventType,
			&target, &metadata, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.TargetElementID = target.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) UpsertSession(ctx context.Context, ev *domain.Event) error {
	occurredAt := ev.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `INSERT INTO sessions (user_id, company_id, session_id, last_event, last_timestamp)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT(user_id) DO UPDATE SET
	              company_id = excluded.company_id,
	              session_id = excluded.session_id,
	              last_event = excluded.last_event,
	              last_timestamp = excluded.last_timestamp`
	_, err := s.db.ExecContext(ctx, query,
		ev.UserID, ev.CompanyID, ev.SessionID, ev.EventType, occurredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

func (s *Store) InsertNudge(ctx context.Context, n *domain.NudgeRecord) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	var diagnosis any
	if n.Diagnosis != nil {
		raw, err := json.Marshal(n.Diagnosis)
		if err != nil {
			return fmt.Errorf("failed to marshal diagnosis: %w", err)
		}
		diagnosis = string(raw)
	}

	query := `INSERT INTO nudges (id, user_id, company_id, session_id, stuck_point, nudge_type, content, target_element_id, diagnosis, status, sent_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.CompanyID, n.SessionID, n.StuckPoint,
		string(n.Type), n.Content, n.TargetElementID, diagnosis, n.Status, n.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert nudge: %w", err)
	}
	return nil
}

func (s *Store) RecentNudges(ctx context.Context, userID, stuckPoint string, limit int) ([]domain.NudgeRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `SELECT id, user_id, company_id, session_id, stuck_point, nudge_type, content, target_element_id, diagnosis, status, sent_at
	          FROM nudges WHERE user_id = ? AND stuck_point = ?
	          ORDER BY sent_at DESC
	          LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, stuckPoint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query nudges: %w", err)
	}
	defer rows.Close()

	var nudges []domain.NudgeRecord
	for rows.Next() {
		var n domain.NudgeRecord
		var nudgeType string
		var target, diagnosis sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.CompanyID, &n.SessionID, &n.StuckPoint,
			&nudgeType, &n.Content, &target, &diagnosis, &n.Status, &n.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan nudge: %w", err)
		}
		n.Type = domain.NudgeType(nudgeType)
		n.TargetElementID = target.String
		if diagnosis.Valid && diagnosis.String != "" {
			if err := json.Unmarshal([]byte(diagnosis.String), &n.Diagnosis); err != nil {
				return nil, fmt.Errorf("failed to unmarshal diagnosis: %w", err)
			}
		}
		nudges = append(nudges, n)
	}
	return nudges, rows.Err()
}

func (s *Store) InsertEscalation(ctx context.Context, e *domain.Escalation) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var nudgeLog any
	if len(e.NudgeLog) > 0 {
		raw, err := json.Marshal(e.NudgeLog)
		if err != nil {
			return fmt.Errorf("failed to marshal nudge log: %w", err)
		}
		nudgeLog = string(raw)
	}

	query := `INSERT INTO escalations (id, user_id, company_id, stuck_point, inferred_reason, nudge_log, status, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.CompanyID, e.StuckPoint, e.InferredReason, nudgeLog, e.Status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}
	return nil
}

func (s *Store) OpenEscalations(ctx context.Context, companyID string) ([]domain.Escalation, error) {
	query := `SELECT id, user_id, company_id, stuck_point, inferred_reason, nudge_log, status, created_at
	          FROM escalations WHERE company_id = ? AND status = ?
	          ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, companyID, domain.EscalationStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	var escalations []domain.Escalation
	for rows.Next() {
		var e domain.Escalation
		var reason, nudgeLog sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.CompanyID, &e.StuckPoint,
			&reason, &nudgeLog, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		e.InferredReason = reason.String
		if nudgeLog.Valid && nudgeLog.String != "" {
			if err := json.Unmarshal([]byte(nudgeLog.String), &e.NudgeLog); err != nil {
				return nil, fmt.Errorf("failed to unmarshal nudge log: %w", err)
			}
		}
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
