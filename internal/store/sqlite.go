package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/intelforge/intelforge/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS phase_records (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phase_records_session ON phase_records(session_id);
CREATE TABLE IF NOT EXISTS archives (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archives_session ON archives(session_id);
CREATE TABLE IF NOT EXISTS human_inputs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	sent_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_human_inputs_session ON human_inputs(session_id);
CREATE INDEX IF NOT EXISTS idx_human_inputs_status ON human_inputs(status);
CREATE TABLE IF NOT EXISTS handovers (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	recovered INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_handovers_session ON handovers(session_id);
`

// NewSQLite opens (or creates) a SQLite-backed Store at path with WAL mode
// and a busy timeout. Records are stored as JSON documents with filterable
// columns alongside, so model shapes round-trip losslessly.
func NewSQLite(path string) (*Store, func() error, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("apply schema on %s: %w", path, err)
	}

	s := &Store{
		Sessions:  &sqliteSessions{db: db},
		Phases:    &sqlitePhases{db: db},
		Archives:  &sqliteArchives{db: db},
		Requests:  &sqliteRequests{db: db},
		Handovers: &sqliteHandovers{db: db},
	}
	return s, db.Close, nil
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal: %w", err)
	}
	return string(data), nil
}

func scanDoc[T any](row interface{ Scan(...any) error }) (*T, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return nil, fmt.Errorf("store: unmarshal: %w", err)
	}
	return out, nil
}

func collectDocs[T any](rows *sql.Rows) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		item := new(T)
		if err := json.Unmarshal([]byte(data), item); err != nil {
			return nil, fmt.Errorf("store: unmarshal: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type sqliteSessions struct{ db *sql.DB }

func (s *sqliteSessions) Create(ctx context.Context, sess *models.Session) error {
	doc, err := marshal(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, created_at, data) VALUES (?, ?, ?)",
		sess.ID, sess.CreatedAt.Format(time.RFC3339Nano), doc)
	return err
}

func (s *sqliteSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM sessions WHERE id = ?", id)
	sess, err := scanDoc[models.Session](row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return sess, nil
}

func (s *sqliteSessions) Update(ctx context.Context, sess *models.Session) error {
	doc, err := marshal(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET data = ? WHERE id = ?", doc, sess.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return err
}

func (s *sqliteSessions) List(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM sessions ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return collectDocs[models.Session](rows)
}

type sqlitePhases struct{ db *sql.DB }

func (s *sqlitePhases) Create(ctx context.Context, r *models.PhaseRecord) error {
	doc, err := marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO phase_records (id, session_id, started_at, data) VALUES (?, ?, ?, ?)",
		r.ID, r.SessionID, r.StartedAt.Format(time.RFC3339Nano), doc)
	return err
}

func (s *sqlitePhases) Get(ctx context.Context, id string) (*models.PhaseRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM phase_records WHERE id = ?", id)
	r, err := scanDoc[models.PhaseRecord](row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("phase record %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return r, nil
}

func (s *sqlitePhases) Update(ctx context.Context, r *models.PhaseRecord) error {
	doc, err := marshal(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE phase_records SET data = ? WHERE id = ?", doc, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("phase record %s: %w", r.ID, ErrNotFound)
	}
	return err
}

func (s *sqlitePhases) ListBySession(ctx context.Context, sessionID string) ([]*models.PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM phase_records WHERE session_id = ? ORDER BY started_at", sessionID)
	if err != nil {
		return nil, err
	}
	return collectDocs[models.PhaseRecord](rows)
}

type sqliteArchives struct{ db *sql.DB }

func (s *sqliteArchives) Create(ctx context.Context, a *models.Archive) error {
	doc, err := marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO archives (id, session_id, version, data) VALUES (?, ?, ?, ?)",
		a.ID, a.SessionID, a.Version, doc)
	return err
}

func (s *sqliteArchives) Get(ctx context.Context, id string) (*models.Archive, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM archives WHERE id = ?", id)
	a, err := scanDoc[models.Archive](row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("archive %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

func (s *sqliteArchives) Update(ctx context.Context, a *models.Archive) error {
	doc, err := marshal(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE archives SET data = ? WHERE id = ?", doc, a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("archive %s: %w", a.ID, ErrNotFound)
	}
	return err
}

func (s *sqliteArchives) ListBySession(ctx context.Context, sessionID string) ([]*models.Archive, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM archives WHERE session_id = ? ORDER BY version", sessionID)
	if err != nil {
		return nil, err
	}
	return collectDocs[models.Archive](rows)
}

type sqliteRequests struct{ db *sql.DB }

func (s *sqliteRequests) Create(ctx context.Context, r *models.HumanInputRequest) error {
	doc, err := marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO human_inputs (id, session_id, status, sent_at, data) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.SessionID, string(r.Status), r.SentAt.Format(time.RFC3339Nano), doc)
	return err
}

func (s *sqliteRequests) Get(ctx context.Context, id string) (*models.HumanInputRequest, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM human_inputs WHERE id = ?", id)
	r, err := scanDoc[models.HumanInputRequest](row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("human input request %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return r, nil
}

func (s *sqliteRequests) Update(ctx context.Context, r *models.HumanInputRequest) error {
	doc, err := marshal(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE human_inputs SET status = ?, data = ? WHERE id = ?",
		string(r.Status), doc, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("human input request %s: %w", r.ID, ErrNotFound)
	}
	return err
}

func (s *sqliteRequests) ListBySession(ctx context.Context, sessionID string) ([]*models.HumanInputRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM human_inputs WHERE session_id = ? ORDER BY sent_at", sessionID)
	if err != nil {
		return nil, err
	}
	return collectDocs[models.HumanInputRequest](rows)
}

func (s *sqliteRequests) ListByStatus(ctx context.Context, status models.RequestStatus) ([]*models.HumanInputRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM human_inputs WHERE status = ? ORDER BY sent_at", string(status))
	if err != nil {
		return nil, err
	}
	return collectDocs[models.HumanInputRequest](rows)
}

type sqliteHandovers struct{ db *sql.DB }

func (s *sqliteHandovers) Create(ctx context.Context, h *models.Handover) error {
	doc, err := marshal(h)
	if err != nil {
		return err
	}
	recovered := 0
	if h.Recovered {
		recovered = 1
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO handovers (id, session_id, sequence, recovered, created_at, data) VALUES (?, ?, ?, ?, ?, ?)",
		h.ID, h.SessionID, h.Sequence, recovered, h.CreatedAt.Format(time.RFC3339Nano), doc)
	return err
}

func (s *sqliteHandovers) Get(ctx context.Context, id string) (*models.Handover, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM handovers WHERE id = ?", id)
	h, err := scanDoc[models.Handover](row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("handover %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return h, nil
}

func (s *sqliteHandovers) Update(ctx context.Context, h *models.Handover) error {
	doc, err := marshal(h)
	if err != nil {
		return err
	}
	recovered := 0
	if h.Recovered {
		recovered = 1
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE handovers SET recovered = ?, data = ? WHERE id = ?", recovered, doc, h.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("handover %s: %w", h.ID, ErrNotFound)
	}
	return err
}

func (s *sqliteHandovers) ListBySession(ctx context.Context, sessionID string) ([]*models.Handover, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM handovers WHERE session_id = ? ORDER BY sequence", sessionID)
	if err != nil {
		return nil, err
	}
	return collectDocs[models.Handover](rows)
}

func (s *sqliteHandovers) ListUnrecovered(ctx context.Context) ([]*models.Handover, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM handovers WHERE recovered = 0 ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return collectDocs[models.Handover](rows)
}
