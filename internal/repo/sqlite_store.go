package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Record kinds persisted by the store.
const (
	KindAnalysis  = "analysis"
	KindPriority  = "priority"
	KindJob       = "job"
	KindJobReport = "job_report"
)

// SQLiteStore persists analysis artifacts as JSON documents keyed by kind and id.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema exists.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("sqlite store path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, utils.NewKindError(utils.KindPersistence, "sqlite open", path, err)
	}
	// One writer keeps concurrent jobs from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		kind       TEXT NOT NULL,
		id         TEXT NOT NULL,
		payload    TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (kind, id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, utils.NewKindError(utils.KindPersistence, "sqlite schema", path, err)
	}

	logger.Debug("sqlite store ready", slog.String("path", path))
	return &SQLiteStore{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Persist upserts record as JSON under (kind, id). Repeating a write is idempotent.
func (s *SQLiteStore) Persist(ctx context.Context, kind, id string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return utils.NewKindError(utils.KindPersistence, "persist "+kind, id, fmt.Errorf("marshal: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (kind, id, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		kind, id, string(payload), s.now(),
	)
	if err != nil {
		return utils.NewKindError(utils.KindPersistence, "persist "+kind, id, err)
	}
	return nil
}

// Load decodes the record stored under (kind, id) into out. It reports false when absent.
func (s *SQLiteStore) Load(ctx context.Context, kind, id string, out any) (bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM records WHERE kind = ? AND id = ?`, kind, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, utils.NewKindError(utils.KindPersistence, "load "+kind, id, err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, utils.NewKindError(utils.KindPersistence, "load "+kind, id, fmt.Errorf("unmarshal: %w", err))
	}
	return true, nil
}

// List returns the ids stored under kind, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, kind string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records WHERE kind = ? ORDER BY updated_at DESC, id LIMIT ?`, kind, limit)
	if err != nil {
		return nil, utils.NewKindError(utils.KindPersistence, "list "+kind, "query", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, utils.NewKindError(utils.KindPersistence, "list "+kind, "scan", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
