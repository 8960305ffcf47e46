package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists run progress in a local SQLite database. SQLite's
// write-ahead journal gives the write-then-atomically-commit discipline;
// a crash mid-write rolls back to the last committed record on reopen.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time keeps fragment upserts serialized
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	PRAGMA journal_mode = WAL;

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		input_file TEXT NOT NULL,
		model TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		chunk_size INTEGER NOT NULL,
		overlap_size INTEGER NOT NULL,
		status TEXT DEFAULT 'running',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_units (
		run_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		total_fragments INTEGER NOT NULL,
		PRIMARY KEY (run_id, unit_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS run_fragments (
		run_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('done', 'failed')),
		result TEXT,
		error TEXT,
		attempts INTEGER DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, unit_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint, status);
	CREATE INDEX IF NOT EXISTS idx_fragments_unit ON run_fragments(run_id, unit_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) OpenRun(ctx context.Context, fp Fingerprint, resume bool) (string, bool, error) {
	if resume {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM runs WHERE fingerprint = ? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
			fp.Hash(), StatusRunning, StatusFailed).Scan(&id)
		switch {
		case err == nil:
			return id, true, nil
		case err != sql.ErrNoRows:
			return "", false, err
		}
	}

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, fingerprint, input_file, model, target_lang, chunk_size, overlap_size) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, fp.Hash(), fp.Input, fp.Model, fp.TargetLang, fp.ChunkSize, fp.OverlapSize)
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

func (s *SQLiteStore) SetUnitTotal(ctx context.Context, runID, unitID string, total int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_units (run_id, unit_id, total_fragments) VALUES (?, ?, ?)`,
		runID, unitID, total)
	return err
}

func (s *SQLiteStore) SaveResult(ctx context.Context, runID, unitID string, seq int, text string, attempts int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_fragments (run_id, unit_id, seq, status, result, error, attempts, updated_at) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		runID, unitID, seq, FragmentDone, text, attempts, time.Now())
	if err != nil {
		return err
	}
	return s.touch(ctx, runID)
}

func (s *SQLiteStore) SaveFailure(ctx context.Context, runID, unitID string, seq int, cause string, attempts int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_fragments (run_id, unit_id, seq, status, result, error, attempts, updated_at) VALUES (?, ?, ?, ?, NULL, ?, ?, ?)`,
		runID, unitID, seq, FragmentFailed, cause, attempts, time.Now())
	if err != nil {
		return err
	}
	return s.touch(ctx, runID)
}

func (s *SQLiteStore) LoadUnit(ctx context.Context, runID, unitID string) (*UnitProgress, error) {
	up := &UnitProgress{
		Done:   make(map[int]string),
		Failed: make(map[int]string),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT total_fragments FROM run_units WHERE run_id = ? AND unit_id = ?`,
		runID, unitID).Scan(&up.Total)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, status, result, error FROM run_fragments WHERE run_id = ? AND unit_id = ?`,
		runID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq         int
			status      string
			result, msg sql.NullString
		)
		if err := rows.Scan(&seq, &status, &result, &msg); err != nil {
			return nil, err
		}
		switch status {
		case FragmentDone:
			up.Done[seq] = result.String
		case FragmentFailed:
			up.Failed[seq] = msg.String
		}
	}
	return up, rows.Err()
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), runID)
	return err
}

func (s *SQLiteStore) Summaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.fingerprint, r.input_file, r.model, r.target_lang, r.status, r.created_at, r.updated_at,
			COALESCE((SELECT COUNT(DISTINCT unit_id) FROM run_units u WHERE u.run_id = r.id), 0),
			COALESCE((SELECT COUNT(*) FROM run_fragments f WHERE f.run_id = r.id AND f.status = 'done'), 0),
			COALESCE((SELECT COUNT(*) FROM run_fragments f WHERE f.run_id = r.id AND f.status = 'failed'), 0)
		FROM runs r ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.RunID, &sm.Fingerprint, &sm.Input, &sm.Model, &sm.TargetLang, &sm.Status,
			&sm.CreatedAt, &sm.UpdatedAt, &sm.Units, &sm.DoneCount, &sm.FailedCount); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) touch(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE id = ?`, time.Now(), runID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
