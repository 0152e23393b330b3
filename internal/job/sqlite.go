package job

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// StaleErrorMessage is recorded on jobs failed by the reconciliation sweep.
const StaleErrorMessage = "job exceeded the maximum processing age and was marked failed"

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// SQLite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id                 TEXT PRIMARY KEY,
			url                TEXT NOT NULL DEFAULT '',
			content            TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'queued',
			summary            TEXT NOT NULL DEFAULT '',
			cached             INTEGER NOT NULL DEFAULT 0,
			processing_time_ms INTEGER NOT NULL DEFAULT 0,
			error_message      TEXT NOT NULL DEFAULT '',
			created_at         DATETIME NOT NULL,
			updated_at         DATETIME NOT NULL,
			dispatched_at      DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status     ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, url, content, status, summary, cached, processing_time_ms, error_message, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, '', ?, ?)
	`,
		j.ID,
		j.URL,
		j.Content,
		j.Status,
		j.Summary,
		j.Cached,
		j.ProcessingTimeMS,
		j.CreatedAt.UTC(),
		j.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = `id, url, content, status, summary, cached, processing_time_ms,
       error_message, created_at, updated_at, dispatched_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	var dispatchedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.URL, &j.Content, &j.Status, &j.Summary, &j.Cached,
		&j.ProcessingTimeMS, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &dispatchedAt,
	)
	if err != nil {
		return nil, err
	}
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		j.DispatchedAt = &t
	}
	return j, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = ?
	`, id)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, StatusProcessing, time.Now().UTC(), id, StatusQueued, StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark processing for job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processing for job %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id, summary string, processingTimeMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, summary = ?, processing_time_ms = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, StatusCompleted, summary, processingTimeMS, time.Now().UTC(), id, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Fail(ctx context.Context, id, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, StatusFailed, errorMessage, time.Now().UTC(), id, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FindQueued(ctx context.Context, grace time.Duration) ([]*Job, error) {
	cutoff := time.Now().UTC().Add(-grace)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND (dispatched_at IS NULL OR dispatched_at < ?)
		ORDER BY created_at
	`, StatusQueued, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET dispatched_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark dispatched for job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ReapStale(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`, StatusFailed, StaleErrorMessage, time.Now().UTC(), StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// List returns jobs ordered by created_at DESC with pagination, and the total count.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Job, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
