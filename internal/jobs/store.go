package jobs

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Nikhilk147/RepoScan/internal/logging"
)

// Store persists job run history in its own SQLite database. It exists for
// observability; the work queue holds the authoritative pending/processing
// state.
type Store struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string
}

// OpenStore opens or creates the history database at <dataDir>/jobs.db
func OpenStore(dataDir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "jobs.db")

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &Store{conn: conn, logger: logger, dbPath: dbPath}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize jobs schema: %w", err)
	}

	return store, nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS job_runs (
			run_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			session_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			commit_id TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_job_id ON job_runs(job_id);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON job_runs(status);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON job_runs(created_at DESC);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// CreateRun records a newly queued run.
func (s *Store) CreateRun(job *Job) error {
	query := `
		INSERT INTO job_runs (run_id, job_id, repo_url, session_id, user_id, commit_id, status, created_at, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.Exec(query,
		job.RunID,
		job.JobID,
		job.RepoURL,
		job.SessionID,
		job.UserID,
		nullString(job.CommitID),
		job.Status,
		job.CreatedAt.Format(time.RFC3339),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}

	s.logger.Debug("Recorded job run", map[string]interface{}{
		"runId": job.RunID,
		"jobId": job.JobID,
	})

	return nil
}

// MarkRunning transitions the latest queued run for jobID to running.
func (s *Store) MarkRunning(jobID string, startedAt time.Time) error {
	_, err := s.conn.Exec(`
		UPDATE job_runs SET status = ?, started_at = ?
		WHERE run_id = (
			SELECT run_id FROM job_runs
			WHERE job_id = ? AND status = 'queued'
			ORDER BY created_at DESC LIMIT 1
		)
	`, StatusRunning, startedAt.UTC().Format(time.RFC3339), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// MarkTerminal transitions the latest non-terminal run for jobID to the
// given terminal status.
func (s *Store) MarkTerminal(jobID string, status JobStatus, errMsg string, completedAt time.Time) error {
	_, err := s.conn.Exec(`
		UPDATE job_runs SET status = ?, error = ?, completed_at = ?
		WHERE run_id = (
			SELECT run_id FROM job_runs
			WHERE job_id = ? AND status IN ('queued', 'running')
			ORDER BY created_at DESC LIMIT 1
		)
	`, status, nullString(errMsg), completedAt.UTC().Format(time.RFC3339), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job terminal: %w", err)
	}
	return nil
}

// GetRun retrieves a run by its run id.
func (s *Store) GetRun(runID string) (*Job, error) {
	row := s.conn.QueryRow(`
		SELECT run_id, job_id, repo_url, session_id, user_id, commit_id, status, created_at, started_at, completed_at, error
		FROM job_runs WHERE run_id = ?
	`, runID)
	return scanJob(row)
}

// LatestRun retrieves the most recent run for a job id, or nil.
func (s *Store) LatestRun(jobID string) (*Job, error) {
	row := s.conn.QueryRow(`
		SELECT run_id, job_id, repo_url, session_id, user_id, commit_id, status, created_at, started_at, completed_at, error
		FROM job_runs WHERE job_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, jobID)
	return scanJob(row)
}

// ListRuns retrieves runs matching the given options, newest first.
func (s *Store) ListRuns(opts ListJobsOptions) (*ListJobsResponse, error) {
	var conditions []string
	var args []interface{}

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, status := range opts.Status {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM job_runs %s", whereClause)
	var totalCount int
	if err := s.conn.QueryRow(countQuery, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count job runs: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT run_id, job_id, repo_url, session_id, user_id, commit_id, status, created_at, started_at, completed_at, error
		FROM job_runs %s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, limit, opts.Offset)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job runs: %w", err)
	}

	return &ListJobsResponse{Jobs: out, TotalCount: totalCount}, nil
}

// CleanupOldRuns removes terminal runs older than the given retention.
func (s *Store) CleanupOldRuns(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	result, err := s.conn.Exec(`
		DELETE FROM job_runs
		WHERE status IN ('completed', 'failed')
		AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old job runs: %w", err)
	}

	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobRow(sc rowScanner) (*Job, error) {
	var job Job
	var commitID, startedAt, completedAt, errMsg sql.NullString
	var createdAt string
	var status string

	err := sc.Scan(
		&job.RunID,
		&job.JobID,
		&job.RepoURL,
		&job.SessionID,
		&job.UserID,
		&commitID,
		&status,
		&createdAt,
		&startedAt,
		&completedAt,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	job.CommitID = commitID.String
	job.Error = errMsg.String

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		job.CreatedAt = t
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			job.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			job.CompletedAt = &t
		}
	}

	return &job, nil
}

func scanJob(row *sql.Row) (*Job, error) {
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job run: %w", err)
	}
	return job, nil
}

func scanJobFromRows(rows *sql.Rows) (*Job, error) {
	job, err := scanJobRow(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job run row: %w", err)
	}
	return job, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
