// Package queue implements the durable work queue: a bounded FIFO of pending
// job requests, an in-flight list claimed items move into atomically, and a
// key set providing admission control against duplicate submissions.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Nikhilk147/RepoScan/internal/errors"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
)

// Queue is the SQLite-backed work queue. The three tables (pending,
// processing, job_keys) are mutated as a unit inside one transaction per
// operation, so a crash between claim and bookkeeping cannot lose a job.
type Queue struct {
	conn    *sql.DB
	logger  *logging.Logger
	maxSize int

	// signal wakes one blocked ClaimNext after an enqueue. Buffered so a
	// signal with no waiter is not lost before the next claim attempt.
	signal chan struct{}
}

// Stats is a point-in-time snapshot of queue depth.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Keys       int `json:"keys"`
}

// Open opens or creates the queue database at <dataDir>/queue.db
func Open(dataDir string, maxSize int, logger *logging.Logger) (*Queue, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "queue.db")

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
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

	// Single connection serializes the multi-table mutations.
	conn.SetMaxOpenConns(1)

	q := &Queue{
		conn:    conn,
		logger:  logger,
		maxSize: maxSize,
		signal:  make(chan struct{}, 1),
	}

	if err := q.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	return q, nil
}

func (q *Queue) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pending (
			seq INTEGER PRIMARY KEY,
			job_id TEXT NOT NULL,
			payload TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS processing (
			seq INTEGER PRIMARY KEY,
			job_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			claimed_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS job_keys (
			job_id TEXT PRIMARY KEY
		);
	`
	_, err := q.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (q *Queue) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (q *Queue) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := q.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Enqueue admits a request to the tail of the pending queue. It returns
// errors.ErrQueueFull when the pending queue is at capacity and
// errors.ErrDuplicateJob when the job id is already pending or processing.
// Neither failure mutates any state.
func (q *Queue) Enqueue(req *jobs.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	err = q.withTx(func(tx *sql.Tx) error {
		var depth int
		if err := tx.QueryRow("SELECT COUNT(*) FROM pending").Scan(&depth); err != nil {
			return fmt.Errorf("failed to count pending: %w", err)
		}
		if depth >= q.maxSize {
			return errors.ErrQueueFull
		}

		var exists int
		err := tx.QueryRow("SELECT 1 FROM job_keys WHERE job_id = ?", req.JobID).Scan(&exists)
		if err == nil {
			return errors.ErrDuplicateJob
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check job key: %w", err)
		}

		if _, err := tx.Exec("INSERT INTO job_keys (job_id) VALUES (?)", req.JobID); err != nil {
			return fmt.Errorf("failed to insert job key: %w", err)
		}

		var next sql.NullInt64
		if err := tx.QueryRow("SELECT MAX(seq) FROM pending").Scan(&next); err != nil {
			return fmt.Errorf("failed to find queue tail: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO pending (seq, job_id, payload) VALUES (?, ?, ?)",
			next.Int64+1, req.JobID, string(payload),
		); err != nil {
			return fmt.Errorf("failed to append to pending: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	q.logger.Debug("Enqueued job", map[string]interface{}{
		"jobId": req.JobID,
		"repo":  req.RepoURL,
	})

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// ClaimNext blocks up to wait for a pending request and atomically moves it
// from the head of pending to the tail of processing. A nil request with a
// nil error means nothing became available in time; callers poll again.
func (q *Queue) ClaimNext(ctx context.Context, wait time.Duration) (*jobs.Request, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		req, err := q.tryClaim()
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

func (q *Queue) tryClaim() (*jobs.Request, error) {
	var payload string
	err := q.withTx(func(tx *sql.Tx) error {
		var seq int64
		var jobID string
		err := tx.QueryRow(
			"SELECT seq, job_id, payload FROM pending ORDER BY seq ASC LIMIT 1",
		).Scan(&seq, &jobID, &payload)
		if err == sql.ErrNoRows {
			payload = ""
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read queue head: %w", err)
		}

		var tail sql.NullInt64
		if err := tx.QueryRow("SELECT MAX(seq) FROM processing").Scan(&tail); err != nil {
			return fmt.Errorf("failed to find processing tail: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO processing (seq, job_id, payload, claimed_at) VALUES (?, ?, ?, ?)",
			tail.Int64+1, jobID, payload, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to record processing: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM pending WHERE seq = ?", seq); err != nil {
			return fmt.Errorf("failed to remove from pending: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, nil
	}

	var req jobs.Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("failed to decode claimed request: %w", err)
	}
	return &req, nil
}

// Release removes the job from processing and frees its dedup key. Safe to
// call more than once; releasing an unknown job id is a no-op.
func (q *Queue) Release(jobID string) error {
	return q.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM processing WHERE job_id = ?", jobID); err != nil {
			return fmt.Errorf("failed to remove from processing: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM job_keys WHERE job_id = ?", jobID); err != nil {
			return fmt.Errorf("failed to remove job key: %w", err)
		}
		return nil
	})
}

// RecoverOrphans moves rows left in processing by a previous run back to the
// head of pending, preserving their claim order, and returns how many were
// requeued. Called once on startup before the scheduler loop begins.
func (q *Queue) RecoverOrphans() (int, error) {
	var recovered int
	err := q.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT job_id, payload FROM processing ORDER BY seq ASC")
		if err != nil {
			return fmt.Errorf("failed to read orphans: %w", err)
		}
		defer func() { _ = rows.Close() }()

		type orphan struct {
			jobID   string
			payload string
		}
		var orphans []orphan
		for rows.Next() {
			var o orphan
			if err := rows.Scan(&o.jobID, &o.payload); err != nil {
				return fmt.Errorf("failed to scan orphan: %w", err)
			}
			orphans = append(orphans, o)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(orphans) == 0 {
			return nil
		}

		var head sql.NullInt64
		if err := tx.QueryRow("SELECT MIN(seq) FROM pending").Scan(&head); err != nil {
			return fmt.Errorf("failed to find queue head: %w", err)
		}
		base := head.Int64 - int64(len(orphans))
		for i, o := range orphans {
			if _, err := tx.Exec(
				"INSERT INTO pending (seq, job_id, payload) VALUES (?, ?, ?)",
				base+int64(i), o.jobID, o.payload,
			); err != nil {
				return fmt.Errorf("failed to requeue orphan: %w", err)
			}
		}
		if _, err := tx.Exec("DELETE FROM processing"); err != nil {
			return fmt.Errorf("failed to clear processing: %w", err)
		}

		recovered = len(orphans)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if recovered > 0 {
		q.logger.Warn("Requeued orphaned jobs from previous run", map[string]interface{}{
			"count": recovered,
		})
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return recovered, nil
}

// Depth returns the number of pending requests.
func (q *Queue) Depth() (int, error) {
	var depth int
	err := q.conn.QueryRow("SELECT COUNT(*) FROM pending").Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending: %w", err)
	}
	return depth, nil
}

// GetStats returns a snapshot of all three containers.
func (q *Queue) GetStats() (*Stats, error) {
	var stats Stats
	err := q.conn.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM pending),
			(SELECT COUNT(*) FROM processing),
			(SELECT COUNT(*) FROM job_keys)
	`).Scan(&stats.Pending, &stats.Processing, &stats.Keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &stats, nil
}
