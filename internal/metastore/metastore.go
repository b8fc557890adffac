// Package metastore holds the relational metadata: repositories, chat
// sessions and user profiles.
package metastore

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

// Repository is one analyzed repository. NSessions counts the chat sessions
// currently referencing it; teardown is gated on this reaching zero.
type Repository struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	FullName       string    `json:"fullName"` // owner/repo
	LatestCommitID string    `json:"latestCommitId"`
	NSessions      int       `json:"nSessions"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Owner returns the owner half of FullName.
func (r *Repository) Owner() string {
	if i := strings.IndexByte(r.FullName, '/'); i >= 0 {
		return r.FullName[:i]
	}
	return ""
}

// Session is one chat session bound to a repository.
type Session struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	RepositoryID int64     `json:"repositoryId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store is the SQLite-backed metadata store.
type Store struct {
	conn   *sql.DB
	logger *logging.Logger
}

// Open opens or creates the metadata database at <dataDir>/meta.db
func Open(dataDir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(dataDir, "meta.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
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

	s := &Store{conn: conn, logger: logger}
	if err := s.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize metadata schema: %w", err)
	}
	return s, nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS repositories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			full_name TEXT NOT NULL UNIQUE,
			latest_commit_id TEXT,
			n_sessions INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			repository_id INTEGER NOT NULL REFERENCES repositories(id),
			title TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_repo ON chat_sessions(repository_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON chat_sessions(user_id);

		CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			github_token TEXT
		);
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

// UpsertRepoIncrement inserts the repository or bumps its session count.
// newOrUpdated reports whether analysis is needed: true for a first-seen
// repository or a commit change, false when the stored commit matches.
func (s *Store) UpsertRepoIncrement(name, fullName, commitID string) (repoID int64, newOrUpdated bool, err error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var stored sql.NullString
	row := tx.QueryRow("SELECT id, latest_commit_id FROM repositories WHERE full_name = ?", fullName)
	scanErr := row.Scan(&id, &stored)

	switch {
	case scanErr == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO repositories (name, full_name, latest_commit_id, n_sessions, created_at)
			VALUES (?, ?, ?, 1, ?)
		`, name, fullName, commitID, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert repository: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		newOrUpdated = true

	case scanErr != nil:
		return 0, false, fmt.Errorf("failed to look up repository: %w", scanErr)

	default:
		newOrUpdated = commitID != "" && stored.String != commitID
		// An empty commitID must not blank the stored sha, or commit
		// change detection breaks for every later submission.
		if _, err := tx.Exec(`
			UPDATE repositories
			SET n_sessions = n_sessions + 1,
			    latest_commit_id = COALESCE(NULLIF(?, ''), latest_commit_id)
			WHERE id = ?
		`, commitID, id); err != nil {
			return 0, false, fmt.Errorf("failed to bump repository: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit repository upsert: %w", err)
	}

	s.logger.Debug("Upserted repository", map[string]interface{}{
		"repo":         fullName,
		"repoId":       id,
		"newOrUpdated": newOrUpdated,
	})
	return id, newOrUpdated, nil
}

// GetRepository retrieves a repository by id, or nil.
func (s *Store) GetRepository(id int64) (*Repository, error) {
	row := s.conn.QueryRow(`
		SELECT id, name, full_name, latest_commit_id, n_sessions, created_at
		FROM repositories WHERE id = ?
	`, id)
	return scanRepository(row)
}

// GetRepositoryByFullName retrieves a repository by owner/repo, or nil.
func (s *Store) GetRepositoryByFullName(fullName string) (*Repository, error) {
	row := s.conn.QueryRow(`
		SELECT id, name, full_name, latest_commit_id, n_sessions, created_at
		FROM repositories WHERE full_name = ?
	`, fullName)
	return scanRepository(row)
}

// DecrementSessions lowers a repository's session count, not below zero.
func (s *Store) DecrementSessions(repoID int64) error {
	_, err := s.conn.Exec(`
		UPDATE repositories SET n_sessions = MAX(n_sessions - 1, 0) WHERE id = ?
	`, repoID)
	if err != nil {
		return fmt.Errorf("failed to decrement sessions: %w", err)
	}
	return nil
}

// DeleteRepository removes the repository row.
func (s *Store) DeleteRepository(repoID int64) error {
	if _, err := s.conn.Exec("DELETE FROM repositories WHERE id = ?", repoID); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return nil
}

// CheckCommit reports whether the stored commit for fullName matches latest.
// A missing repository is reported as not latest.
func (s *Store) CheckCommit(fullName, latest string) (bool, error) {
	repo, err := s.GetRepositoryByFullName(fullName)
	if err != nil {
		return false, err
	}
	if repo == nil {
		return false, nil
	}
	return repo.LatestCommitID == latest, nil
}

// CreateSession creates a chat session bound to a repository.
func (s *Store) CreateSession(userID string, repoID int64, title string) (int64, error) {
	res, err := s.conn.Exec(`
		INSERT INTO chat_sessions (user_id, repository_id, title, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, repoID, nullString(title), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	return res.LastInsertId()
}

// GetSession retrieves a session by id, or nil.
func (s *Store) GetSession(id int64) (*Session, error) {
	row := s.conn.QueryRow(`
		SELECT id, user_id, repository_id, title, created_at
		FROM chat_sessions WHERE id = ?
	`, id)

	var sess Session
	var title sql.NullString
	var createdAt string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.RepositoryID, &title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.Title = title.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sess.CreatedAt = t
	}
	return &sess, nil
}

// SessionRepository resolves a session to its repository. Either may be nil
// when the row is gone.
func (s *Store) SessionRepository(sessionID int64) (*Session, *Repository, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil || sess == nil {
		return sess, nil, err
	}
	repo, err := s.GetRepository(sess.RepositoryID)
	return sess, repo, err
}

// DeleteSession removes the session row.
func (s *Store) DeleteSession(sessionID int64) error {
	if _, err := s.conn.Exec("DELETE FROM chat_sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// UpsertProfile stores a user's GitHub token.
func (s *Store) UpsertProfile(userID, githubToken string) error {
	_, err := s.conn.Exec(`
		INSERT INTO profiles (id, github_token) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET github_token = excluded.github_token
	`, userID, nullString(githubToken))
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// ProfileToken returns the stored GitHub token for a user, or empty.
func (s *Store) ProfileToken(userID string) (string, error) {
	var token sql.NullString
	err := s.conn.QueryRow("SELECT github_token FROM profiles WHERE id = ?", userID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read profile: %w", err)
	}
	return token.String, nil
}

func scanRepository(row *sql.Row) (*Repository, error) {
	var repo Repository
	var commitID sql.NullString
	var createdAt string

	err := row.Scan(&repo.ID, &repo.Name, &repo.FullName, &commitID, &repo.NSessions, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}
	repo.LatestCommitID = commitID.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		repo.CreatedAt = t
	}
	return &repo, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
