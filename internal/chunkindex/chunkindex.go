// Package chunkindex stores the semantic code chunks produced by analysis,
// keyed by (repo, commit). Chunk text is zstd-compressed at rest.
package chunkindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/Nikhilk147/RepoScan/internal/logging"
)

// Chunk is one overlapping slice of a source file.
type Chunk struct {
	Path     string `json:"path"`
	Index    int    `json:"index"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Index is the SQLite-backed chunk store.
type Index struct {
	conn    *sql.DB
	logger  *logging.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens or creates the chunk database at <dataDir>/chunks.db
func Open(dataDir string, logger *logging.Logger) (*Index, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(dataDir, "chunks.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	idx := &Index{conn: conn, logger: logger, encoder: encoder, decoder: decoder}
	if err := idx.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize chunk schema: %w", err)
	}
	return idx, nil
}

func (x *Index) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chunks (
			repo_name TEXT NOT NULL,
			commit_id TEXT NOT NULL,
			path TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			language TEXT NOT NULL,
			content BLOB NOT NULL,
			PRIMARY KEY (repo_name, commit_id, path, chunk_index)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_repo ON chunks(repo_name, commit_id);
	`
	_, err := x.conn.Exec(schema)
	return err
}

// Close closes the index.
func (x *Index) Close() error {
	x.encoder.Close()
	x.decoder.Close()
	if x.conn != nil {
		return x.conn.Close()
	}
	return nil
}

// Has reports whether any chunks exist for the key.
func (x *Index) Has(repoName, commitID string) (bool, error) {
	var n int
	err := x.conn.QueryRow(
		"SELECT COUNT(*) FROM chunks WHERE repo_name = ? AND commit_id = ?",
		repoName, commitID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check chunks: %w", err)
	}
	return n > 0, nil
}

// Ingest stores chunks for (repoName, commitID). If the key already has
// chunks the call is a no-op, so re-analysis never duplicates data.
func (x *Index) Ingest(repoName, commitID string, chunks []Chunk) error {
	exists, err := x.Has(repoName, commitID)
	if err != nil {
		return err
	}
	if exists {
		x.logger.Debug("Chunks already indexed, skipping", map[string]interface{}{
			"repo":   repoName,
			"commit": commitID,
		})
		return nil
	}

	tx, err := x.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO chunks (repo_name, commit_id, path, chunk_index, language, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		compressed := x.encoder.EncodeAll([]byte(c.Content), nil)
		if _, err := stmt.Exec(repoName, commitID, c.Path, c.Index, c.Language, compressed); err != nil {
			return fmt.Errorf("failed to insert chunk %s#%d: %w", c.Path, c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	x.logger.Debug("Indexed chunks", map[string]interface{}{
		"repo":   repoName,
		"commit": commitID,
		"count":  len(chunks),
	})
	return nil
}

// Lookup returns chunks for the key, optionally restricted to paths, in
// (path, chunk_index) order.
func (x *Index) Lookup(repoName, commitID string, paths []string) ([]Chunk, error) {
	query := `
		SELECT path, chunk_index, language, content FROM chunks
		WHERE repo_name = ? AND commit_id = ?
	`
	args := []interface{}{repoName, commitID}

	if len(paths) > 0 {
		placeholders := make([]string, len(paths))
		for i, p := range paths {
			placeholders[i] = "?"
			args = append(args, p)
		}
		query += fmt.Sprintf(" AND path IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY path, chunk_index"

	rows, err := x.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var compressed []byte
		if err := rows.Scan(&c.Path, &c.Index, &c.Language, &compressed); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		content, err := x.decoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress chunk %s#%d: %w", c.Path, c.Index, err)
		}
		c.Content = string(content)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes all chunks for a repository. An empty commitID removes
// every commit's chunks; part of repository teardown.
func (x *Index) Delete(repoName, commitID string) error {
	var err error
	if commitID == "" {
		_, err = x.conn.Exec("DELETE FROM chunks WHERE repo_name = ?", repoName)
	} else {
		_, err = x.conn.Exec("DELETE FROM chunks WHERE repo_name = ? AND commit_id = ?", repoName, commitID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	x.logger.Info("Deleted chunk index entries", map[string]interface{}{
		"repo":   repoName,
		"commit": commitID,
	})
	return nil
}
