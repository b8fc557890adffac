// Package graphstore persists the structural repository graph: file/folder
// nodes and their parent/import edges, keyed by (owner, repo, commit).
package graphstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
)

// Store is the SQLite-backed structural graph store.
type Store struct {
	conn   *sql.DB
	logger *logging.Logger
}

// Open opens or creates the graph database at <dataDir>/graph.db
func Open(dataDir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(dataDir, "graph.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
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
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	return s, nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS graph_nodes (
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			commit_id TEXT NOT NULL,
			node_id INTEGER NOT NULL,
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			grp TEXT NOT NULL,
			radius INTEGER NOT NULL,
			PRIMARY KEY (owner, repo, commit_id, node_id)
		);
		CREATE TABLE IF NOT EXISTS graph_edges (
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			commit_id TEXT NOT NULL,
			source INTEGER NOT NULL,
			target INTEGER NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (owner, repo, commit_id, source, target, kind)
		);
		CREATE INDEX IF NOT EXISTS idx_nodes_repo ON graph_nodes(owner, repo);
		CREATE INDEX IF NOT EXISTS idx_edges_repo ON graph_edges(owner, repo);
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

// SaveGraph stores nodes and links for a (owner, repo, commit) key. Inserts
// use INSERT OR IGNORE so re-analysis of the same key never duplicates rows.
func (s *Store) SaveGraph(owner, repo, commitID string, data *jobs.GraphData) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nodeStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO graph_nodes (owner, repo, commit_id, node_id, path, name, grp, radius)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer func() { _ = nodeStmt.Close() }()

	for _, n := range data.Nodes {
		if _, err := nodeStmt.Exec(owner, repo, commitID, n.ID, n.Path, n.Name, n.Group, n.Radius); err != nil {
			return fmt.Errorf("failed to insert node %d: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO graph_edges (owner, repo, commit_id, source, target, kind)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer func() { _ = edgeStmt.Close() }()

	for _, l := range data.Links {
		kind := l.Kind
		if kind == "" {
			kind = "contains"
		}
		if _, err := edgeStmt.Exec(owner, repo, commitID, l.Source, l.Target, kind); err != nil {
			return fmt.Errorf("failed to insert edge %d->%d: %w", l.Source, l.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}

	s.logger.Debug("Saved repository graph", map[string]interface{}{
		"owner":  owner,
		"repo":   repo,
		"commit": commitID,
		"nodes":  len(data.Nodes),
		"links":  len(data.Links),
	})
	return nil
}

// HasGraph reports whether any nodes exist for the key.
func (s *Store) HasGraph(owner, repo, commitID string) (bool, error) {
	var n int
	err := s.conn.QueryRow(
		"SELECT COUNT(*) FROM graph_nodes WHERE owner = ? AND repo = ? AND commit_id = ?",
		owner, repo, commitID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check graph: %w", err)
	}
	return n > 0, nil
}

// Subtree loads the stored graph for a repository at a commit.
func (s *Store) Subtree(owner, repo, commitID string) (*jobs.GraphData, error) {
	rows, err := s.conn.Query(`
		SELECT node_id, path, name, grp, radius FROM graph_nodes
		WHERE owner = ? AND repo = ? AND commit_id = ?
		ORDER BY node_id ASC
	`, owner, repo, commitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var data jobs.GraphData
	for rows.Next() {
		var n jobs.Node
		if err := rows.Scan(&n.ID, &n.Path, &n.Name, &n.Group, &n.Radius); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		data.Nodes = append(data.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.conn.Query(`
		SELECT source, target, kind FROM graph_edges
		WHERE owner = ? AND repo = ? AND commit_id = ?
		ORDER BY source, target
	`, owner, repo, commitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer func() { _ = edgeRows.Close() }()

	for edgeRows.Next() {
		var l jobs.Link
		if err := edgeRows.Scan(&l.Source, &l.Target, &l.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		data.Links = append(data.Links, l)
	}
	return &data, edgeRows.Err()
}

// DeleteSubtree removes all nodes and edges for a repository across every
// commit. Part of repository teardown.
func (s *Store) DeleteSubtree(owner, repo string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM graph_nodes WHERE owner = ? AND repo = ?", owner, repo); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM graph_edges WHERE owner = ? AND repo = ?", owner, repo); err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subtree delete: %w", err)
	}

	s.logger.Info("Deleted repository graph subtree", map[string]interface{}{
		"owner": owner,
		"repo":  repo,
	})
	return nil
}
