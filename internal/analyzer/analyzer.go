// Package analyzer turns a GitHub repository into a structural graph and a
// set of semantic chunks. It is the unit of work the scheduler runs.
package analyzer

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Nikhilk147/RepoScan/internal/chunkindex"
	"github.com/Nikhilk147/RepoScan/internal/config"
	"github.com/Nikhilk147/RepoScan/internal/githubapi"
	"github.com/Nikhilk147/RepoScan/internal/graphstore"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
)

// Runner is the call boundary the scheduler consumes. Analyze must be safe
// to re-run for the same (repo, commit) key.
type Runner interface {
	Analyze(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error)
}

// Analyzer fetches, classifies and indexes a repository.
type Analyzer struct {
	gh     *githubapi.Client
	graphs *graphstore.Store
	chunks *chunkindex.Index
	logger *logging.Logger
	cfg    config.AnalyzerConfig
}

// Node sizing on the wire, consumed directly by the graph rendering client.
const (
	rootRadius   = 25
	folderRadius = 12
	fileRadius   = 6
)

// New creates an analyzer backed by the given stores.
func New(gh *githubapi.Client, graphs *graphstore.Store, chunks *chunkindex.Index, cfg config.AnalyzerConfig, logger *logging.Logger) *Analyzer {
	return &Analyzer{gh: gh, graphs: graphs, chunks: chunks, logger: logger, cfg: cfg}
}

// Analyze runs the full pipeline for one request. Per-file failures are
// logged and skipped; only a total failure (repository unreachable) errors.
func (a *Analyzer) Analyze(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
	owner, repo, err := githubapi.ParseRepoURL(req.RepoURL)
	if err != nil {
		return nil, err
	}

	client := a.gh.WithToken(req.GitHubToken)

	branch, err := client.DefaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	commitID := req.CommitID
	if commitID == "" {
		commitID, err = client.LatestCommit(ctx, owner, repo, branch)
		if err != nil {
			return nil, err
		}
	}

	// Re-entrancy: a previous worker may have fully indexed this key.
	hasGraph, err := a.graphs.HasGraph(owner, repo, commitID)
	if err == nil && hasGraph {
		if hasChunks, cerr := a.chunks.Has(repo, commitID); cerr == nil && hasChunks {
			a.logger.Info("Repository already analyzed, serving stored graph", map[string]interface{}{
				"repo":   owner + "/" + repo,
				"commit": commitID,
			})
			return a.graphs.Subtree(owner, repo, commitID)
		}
	}

	entries, err := client.Tree(ctx, owner, repo, branch)
	if err != nil {
		return nil, err
	}
	if len(entries) > a.cfg.MaxTreeEntries {
		entries = entries[:a.cfg.MaxTreeEntries]
	}

	data, pathToID := buildTreeGraph(repo, entries)

	pyFiles := pythonFiles(entries)
	structures, contents := a.fetchAndExtract(ctx, client, owner, repo, commitID, pyFiles)

	addImportLinks(data, pathToID, structures)

	if err := a.graphs.SaveGraph(owner, repo, commitID, data); err != nil {
		a.logger.Error("Failed to persist graph", map[string]interface{}{
			"repo":  owner + "/" + repo,
			"error": err.Error(),
		})
	}

	chunker := NewChunker(a.cfg.ChunkSize, a.cfg.ChunkOverlap)
	var allChunks []chunkindex.Chunk
	for _, filePath := range pyFiles {
		content, ok := contents[filePath]
		if !ok {
			continue
		}
		for i, piece := range chunker.Split(content) {
			allChunks = append(allChunks, chunkindex.Chunk{
				Path:     filePath,
				Index:    i,
				Language: "python",
				Content:  piece,
			})
		}
	}
	if err := a.chunks.Ingest(repo, commitID, allChunks); err != nil {
		a.logger.Error("Failed to index chunks", map[string]interface{}{
			"repo":  owner + "/" + repo,
			"error": err.Error(),
		})
	}

	a.logger.Info("Repository analysis complete", map[string]interface{}{
		"repo":    owner + "/" + repo,
		"commit":  commitID,
		"nodes":   len(data.Nodes),
		"links":   len(data.Links),
		"pyFiles": len(pyFiles),
		"chunks":  len(allChunks),
	})
	return data, nil
}

// buildTreeGraph turns a sorted tree listing into nodes and containment
// links. Node 0 is the repository root.
func buildTreeGraph(repoName string, entries []githubapi.TreeEntry) (*jobs.GraphData, map[string]int) {
	data := &jobs.GraphData{
		Nodes: []jobs.Node{{ID: 0, Path: "", Name: repoName, Group: "root", Radius: rootRadius}},
	}
	pathToID := map[string]int{"": 0}

	for _, entry := range entries {
		group, radius := "file", fileRadius
		if entry.Type == "tree" {
			group, radius = "folder", folderRadius
		}

		id := len(data.Nodes)
		data.Nodes = append(data.Nodes, jobs.Node{
			ID:     id,
			Path:   entry.Path,
			Name:   path.Base(entry.Path),
			Group:  group,
			Radius: radius,
		})
		pathToID[entry.Path] = id

		parent := path.Dir(entry.Path)
		if parent == "." {
			parent = ""
		}
		if parentID, ok := pathToID[parent]; ok {
			data.Links = append(data.Links, jobs.Link{Source: parentID, Target: id, Kind: "contains"})
		} else {
			// Parent fell outside the entry cap; attach to root.
			data.Links = append(data.Links, jobs.Link{Source: 0, Target: id, Kind: "contains"})
		}
	}
	return data, pathToID
}

func pythonFiles(entries []githubapi.TreeEntry) []string {
	var out []string
	for _, entry := range entries {
		if entry.Type == "blob" && strings.HasSuffix(entry.Path, ".py") {
			out = append(out, entry.Path)
		}
	}
	return out
}

// fetchAndExtract downloads python blobs with bounded concurrency and
// extracts their structure. Failed files are logged and skipped.
func (a *Analyzer) fetchAndExtract(ctx context.Context, client *githubapi.Client, owner, repo, commitID string, paths []string) (map[string]*FileStructure, map[string]string) {
	structures := make(map[string]*FileStructure, len(paths))
	contents := make(map[string]string, len(paths))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	limit := a.cfg.FetchConcurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)

	for _, filePath := range paths {
		filePath := filePath
		g.Go(func() error {
			raw, err := client.RawFile(gctx, owner, repo, commitID, filePath)
			if err != nil {
				a.logger.Warn("Skipping unreadable file", map[string]interface{}{
					"path":  filePath,
					"error": err.Error(),
				})
				return nil
			}

			st := extractStructure(gctx, raw)

			mu.Lock()
			structures[filePath] = st
			contents[filePath] = string(raw)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return structures, contents
}

// addImportLinks resolves each file's imports against repository paths and
// appends import edges.
func addImportLinks(data *jobs.GraphData, pathToID map[string]int, structures map[string]*FileStructure) {
	seen := make(map[string]bool)
	for filePath, st := range structures {
		sourceID, ok := pathToID[filePath]
		if !ok {
			continue
		}
		for _, imp := range st.Imports {
			target, ok := resolveImport(filePath, imp, pathToID)
			if !ok || target == sourceID {
				continue
			}
			key := fmt.Sprintf("%d->%d", sourceID, target)
			if seen[key] {
				continue
			}
			seen[key] = true
			data.Links = append(data.Links, jobs.Link{Source: sourceID, Target: target, Kind: "import"})
		}
	}
}

// resolveImport maps a python import string to a repository file. Plain
// imports resolve as siblings of the importing file; dotted imports shed
// their leading dots and match the longest path prefix that exists.
func resolveImport(fromPath, imp string, pathToID map[string]int) (int, bool) {
	imp = strings.TrimLeft(imp, ".")
	if imp == "" {
		return 0, false
	}

	parts := strings.Split(imp, ".")
	if len(parts) == 1 {
		dir := path.Dir(fromPath)
		if dir == "." {
			dir = ""
		}
		candidate := path.Join(dir, parts[0]+".py")
		if id, ok := pathToID[candidate]; ok {
			return id, true
		}
		// Top-level module.
		if id, ok := pathToID[parts[0]+".py"]; ok {
			return id, true
		}
		return 0, false
	}

	for k := len(parts); k >= 1; k-- {
		candidate := strings.Join(parts[:k], "/") + ".py"
		if id, ok := pathToID[candidate]; ok {
			return id, true
		}
	}
	return 0, false
}
