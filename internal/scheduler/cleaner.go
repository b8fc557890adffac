package scheduler

import (
	"github.com/Nikhilk147/RepoScan/internal/chunkindex"
	"github.com/Nikhilk147/RepoScan/internal/graphstore"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
	"github.com/Nikhilk147/RepoScan/internal/metastore"
	"github.com/Nikhilk147/RepoScan/internal/queue"
)

// Cleaner reconciles a terminated job against the queue and, for abnormal
// termination, against the repository's derived state.
type Cleaner struct {
	queue  *queue.Queue
	meta   *metastore.Store
	graphs *graphstore.Store
	chunks *chunkindex.Index
	logger *logging.Logger
}

// NewCleaner creates the cleanup coordinator.
func NewCleaner(q *queue.Queue, meta *metastore.Store, graphs *graphstore.Store, chunks *chunkindex.Index, logger *logging.Logger) *Cleaner {
	return &Cleaner{queue: q, meta: meta, graphs: graphs, chunks: chunks, logger: logger}
}

// Cleanup runs after every worker termination. The queue release always
// happens; destructive teardown runs only for abnormal termination when the
// job's session was the repository's last. A clean finish never deletes
// anything, regardless of result content.
func (c *Cleaner) Cleanup(req *jobs.Request, reason terminationReason) {
	if err := c.queue.Release(req.JobID); err != nil {
		c.logger.Error("Failed to release job from queue", map[string]interface{}{
			"jobId": req.JobID,
			"error": err.Error(),
		})
	}

	if reason == finishedOK {
		return
	}

	sess, repo, err := c.meta.SessionRepository(req.SessionID)
	if err != nil {
		c.logger.Error("Failed to resolve session for cleanup", map[string]interface{}{
			"jobId":     req.JobID,
			"sessionId": req.SessionID,
			"error":     err.Error(),
		})
		return
	}
	if sess == nil || repo == nil {
		c.logger.Warn("No session or repository to clean up", map[string]interface{}{
			"jobId":     req.JobID,
			"sessionId": req.SessionID,
		})
		return
	}

	if repo.NSessions != 1 {
		// Other sessions still reference this repository; shared state stays.
		c.logger.Info("Skipping teardown, repository has other sessions", map[string]interface{}{
			"repo":      repo.FullName,
			"nSessions": repo.NSessions,
			"reason":    reason.String(),
		})
		return
	}

	c.logger.Warn("Abnormal termination on last session, tearing down repository", map[string]interface{}{
		"jobId":  req.JobID,
		"repo":   repo.FullName,
		"reason": reason.String(),
	})
	c.Teardown(repo, sess.ID)
}

// Teardown deletes all derived state for a repository: the structural graph
// subtree, the semantic chunk index, and the relational session and
// repository rows. The same routine serves abnormal-termination cleanup and
// user-initiated deletion. Each store's failure is logged on its own and
// never prevents attempting the others.
func (c *Cleaner) Teardown(repo *metastore.Repository, sessionID int64) {
	if err := c.graphs.DeleteSubtree(repo.Owner(), repo.Name); err != nil {
		c.logger.Error("Failed to delete graph subtree", map[string]interface{}{
			"repo":  repo.FullName,
			"error": err.Error(),
		})
	}

	if err := c.chunks.Delete(repo.Name, ""); err != nil {
		c.logger.Error("Failed to delete chunk index", map[string]interface{}{
			"repo":  repo.FullName,
			"error": err.Error(),
		})
	}

	if err := c.meta.DeleteSession(sessionID); err != nil {
		c.logger.Error("Failed to delete session row", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}

	if err := c.meta.DeleteRepository(repo.ID); err != nil {
		c.logger.Error("Failed to delete repository row", map[string]interface{}{
			"repo":  repo.FullName,
			"error": err.Error(),
		})
	}
}
