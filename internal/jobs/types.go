// Package jobs defines the job wire types and the job history store.
package jobs

import (
	"fmt"
	"time"
)

// Request is the job submission record. It is immutable once enqueued and
// consumed exactly once by a worker.
type Request struct {
	JobID       string `json:"job_id"`
	RepoURL     string `json:"url"`
	GitHubToken string `json:"github_token,omitempty"`
	SessionID   int64  `json:"session_id"`
	UserID      string `json:"user_id"`
	CommitID    string `json:"commit_id"`
	IsUpdate    bool   `json:"is_updated"`
}

// RequestID derives the deduplication key for a submission. Re-submission
// for the same user and session collapses to the same job id.
func RequestID(userID string, sessionID int64) string {
	return fmt.Sprintf("%s:%d", userID, sessionID)
}

// OutcomeStatus is the terminal status delivered to waiting callers.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the terminal result published on the notification channel.
// At most one Outcome is ever published per job id.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	GraphData *GraphData    `json:"graph_data,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// GraphData is the analysis result payload: the repository's file/folder
// nodes and their parent/import links.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Node is one file, folder or root entry in the repository graph.
type Node struct {
	ID     int    `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Group  string `json:"group"`
	Radius int    `json:"radius"`
}

// Link connects two nodes. Kind is "contains" for parent/child edges and
// "import" for resolved import relations.
type Link struct {
	Source int    `json:"source"`
	Target int    `json:"target"`
	Kind   string `json:"kind,omitempty"`
}

// JobStatus tracks a job run through the history store.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job is one recorded run of a submission. RunID is unique per run; JobID
// is the dedup key and may recur across runs.
type Job struct {
	RunID       string     `json:"runId"`
	JobID       string     `json:"jobId"`
	RepoURL     string     `json:"repoUrl"`
	SessionID   int64      `json:"sessionId"`
	UserID      string     `json:"userId"`
	CommitID    string     `json:"commitId,omitempty"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns the run duration, or time since start for running jobs.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ListJobsOptions filters and pages a history listing.
type ListJobsOptions struct {
	Status []JobStatus
	Limit  int
	Offset int
}

// ListJobsResponse is one page of history.
type ListJobsResponse struct {
	Jobs       []Job `json:"jobs"`
	TotalCount int   `json:"totalCount"`
}
