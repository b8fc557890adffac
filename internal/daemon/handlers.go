package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Nikhilk147/RepoScan/internal/errors"
	"github.com/Nikhilk147/RepoScan/internal/githubapi"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
)

// AnalyzeRequest is the body of POST /api/v1/analyze
type AnalyzeRequest struct {
	URL         string `json:"url"`
	UserID      string `json:"user_id"`
	SessionID   int64  `json:"session_id,omitempty"`
	Title       string `json:"title,omitempty"`
	GitHubToken string `json:"github_token,omitempty"`
	CommitID    string `json:"commit_id,omitempty"`
	IsUpdate    bool   `json:"is_updated,omitempty"`
}

// AnalyzeResponse is the body of a successful analyze call
type AnalyzeResponse struct {
	Status    string          `json:"status"`
	SessionID int64           `json:"session_id"`
	JobID     string          `json:"job_id"`
	GraphData *jobs.GraphData `json:"graph_data,omitempty"`
}

// handleAnalyze handles POST /api/v1/analyze. The request blocks until the
// analysis finishes, the wait times out, or submission is rejected.
func (d *Daemon) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeError(w, errors.New(errors.InvalidRequest, "invalid JSON body", err))
		return
	}
	if req.URL == "" || req.UserID == "" {
		d.writeError(w, errors.New(errors.InvalidRequest, "url and user_id are required", nil))
		return
	}

	owner, repo, err := githubapi.ParseRepoURL(req.URL)
	if err != nil {
		d.writeError(w, errors.New(errors.InvalidRequest, "invalid repository url", err))
		return
	}
	fullName := owner + "/" + repo

	// Resolve the branch head before touching the metadata store, so the
	// stored commit is always a real sha.
	commitID := req.CommitID
	if commitID == "" {
		branch, err := d.github.DefaultBranch(r.Context(), owner, repo)
		if err == nil {
			commitID, err = d.github.LatestCommit(r.Context(), owner, repo, branch)
		}
		if err != nil {
			d.writeError(w, err)
			return
		}
	}

	sessionID := req.SessionID
	if sessionID == 0 {
		repoID, created, err := d.meta.UpsertRepoIncrement(repo, fullName, commitID)
		if err != nil {
			d.writeError(w, errors.New(errors.StoreUnavailable, "failed to register repository", err))
			return
		}
		title := req.Title
		if title == "" {
			title = fullName
		}
		sessionID, err = d.meta.CreateSession(req.UserID, repoID, title)
		if err != nil {
			d.writeError(w, errors.New(errors.StoreUnavailable, "failed to create session", err))
			return
		}
		d.logger.Info("session created", map[string]interface{}{
			"sessionId": sessionID,
			"repo":      fullName,
			"new":       created,
		})
	} else {
		sess, _, err := d.meta.SessionRepository(sessionID)
		if err != nil {
			d.writeError(w, errors.New(errors.StoreUnavailable, "failed to resolve session", err))
			return
		}
		if sess == nil {
			d.writeError(w, errors.New(errors.SessionNotFound, "session not found", nil))
			return
		}
		if req.IsUpdate {
			// Nothing to re-analyze when the stored commit is already
			// the branch head.
			isLatest, err := d.meta.CheckCommit(fullName, commitID)
			if err != nil {
				d.writeError(w, errors.New(errors.StoreUnavailable, "failed to check commit", err))
				return
			}
			if isLatest {
				d.writeJSON(w, http.StatusOK, AnalyzeResponse{
					Status:    "up_to_date",
					SessionID: sessionID,
					JobID:     jobs.RequestID(req.UserID, sessionID),
				})
				return
			}
		}
	}

	token := req.GitHubToken
	if token == "" {
		if stored, err := d.meta.ProfileToken(req.UserID); err == nil {
			token = stored
		}
	}
	if token == "" {
		token = d.config.GitHub.Token
	}

	job := &jobs.Request{
		JobID:       jobs.RequestID(req.UserID, sessionID),
		RepoURL:     req.URL,
		GitHubToken: token,
		SessionID:   sessionID,
		UserID:      req.UserID,
		CommitID:    commitID,
		IsUpdate:    req.IsUpdate,
	}

	data, err := d.dispatcher.SubmitAndWait(r.Context(), job)
	if err != nil {
		d.writeError(w, err)
		return
	}

	d.writeJSON(w, http.StatusOK, AnalyzeResponse{
		Status:    "completed",
		SessionID: sessionID,
		JobID:     job.JobID,
		GraphData: data,
	})
}

// handleJobsList handles GET /api/v1/jobs
func (d *Daemon) handleJobsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	opts := jobs.ListJobsOptions{}
	q := r.URL.Query()
	for _, s := range q["status"] {
		opts.Status = append(opts.Status, jobs.JobStatus(s))
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	resp, err := d.history.ListRuns(opts)
	if err != nil {
		d.writeError(w, errors.New(errors.StoreUnavailable, "failed to list jobs", err))
		return
	}
	d.writeJSON(w, http.StatusOK, resp)
}

// handleJobDetail handles GET /api/v1/jobs/{id}. The id is either a run id
// or a user:session job id, in which case the latest run is returned.
func (d *Daemon) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	var job *jobs.Job
	var err error
	if strings.Contains(id, ":") {
		job, err = d.history.LatestRun(id)
	} else {
		job, err = d.history.GetRun(id)
	}
	if err != nil {
		d.writeError(w, errors.New(errors.StoreUnavailable, "failed to load job", err))
		return
	}
	if job == nil {
		http.NotFound(w, r)
		return
	}
	d.writeJSON(w, http.StatusOK, job)
}

// SessionDeleteResponse is the body of DELETE /api/v1/sessions/{id}
type SessionDeleteResponse struct {
	Deleted        bool  `json:"deleted"`
	SessionID      int64 `json:"session_id"`
	RepositoryGone bool  `json:"repository_gone"`
}

// handleSessionRoute handles /api/v1/sessions/{id}
func (d *Daemon) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	if idStr == "" || strings.Contains(idStr, "/") {
		http.NotFound(w, r)
		return
	}
	sessionID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		d.writeError(w, errors.New(errors.InvalidRequest, "invalid session id", err))
		return
	}

	switch r.Method {
	case http.MethodDelete:
		d.deleteSession(w, sessionID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// deleteSession removes a session. Deleting the last session of a repository
// tears down everything derived from it.
func (d *Daemon) deleteSession(w http.ResponseWriter, sessionID int64) {
	sess, repo, err := d.meta.SessionRepository(sessionID)
	if err != nil {
		d.writeError(w, errors.New(errors.StoreUnavailable, "failed to resolve session", err))
		return
	}
	if sess == nil {
		d.writeError(w, errors.New(errors.SessionNotFound, "session not found", nil))
		return
	}

	repositoryGone := false
	if repo != nil && repo.NSessions <= 1 {
		d.cleaner.Teardown(repo, sessionID)
		repositoryGone = true
	} else {
		if repo != nil {
			if err := d.meta.DecrementSessions(repo.ID); err != nil {
				d.writeError(w, errors.New(errors.StoreUnavailable, "failed to update repository", err))
				return
			}
		}
		if err := d.meta.DeleteSession(sessionID); err != nil {
			d.writeError(w, errors.New(errors.StoreUnavailable, "failed to delete session", err))
			return
		}
	}

	d.logger.Info("session deleted", map[string]interface{}{
		"sessionId":      sessionID,
		"repositoryGone": repositoryGone,
	})

	d.writeJSON(w, http.StatusOK, SessionDeleteResponse{
		Deleted:        true,
		SessionID:      sessionID,
		RepositoryGone: repositoryGone,
	})
}
