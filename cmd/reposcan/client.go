package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/config"
	"github.com/Nikhilk147/RepoScan/internal/daemon"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
)

// apiClient talks to a running daemon over its HTTP API
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func daemonClient(cfg *config.Config) *apiClient {
	token := os.Getenv("REPOSCAN_DAEMON_TOKEN")
	if token == "" {
		token = cfg.Daemon.Auth.Token
	}
	return &apiClient{
		base:  fmt.Sprintf("http://%s:%d", cfg.Daemon.Bind, cfg.Daemon.Port),
		token: token,
		// Analyze calls block until the job finishes
		http: &http.Client{Timeout: time.Duration(cfg.Scheduler.WaitTimeoutSec+30) * time.Second},
	}
}

func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr daemon.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Status() (*daemon.DaemonState, error) {
	var state daemon.DaemonState
	if err := c.do(http.MethodGet, "/api/v1/daemon/status", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *apiClient) Analyze(req daemon.AnalyzeRequest) (*daemon.AnalyzeResponse, error) {
	var resp daemon.AnalyzeResponse
	if err := c.do(http.MethodPost, "/api/v1/analyze", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Jobs(status string, limit int) (*jobs.ListJobsResponse, error) {
	path := fmt.Sprintf("/api/v1/jobs?limit=%d", limit)
	if status != "" {
		path += "&status=" + status
	}
	var resp jobs.ListJobsResponse
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Job(id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) DeleteSession(id int64) (*daemon.SessionDeleteResponse, error) {
	var resp daemon.SessionDeleteResponse
	if err := c.do(http.MethodDelete, fmt.Sprintf("/api/v1/sessions/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
