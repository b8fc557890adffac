package daemon

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/analyzer"
	"github.com/Nikhilk147/RepoScan/internal/errors"
	"github.com/Nikhilk147/RepoScan/internal/version"
)

// setupServer creates and configures the HTTP server
func (d *Daemon) setupServer() *http.Server {
	mux := http.NewServeMux()

	// Health endpoint (no auth required)
	mux.HandleFunc("/health", d.handleHealth)

	// API endpoints (auth required)
	mux.Handle("/api/v1/", d.withAuth(d.apiRouter()))

	addr := fmt.Sprintf("%s:%d", d.config.Daemon.Bind, d.config.Daemon.Port)

	return &http.Server{
		Addr:    addr,
		Handler: mux,
		// Analyze requests hold the connection open until the job finishes,
		// so the write timeout must cover the wait-for-outcome window.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(d.config.Scheduler.WaitTimeoutSec+30) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// apiRouter returns the router for API endpoints
func (d *Daemon) apiRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/daemon/status", d.handleDaemonStatus)
	mux.HandleFunc("/api/v1/analyze", d.handleAnalyze)
	mux.HandleFunc("/api/v1/jobs", d.handleJobsList)
	mux.HandleFunc("/api/v1/jobs/", d.handleJobDetail)
	mux.HandleFunc("/api/v1/sessions/", d.handleSessionRoute)

	return mux
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// handleHealth handles GET /health (no auth required)
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := map[string]string{
		"queue":     "ok",
		"scheduler": "ok",
		"parser":    "regex",
	}
	if analyzer.StructureExtractorAvailable() {
		checks["parser"] = "tree-sitter"
	}
	if _, err := d.queue.Depth(); err != nil {
		checks["queue"] = "error"
	}

	resp := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Uptime:  formatDuration(time.Since(d.startedAt)),
		Checks:  checks,
	}

	d.writeJSON(w, http.StatusOK, resp)
}

// APIError represents an API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the error response body
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// handleDaemonStatus handles GET /api/v1/daemon/status
func (d *Daemon) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.writeJSON(w, http.StatusOK, d.State())
}

// writeJSON writes a JSON response
func (d *Daemon) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		d.logger.Error("failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// writeError maps an error to its HTTP status and writes the error body
func (d *Daemon) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	message := err.Error()
	var se *errors.ScanError
	if stderrors.As(err, &se) {
		message = se.Message
	}
	d.writeJSON(w, errors.HTTPStatus(code), ErrorResponse{
		Error: APIError{
			Code:    string(code),
			Message: message,
		},
	})
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
