package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile guards against two daemons sharing one data directory.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PID file manager for the given path
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current process ID, refusing if another daemon holds it
func (p *PIDFile) Acquire() error {
	running, pid, err := p.IsRunning()
	if err != nil {
		return err
	}

	if running {
		return fmt.Errorf("daemon is already running (PID: %d)", pid)
	}

	// Stale file from a crashed daemon
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(p.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// Release removes the PID file
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is still alive.
// Returns (running, pid, error).
func (p *PIDFile) IsRunning() (bool, int, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Garbage in the file, treat as not running
		return false, 0, nil //nolint:nilerr
	}

	if processExists(pid) {
		return true, pid, nil
	}

	return false, pid, nil
}

// processExists checks liveness by sending signal 0
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
