// Package daemon runs RepoScan as an always-on HTTP service: it owns the
// stores, the scheduler, and the API surface clients submit analyses to.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/analyzer"
	"github.com/Nikhilk147/RepoScan/internal/chunkindex"
	"github.com/Nikhilk147/RepoScan/internal/config"
	"github.com/Nikhilk147/RepoScan/internal/dispatch"
	"github.com/Nikhilk147/RepoScan/internal/githubapi"
	"github.com/Nikhilk147/RepoScan/internal/graphstore"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
	"github.com/Nikhilk147/RepoScan/internal/metastore"
	"github.com/Nikhilk147/RepoScan/internal/notify"
	"github.com/Nikhilk147/RepoScan/internal/queue"
	"github.com/Nikhilk147/RepoScan/internal/scheduler"
	"github.com/Nikhilk147/RepoScan/internal/version"
)

const pidFileName = "reposcan.pid"

// Daemon represents the RepoScan daemon process
type Daemon struct {
	config  *config.Config
	logger  *logging.Logger
	logSink io.Writer

	// Components
	github     *githubapi.Client
	queue      *queue.Queue
	hub        *notify.Hub
	history    *jobs.Store
	meta       *metastore.Store
	graphs     *graphstore.Store
	chunks     *chunkindex.Index
	scheduler  *scheduler.Scheduler
	cleaner    *scheduler.Cleaner
	dispatcher *dispatch.Dispatcher

	server *http.Server
	pid    *PIDFile

	// Shutdown coordination
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	startedAt time.Time
	mu        sync.RWMutex
}

// DaemonState represents the current daemon state
type DaemonState struct {
	PID         int          `json:"pid"`
	StartedAt   time.Time    `json:"startedAt"`
	Port        int          `json:"port"`
	Bind        string       `json:"bind"`
	Version     string       `json:"version"`
	Uptime      string       `json:"uptime"`
	JobsRunning int          `json:"jobsRunning"`
	Queue       *queue.Stats `json:"queue,omitempty"`
}

// New creates a daemon instance with all components wired but not started
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var sink io.Writer = os.Stdout
	if cfg.Daemon.LogFile != "" {
		sink = logging.FileSink(cfg.Daemon.LogFile, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	}

	logger := logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
		Output: sink,
	})

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  logger,
		logSink: sink,
		ctx:     ctx,
		cancel:  cancel,
	}

	q, err := queue.Open(cfg.DataDir, cfg.Queue.MaxSize, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	d.queue = q

	history, err := jobs.OpenStore(cfg.DataDir, logger)
	if err != nil {
		cancel()
		d.closeStores()
		return nil, fmt.Errorf("failed to open job history: %w", err)
	}
	d.history = history

	meta, err := metastore.Open(cfg.DataDir, logger)
	if err != nil {
		cancel()
		d.closeStores()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	d.meta = meta

	graphs, err := graphstore.Open(cfg.DataDir, logger)
	if err != nil {
		cancel()
		d.closeStores()
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	d.graphs = graphs

	chunks, err := chunkindex.Open(cfg.DataDir, logger)
	if err != nil {
		cancel()
		d.closeStores()
		return nil, fmt.Errorf("failed to open chunk index: %w", err)
	}
	d.chunks = chunks

	gh := githubapi.NewClient(cfg.GitHub.APIBaseURL, cfg.GitHub.RawBaseURL, cfg.GitHub.Token)
	d.github = gh
	runner := analyzer.New(gh, graphs, chunks, cfg.Analyzer, logger)

	d.hub = notify.NewHub()
	d.cleaner = scheduler.NewCleaner(q, meta, graphs, chunks, logger)
	d.scheduler = scheduler.New(q, d.hub, runner, d.cleaner, history, cfg.Scheduler, logger)
	d.dispatcher = dispatch.New(q, d.hub, history, cfg.Scheduler.WaitTimeoutSec, logger)

	return d, nil
}

// Start acquires the PID file and brings up the scheduler and HTTP server
func (d *Daemon) Start() error {
	d.logger.Info("starting daemon", map[string]interface{}{
		"version": version.Version,
		"dataDir": d.config.DataDir,
	})

	d.pid = NewPIDFile(filepath.Join(d.config.DataDir, pidFileName))
	if err := d.pid.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire PID file: %w", err)
	}

	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()

	// Requeues orphaned work from a previous crash before claiming starts
	if err := d.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	d.server = d.setupServer()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Info("http server listening", map[string]interface{}{
			"addr": d.server.Addr,
		})
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("http server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	d.logger.Info("daemon started", map[string]interface{}{
		"pid": os.Getpid(),
	})
	return nil
}

// Stop shuts the daemon down: HTTP first so no new work arrives, then the
// scheduler drains running jobs, then the stores close.
func (d *Daemon) Stop() error {
	d.logger.Info("stopping daemon", nil)
	d.cancel()

	shutdownTimeout := 30 * time.Second

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn("http shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
		cancel()
	}

	if d.scheduler != nil {
		if err := d.scheduler.Stop(shutdownTimeout); err != nil {
			d.logger.Warn("scheduler shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	d.closeStores()
	d.wg.Wait()

	if d.pid != nil {
		if err := d.pid.Release(); err != nil {
			d.logger.Warn("failed to release PID file", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	d.logger.Info("daemon stopped", nil)

	if closer, ok := d.logSink.(io.Closer); ok {
		_ = closer.Close()
	}
	return nil
}

// closeStores closes whatever stores were opened, in reverse dependency order
func (d *Daemon) closeStores() {
	if d.chunks != nil {
		_ = d.chunks.Close()
	}
	if d.graphs != nil {
		_ = d.graphs.Close()
	}
	if d.meta != nil {
		_ = d.meta.Close()
	}
	if d.history != nil {
		_ = d.history.Close()
	}
	if d.queue != nil {
		_ = d.queue.Close()
	}
}

// Wait blocks until the daemon receives a shutdown signal
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.logger.Info("received signal", map[string]interface{}{
			"signal": sig.String(),
		})
	case <-d.ctx.Done():
		d.logger.Info("context cancelled", nil)
	}
}

// State returns the current daemon state
func (d *Daemon) State() *DaemonState {
	d.mu.RLock()
	startedAt := d.startedAt
	d.mu.RUnlock()

	state := &DaemonState{
		PID:       os.Getpid(),
		StartedAt: startedAt,
		Port:      d.config.Daemon.Port,
		Bind:      d.config.Daemon.Bind,
		Version:   version.Version,
		Uptime:    formatDuration(time.Since(startedAt)),
	}

	if d.scheduler != nil {
		state.JobsRunning = d.scheduler.RunningCount()
	}
	if d.queue != nil {
		if stats, err := d.queue.GetStats(); err == nil {
			state.Queue = stats
		}
	}

	return state
}

// IsRunning checks whether a daemon holds the PID file under dataDir
func IsRunning(dataDir string) (bool, int, error) {
	pid := NewPIDFile(filepath.Join(dataDir, pidFileName))
	return pid.IsRunning()
}

// StopRemote sends SIGTERM to a running daemon and waits for it to exit
func StopRemote(dataDir string) error {
	pid := NewPIDFile(filepath.Join(dataDir, pidFileName))
	running, processID, err := pid.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(processID)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("timeout waiting for daemon to stop")
		case <-ticker.C:
			running, _, _ := pid.IsRunning()
			if !running {
				return nil
			}
		}
	}
}
