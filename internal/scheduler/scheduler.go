// Package scheduler owns the worker pool: it pulls jobs from the work
// queue, enforces per-job timeouts, tells crashes apart from clean exits,
// and publishes terminal outcomes after cleanup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/analyzer"
	"github.com/Nikhilk147/RepoScan/internal/config"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
	"github.com/Nikhilk147/RepoScan/internal/notify"
	"github.com/Nikhilk147/RepoScan/internal/queue"
)

// Scheduler runs the continuous scheduling loop. All mutable state is owned
// by one instance with an explicit Start/Stop lifecycle.
type Scheduler struct {
	queue   *queue.Queue
	hub     *notify.Hub
	runner  analyzer.Runner
	cleaner *Cleaner
	history *jobs.Store
	logger  *logging.Logger
	cfg     config.SchedulerConfig

	mu      sync.Mutex
	running map[string]*runningJob

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a scheduler. Call Start to begin scheduling.
func New(q *queue.Queue, hub *notify.Hub, runner analyzer.Runner, cleaner *Cleaner, history *jobs.Store, cfg config.SchedulerConfig, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		queue:   q,
		hub:     hub,
		runner:  runner,
		cleaner: cleaner,
		history: history,
		logger:  logger,
		cfg:     cfg,
		running: make(map[string]*runningJob),
	}
}

// Start requeues orphans left by a previous run and launches the loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if _, err := s.queue.RecoverOrphans(); err != nil {
		s.logger.Error("Orphan recovery failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)

	s.logger.Info("Scheduler started", map[string]interface{}{
		"maxConcurrentJobs": s.cfg.MaxConcurrentJobs,
		"timeoutSec":        s.cfg.TimeoutSec,
	})
	return nil
}

// Stop halts admission and drains: finished workers are reaped and their
// outcomes published, workers still running at the deadline are killed and
// cleaned up as timed out. No worker is leaked.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(timeout):
		s.logger.Warn("Scheduler loop did not stop in time", nil)
	}

	deadline := time.Now().Add(timeout)
	for _, job := range s.snapshot() {
		remaining := time.Until(deadline)
		if remaining > 0 {
			select {
			case <-job.handle.done:
			case <-time.After(remaining):
			}
		}

		if job.handle.Alive() {
			job.handle.Kill()
			s.finish(job, timedOut)
		} else if job.handle.Crashed() {
			s.finish(job, crashed)
		} else {
			s.finish(job, finishedOK)
		}
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.logger.Info("Scheduler stopped", nil)
	return nil
}

// RunningCount returns the current number of in-flight workers.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	claimWait := time.Duration(s.cfg.ClaimWaitMs) * time.Millisecond
	if claimWait <= 0 {
		claimWait = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Reap and timeout before admission so a slot freed this tick is
		// usable in the same tick.
		s.reap()
		s.enforceTimeouts()
		s.admit(ctx, claimWait)
	}
}

// reap classifies workers whose goroutine has exited: clean exit is
// finished (the worker's own outcome may still be failed), an escaped
// panic is crashed.
func (s *Scheduler) reap() {
	for _, job := range s.snapshot() {
		if job.handle.Alive() {
			continue
		}
		if job.handle.Crashed() {
			s.finish(job, crashed)
		} else {
			s.finish(job, finishedOK)
		}
	}
}

// enforceTimeouts kills workers past the deadline. The kill is synchronous:
// bookkeeping is only touched once the worker has confirmed exit.
func (s *Scheduler) enforceTimeouts() {
	limit := time.Duration(s.cfg.TimeoutSec) * time.Second
	for _, job := range s.snapshot() {
		if !job.handle.Alive() {
			continue
		}
		if time.Since(job.startTime) < limit {
			continue
		}

		s.logger.Warn("Job exceeded timeout, killing worker", map[string]interface{}{
			"jobId":      job.request.JobID,
			"timeoutSec": s.cfg.TimeoutSec,
		})
		job.handle.Kill()
		s.finish(job, timedOut)
	}
}

// admit claims the next request when a slot is free. Claim errors are
// logged and the tick retried; they are never fatal.
func (s *Scheduler) admit(ctx context.Context, claimWait time.Duration) {
	if s.RunningCount() >= s.cfg.MaxConcurrentJobs {
		// Saturated: pace the loop without claiming.
		select {
		case <-ctx.Done():
		case <-time.After(claimWait):
		}
		return
	}

	req, err := s.queue.ClaimNext(ctx, claimWait)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("Queue claim failed", map[string]interface{}{
			"error": err.Error(),
		})
		time.Sleep(claimWait)
		return
	}
	if req == nil {
		return
	}

	now := time.Now()
	if err := s.history.MarkRunning(req.JobID, now); err != nil {
		s.logger.Warn("Failed to record job start", map[string]interface{}{
			"jobId": req.JobID,
			"error": err.Error(),
		})
	}

	// Worker context is detached from the loop context: stopping the loop
	// must not cancel in-flight analyses before the drain decides to.
	handle := spawnWorker(context.Background(), s.runner, req, s.logger)

	s.mu.Lock()
	s.running[req.JobID] = &runningJob{request: req, handle: handle, startTime: now}
	s.mu.Unlock()

	s.logger.Info("Job admitted", map[string]interface{}{
		"jobId": req.JobID,
		"repo":  req.RepoURL,
	})
}

// finish runs cleanup, records history, publishes the terminal outcome and
// forgets the job. Exactly one terminal outcome is published per job.
func (s *Scheduler) finish(job *runningJob, reason terminationReason) {
	s.mu.Lock()
	if _, ok := s.running[job.request.JobID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.running, job.request.JobID)
	s.mu.Unlock()

	s.cleaner.Cleanup(job.request, reason)

	var outcome jobs.Outcome
	switch reason {
	case finishedOK:
		outcome = job.handle.Outcome()
	case timedOut:
		outcome = jobs.Outcome{
			Status: jobs.OutcomeFailed,
			Error:  fmt.Sprintf("analysis timed out after %ds", s.cfg.TimeoutSec),
		}
	case crashed:
		outcome = jobs.Outcome{Status: jobs.OutcomeFailed, Error: "worker crashed"}
	}

	histStatus := jobs.StatusCompleted
	if outcome.Status == jobs.OutcomeFailed {
		histStatus = jobs.StatusFailed
	}
	if err := s.history.MarkTerminal(job.request.JobID, histStatus, outcome.Error, time.Now()); err != nil {
		s.logger.Warn("Failed to record job completion", map[string]interface{}{
			"jobId": job.request.JobID,
			"error": err.Error(),
		})
	}

	s.hub.Publish(job.request.JobID, outcome)

	s.logger.Info("Job finished", map[string]interface{}{
		"jobId":    job.request.JobID,
		"reason":   reason.String(),
		"status":   string(outcome.Status),
		"duration": time.Since(job.startTime).Round(time.Millisecond).String(),
	})
}

func (s *Scheduler) snapshot() []*runningJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*runningJob, 0, len(s.running))
	for _, job := range s.running {
		out = append(out, job)
	}
	return out
}
