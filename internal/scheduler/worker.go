package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/analyzer"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
)

// terminationReason classifies how a worker ended. It drives cleanup and is
// never exposed to producers.
type terminationReason int

const (
	finishedOK terminationReason = iota
	timedOut
	crashed
)

func (r terminationReason) String() string {
	switch r {
	case finishedOK:
		return "finished"
	case timedOut:
		return "timed_out"
	case crashed:
		return "crashed"
	}
	return "unknown"
}

// workerHandle is one isolated execution unit. The analysis runs in its own
// goroutine behind a panic boundary, so an unrecoverable fault in the
// analyzer never reaches the scheduler loop.
type workerHandle struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	outcome  jobs.Outcome
	didCrash bool
}

// runningJob is the scheduler's bookkeeping for one in-flight worker.
type runningJob struct {
	request   *jobs.Request
	handle    *workerHandle
	startTime time.Time
}

// spawnWorker starts the analysis for req in its own failure domain.
// Analyzer errors are caught at this boundary and become a failed outcome
// with a clean exit; only an escaped panic marks the handle crashed.
func spawnWorker(ctx context.Context, runner analyzer.Runner, req *jobs.Request, logger *logging.Logger) *workerHandle {
	workerCtx, cancel := context.WithCancel(ctx)
	h := &workerHandle{
		jobID:  req.JobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("Worker panicked", map[string]interface{}{
					"jobId": req.JobID,
					"panic": fmt.Sprintf("%v", p),
				})
				h.mu.Lock()
				h.didCrash = true
				h.mu.Unlock()
			}
		}()

		data, err := runner.Analyze(workerCtx, req)

		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			h.outcome = jobs.Outcome{Status: jobs.OutcomeFailed, Error: err.Error()}
			return
		}
		h.outcome = jobs.Outcome{Status: jobs.OutcomeCompleted, GraphData: data}
	}()

	return h
}

// Alive reports whether the worker is still running.
func (h *workerHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Crashed reports whether the worker ended via an escaped panic. Only valid
// once Alive returns false.
func (h *workerHandle) Crashed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.didCrash
}

// Outcome returns the worker's own terminal outcome. Only valid once Alive
// returns false and Crashed is false.
func (h *workerHandle) Outcome() jobs.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// Kill forcibly terminates the worker and blocks until it has confirmed
// exit. Bookkeeping must not be mutated before Kill returns, so a killed
// worker can never publish a stale success.
func (h *workerHandle) Kill() {
	h.cancel()
	<-h.done
}
