// Package dispatch is the producer side of the scheduler: it admits a job
// to the work queue and waits for its terminal outcome.
package dispatch

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/Nikhilk147/RepoScan/internal/errors"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
	"github.com/Nikhilk147/RepoScan/internal/notify"
	"github.com/Nikhilk147/RepoScan/internal/queue"
)

// Dispatcher submits jobs and relays outcomes to callers.
type Dispatcher struct {
	queue   *queue.Queue
	hub     *notify.Hub
	history *jobs.Store
	logger  *logging.Logger
	waitFor time.Duration
}

// New creates a dispatcher. waitTimeoutSec bounds how long SubmitAndWait
// blocks for an outcome.
func New(q *queue.Queue, hub *notify.Hub, history *jobs.Store, waitTimeoutSec int, logger *logging.Logger) *Dispatcher {
	if waitTimeoutSec <= 0 {
		waitTimeoutSec = 1000
	}
	return &Dispatcher{
		queue:   q,
		hub:     hub,
		history: history,
		logger:  logger,
		waitFor: time.Duration(waitTimeoutSec) * time.Second,
	}
}

// SubmitAndWait enqueues req and blocks until its terminal outcome arrives.
// The subscription is taken before enqueueing so the outcome cannot slip
// past between admission and waiting. A duplicate submission attaches to
// the in-flight job and waits for its outcome instead of erroring.
func (d *Dispatcher) SubmitAndWait(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
	if req.JobID == "" {
		req.JobID = jobs.RequestID(req.UserID, req.SessionID)
	}

	sub := d.hub.Subscribe(req.JobID)
	defer sub.Close()

	err := d.queue.Enqueue(req)
	switch {
	case stderrors.Is(err, errors.ErrQueueFull):
		return nil, errors.New(errors.QueueFull, "analysis queue is at capacity, try again later", err)
	case stderrors.Is(err, errors.ErrDuplicateJob):
		// Idempotent re-submission: wait on the job already in flight.
		d.logger.Info("Job already in progress, attaching to its outcome", map[string]interface{}{
			"jobId": req.JobID,
		})
	case err != nil:
		return nil, errors.New(errors.StoreUnavailable, "failed to enqueue job", err)
	default:
		if herr := d.history.CreateRun(&jobs.Job{
			RunID:     uuid.NewString(),
			JobID:     req.JobID,
			RepoURL:   req.RepoURL,
			SessionID: req.SessionID,
			UserID:    req.UserID,
			CommitID:  req.CommitID,
			Status:    jobs.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}); herr != nil {
			d.logger.Warn("Failed to record job submission", map[string]interface{}{
				"jobId": req.JobID,
				"error": herr.Error(),
			})
		}
	}

	outcome, err := sub.Await(ctx, d.waitFor)
	if err != nil {
		if stderrors.Is(err, errors.ErrWaitTimeout) {
			return nil, errors.New(errors.WaitTimeout, "timed out waiting for analysis to finish", err)
		}
		return nil, err
	}

	if outcome.Status == jobs.OutcomeFailed {
		msg := outcome.Error
		if msg == "" {
			msg = "analysis failed"
		}
		return nil, errors.New(errors.JobFailed, msg, nil)
	}
	return outcome.GraphData, nil
}
