package dispatch

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/errors"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
	"github.com/Nikhilk147/RepoScan/internal/notify"
	"github.com/Nikhilk147/RepoScan/internal/queue"
)

func newDispatcher(t *testing.T, maxQueue, waitTimeoutSec int) (*Dispatcher, *queue.Queue, *notify.Hub) {
	t.Helper()
	logger := logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: io.Discard})

	q, err := queue.Open(t.TempDir(), maxQueue, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = q.Close() })

	hist, err := jobs.OpenStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	hub := notify.NewHub()
	return New(q, hub, hist, waitTimeoutSec, logger), q, hub
}

// publishSoon simulates the scheduler completing the job.
func publishSoon(hub *notify.Hub, q *queue.Queue, jobID string, outcome jobs.Outcome) {
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = q.Release(jobID)
		hub.Publish(jobID, outcome)
	}()
}

func TestSubmitAndWaitCompleted(t *testing.T) {
	d, q, hub := newDispatcher(t, 100, 1000)

	want := &jobs.GraphData{Nodes: []jobs.Node{{ID: 0, Name: "b", Group: "root", Radius: 25}}}
	publishSoon(hub, q, "u1:5", jobs.Outcome{Status: jobs.OutcomeCompleted, GraphData: want})

	data, err := d.SubmitAndWait(context.Background(), &jobs.Request{
		RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1",
	})
	if err != nil {
		t.Fatalf("SubmitAndWait failed: %v", err)
	}
	if len(data.Nodes) != 1 || data.Nodes[0].Name != "b" {
		t.Errorf("graph = %+v", data)
	}
}

func TestSubmitAndWaitDerivesJobID(t *testing.T) {
	d, q, _ := newDispatcher(t, 100, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _ = d.SubmitAndWait(ctx, &jobs.Request{RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1"})

	// The dedup key is requester:session.
	if err := q.Enqueue(&jobs.Request{JobID: "u1:5"}); err == nil {
		t.Error("expected u1:5 to be occupied after submission")
	}
}

func TestSubmitAndWaitJobFailed(t *testing.T) {
	d, q, hub := newDispatcher(t, 100, 1000)

	publishSoon(hub, q, "u1:5", jobs.Outcome{Status: jobs.OutcomeFailed, Error: "worker crashed"})

	_, err := d.SubmitAndWait(context.Background(), &jobs.Request{
		RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1",
	})
	if err == nil {
		t.Fatal("expected error for failed outcome")
	}
	if errors.CodeOf(err) != errors.JobFailed {
		t.Errorf("CodeOf = %q, want JOB_FAILED", errors.CodeOf(err))
	}
}

func TestSubmitAndWaitQueueFull(t *testing.T) {
	d, q, _ := newDispatcher(t, 1, 1000)

	if err := q.Enqueue(&jobs.Request{JobID: "other:1"}); err != nil {
		t.Fatal(err)
	}

	_, err := d.SubmitAndWait(context.Background(), &jobs.Request{
		RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1",
	})
	if errors.CodeOf(err) != errors.QueueFull {
		t.Errorf("CodeOf = %q, want QUEUE_FULL", errors.CodeOf(err))
	}
}

func TestSubmitAndWaitDuplicateAttaches(t *testing.T) {
	d, q, hub := newDispatcher(t, 100, 1000)

	// The job is already in flight.
	if err := q.Enqueue(&jobs.Request{JobID: "u1:5"}); err != nil {
		t.Fatal(err)
	}

	want := &jobs.GraphData{Nodes: []jobs.Node{{ID: 0, Name: "b"}}}
	publishSoon(hub, q, "u1:5", jobs.Outcome{Status: jobs.OutcomeCompleted, GraphData: want})

	// Re-submission is not an error; it receives the first job's outcome.
	data, err := d.SubmitAndWait(context.Background(), &jobs.Request{
		RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1",
	})
	if err != nil {
		t.Fatalf("duplicate SubmitAndWait failed: %v", err)
	}
	if len(data.Nodes) != 1 {
		t.Errorf("graph = %+v", data)
	}
}

func TestSubmitAndWaitTimeout(t *testing.T) {
	d, _, _ := newDispatcher(t, 100, 1000)
	d.waitFor = 50 * time.Millisecond

	_, err := d.SubmitAndWait(context.Background(), &jobs.Request{
		RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1",
	})
	if errors.CodeOf(err) != errors.WaitTimeout {
		t.Errorf("CodeOf = %q, want WAIT_TIMEOUT", errors.CodeOf(err))
	}
}
