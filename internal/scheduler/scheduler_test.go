package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Nikhilk147/RepoScan/internal/chunkindex"
	"github.com/Nikhilk147/RepoScan/internal/config"
	"github.com/Nikhilk147/RepoScan/internal/graphstore"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
	"github.com/Nikhilk147/RepoScan/internal/metastore"
	"github.com/Nikhilk147/RepoScan/internal/notify"
	"github.com/Nikhilk147/RepoScan/internal/queue"
)

type fakeRunner struct {
	fn func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error)
}

func (f *fakeRunner) Analyze(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
	return f.fn(ctx, req)
}

type fixture struct {
	queue  *queue.Queue
	hub    *notify.Hub
	meta   *metastore.Store
	graphs *graphstore.Store
	chunks *chunkindex.Index
	hist   *jobs.Store
	sched  *Scheduler
}

func newFixture(t *testing.T, runner *fakeRunner, cfg config.SchedulerConfig) *fixture {
	t.Helper()
	logger := logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: io.Discard})

	q, err := queue.Open(t.TempDir(), 100, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = q.Close() })

	meta, err := metastore.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = meta.Close() })

	graphs, err := graphstore.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = graphs.Close() })

	chunks, err := chunkindex.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = chunks.Close() })

	hist, err := jobs.OpenStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	hub := notify.NewHub()
	cleaner := NewCleaner(q, meta, graphs, chunks, logger)
	sched := New(q, hub, runner, cleaner, hist, cfg, logger)

	return &fixture{queue: q, hub: hub, meta: meta, graphs: graphs, chunks: chunks, hist: hist, sched: sched}
}

func fastConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxConcurrentJobs: 5,
		TimeoutSec:        300,
		ClaimWaitMs:       50,
		WaitTimeoutSec:    1000,
	}
}

// submit records a history row and enqueues, the way the dispatcher does.
func (f *fixture) submit(t *testing.T, req *jobs.Request) {
	t.Helper()
	err := f.hist.CreateRun(&jobs.Job{
		RunID:     uuid.NewString(),
		JobID:     req.JobID,
		RepoURL:   req.RepoURL,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Status:    jobs.StatusQueued,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.queue.Enqueue(req); err != nil {
		t.Fatal(err)
	}
}

func okGraph() *jobs.GraphData {
	return &jobs.GraphData{
		Nodes: []jobs.Node{{ID: 0, Name: "b", Group: "root", Radius: 25}},
	}
}

func TestEndToEndCompleted(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
		return okGraph(), nil
	}}
	f := newFixture(t, runner, fastConfig())

	req := &jobs.Request{JobID: "u1:5", RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1", CommitID: "c1"}
	sub := f.hub.Subscribe(req.JobID)
	defer sub.Close()
	f.submit(t, req)

	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.sched.Stop(2 * time.Second) }()

	outcome, err := sub.Await(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != jobs.OutcomeCompleted {
		t.Fatalf("status = %q, want completed: %+v", outcome.Status, outcome)
	}
	if outcome.GraphData == nil || len(outcome.GraphData.Nodes) != 1 {
		t.Errorf("graph payload missing: %+v", outcome.GraphData)
	}

	// Job fully released from all queue containers.
	waitFor(t, time.Second, func() bool {
		stats, err := f.queue.GetStats()
		return err == nil && stats.Pending == 0 && stats.Processing == 0 && stats.Keys == 0
	}, "queue containers not emptied")

	// History recorded completion.
	waitFor(t, time.Second, func() bool {
		run, err := f.hist.LatestRun("u1:5")
		return err == nil && run != nil && run.Status == jobs.StatusCompleted
	}, "history not marked completed")
}

func TestAnalyzerErrorIsCleanFailure(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
		return nil, fmt.Errorf("repository unreachable")
	}}
	f := newFixture(t, runner, fastConfig())

	// Session exists with one reference; a clean failure must NOT tear down.
	repoID, _, err := f.meta.UpsertRepoIncrement("b", "a/b", "c1")
	if err != nil {
		t.Fatal(err)
	}
	sessID, err := f.meta.CreateSession("u1", repoID, "")
	if err != nil {
		t.Fatal(err)
	}

	req := &jobs.Request{JobID: "u1:5", RepoURL: "https://github.com/a/b", SessionID: sessID, UserID: "u1"}
	sub := f.hub.Subscribe(req.JobID)
	defer sub.Close()
	f.submit(t, req)

	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.sched.Stop(2 * time.Second) }()

	outcome, err := sub.Await(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != jobs.OutcomeFailed || outcome.Error != "repository unreachable" {
		t.Errorf("outcome = %+v, want failed/repository unreachable", outcome)
	}

	// Clean exit: no teardown even though the outcome is failed.
	repo, err := f.meta.GetRepository(repoID)
	if err != nil {
		t.Fatal(err)
	}
	if repo == nil {
		t.Error("clean failure triggered repository teardown")
	}
}

func TestCrashTriggersTeardownOnLastSession(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
		panic("analyzer blew up")
	}}
	f := newFixture(t, runner, fastConfig())

	repoID, _, err := f.meta.UpsertRepoIncrement("b", "a/b", "c1")
	if err != nil {
		t.Fatal(err)
	}
	sessID, err := f.meta.CreateSession("u1", repoID, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.graphs.SaveGraph("a", "b", "c1", okGraph()); err != nil {
		t.Fatal(err)
	}
	if err := f.chunks.Ingest("b", "c1", []chunkindex.Chunk{{Path: "x.py", Language: "python", Content: "pass"}}); err != nil {
		t.Fatal(err)
	}

	req := &jobs.Request{JobID: "u1:5", RepoURL: "https://github.com/a/b", SessionID: sessID, UserID: "u1"}
	sub := f.hub.Subscribe(req.JobID)
	defer sub.Close()
	f.submit(t, req)

	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.sched.Stop(2 * time.Second) }()

	outcome, err := sub.Await(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != jobs.OutcomeFailed {
		t.Fatalf("crashed job outcome = %+v, want failed", outcome)
	}

	// Last-session crash purges every store.
	repo, _ := f.meta.GetRepository(repoID)
	if repo != nil {
		t.Error("repository row survived crash teardown")
	}
	sess, _ := f.meta.GetSession(sessID)
	if sess != nil {
		t.Error("session row survived crash teardown")
	}
	if has, _ := f.graphs.HasGraph("a", "b", "c1"); has {
		t.Error("graph subtree survived crash teardown")
	}
	if has, _ := f.chunks.Has("b", "c1"); has {
		t.Error("chunk index survived crash teardown")
	}
}

func TestCrashSparesSharedRepository(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
		panic("analyzer blew up")
	}}
	f := newFixture(t, runner, fastConfig())

	// Two sessions reference the repository.
	repoID, _, err := f.meta.UpsertRepoIncrement("b", "a/b", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.meta.UpsertRepoIncrement("b", "a/b", "c1"); err != nil {
		t.Fatal(err)
	}
	sessID, err := f.meta.CreateSession("u1", repoID, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.graphs.SaveGraph("a", "b", "c1", okGraph()); err != nil {
		t.Fatal(err)
	}

	req := &jobs.Request{JobID: "u1:5", RepoURL: "https://github.com/a/b", SessionID: sessID, UserID: "u1"}
	sub := f.hub.Subscribe(req.JobID)
	defer sub.Close()
	f.submit(t, req)

	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.sched.Stop(2 * time.Second) }()

	if _, err := sub.Await(context.Background(), 5*time.Second); err != nil {
		t.Fatal(err)
	}

	repo, _ := f.meta.GetRepository(repoID)
	if repo == nil {
		t.Fatal("shared repository was deleted by crash cleanup")
	}
	if repo.NSessions != 2 {
		t.Errorf("NSessions = %d, this path must not decrement", repo.NSessions)
	}
	if has, _ := f.graphs.HasGraph("a", "b", "c1"); !has {
		t.Error("shared graph subtree was deleted")
	}
}

func TestTimeoutEnforcement(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
		<-ctx.Done() // runs until killed
		return nil, ctx.Err()
	}}
	cfg := fastConfig()
	cfg.TimeoutSec = 1
	f := newFixture(t, runner, cfg)

	req := &jobs.Request{JobID: "u1:5", RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1"}
	sub := f.hub.Subscribe(req.JobID)
	defer sub.Close()
	f.submit(t, req)

	start := time.Now()
	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.sched.Stop(2 * time.Second) }()

	outcome, err := sub.Await(context.Background(), 10*time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != jobs.OutcomeFailed {
		t.Fatalf("timed-out job outcome = %q, want failed", outcome.Status)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("job terminated after %v, before the 1s deadline", elapsed)
	}

	waitFor(t, time.Second, func() bool {
		return f.sched.RunningCount() == 0
	}, "running set not emptied after timeout kill")
}

func TestConcurrencyLimit(t *testing.T) {
	var active, peak int64
	release := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt64(&active, -1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return okGraph(), nil
	}}

	cfg := fastConfig()
	cfg.MaxConcurrentJobs = 2
	f := newFixture(t, runner, cfg)

	var subs []*notify.Subscription
	for i := 0; i < 6; i++ {
		req := &jobs.Request{JobID: fmt.Sprintf("u1:%d", i), RepoURL: "https://github.com/a/b", SessionID: int64(i), UserID: "u1"}
		sub := f.hub.Subscribe(req.JobID)
		defer sub.Close()
		subs = append(subs, sub)
		f.submit(t, req)
	}

	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.sched.Stop(2 * time.Second) }()

	waitFor(t, 3*time.Second, func() bool {
		return atomic.LoadInt64(&active) == 2
	}, "pool never reached its limit")
	close(release)

	for i, sub := range subs {
		if _, err := sub.Await(context.Background(), 5*time.Second); err != nil {
			t.Fatalf("job %d outcome not delivered: %v", i, err)
		}
	}

	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Errorf("peak concurrency = %d, exceeds limit 2", p)
	}
}

func TestStopDrainsRunningJobs(t *testing.T) {
	started := make(chan struct{}, 1)
	runner := &fakeRunner{fn: func(ctx context.Context, req *jobs.Request) (*jobs.GraphData, error) {
		started <- struct{}{}
		time.Sleep(100 * time.Millisecond)
		return okGraph(), nil
	}}
	f := newFixture(t, runner, fastConfig())

	req := &jobs.Request{JobID: "u1:5", RepoURL: "https://github.com/a/b", SessionID: 5, UserID: "u1"}
	sub := f.hub.Subscribe(req.JobID)
	defer sub.Close()
	f.submit(t, req)

	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := f.sched.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The draining stop still publishes the in-flight job's outcome.
	outcome, err := sub.Await(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("outcome lost across Stop: %v", err)
	}
	if outcome.Status != jobs.OutcomeCompleted {
		t.Errorf("drained job status = %q, want completed", outcome.Status)
	}
	if f.sched.RunningCount() != 0 {
		t.Errorf("RunningCount = %d after Stop, want 0", f.sched.RunningCount())
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
