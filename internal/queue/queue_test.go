package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/errors"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
	"github.com/Nikhilk147/RepoScan/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: io.Discard})
}

func openQueue(t *testing.T, maxSize int) (*Queue, string) {
	t.Helper()
	dir := t.TempDir()
	q, err := Open(dir, maxSize, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, dir
}

func req(jobID string) *jobs.Request {
	return &jobs.Request{
		JobID:     jobID,
		RepoURL:   "https://github.com/a/b",
		SessionID: 5,
		UserID:    "u1",
		CommitID:  "c1",
	}
}

func TestEnqueueClaimRelease(t *testing.T) {
	q, _ := openQueue(t, 100)

	if err := q.Enqueue(req("u1:5")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := q.ClaimNext(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if got == nil || got.JobID != "u1:5" {
		t.Fatalf("ClaimNext = %+v, want job u1:5", got)
	}
	if got.RepoURL != "https://github.com/a/b" || got.SessionID != 5 {
		t.Errorf("request not round-tripped: %+v", got)
	}

	stats, err := q.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 0 || stats.Processing != 1 || stats.Keys != 1 {
		t.Errorf("after claim stats = %+v, want 0 pending, 1 processing, 1 key", stats)
	}

	if err := q.Release("u1:5"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	stats, _ = q.GetStats()
	if stats.Pending != 0 || stats.Processing != 0 || stats.Keys != 0 {
		t.Errorf("after release stats = %+v, want all empty", stats)
	}

	// Released means re-submittable.
	if err := q.Enqueue(req("u1:5")); err != nil {
		t.Errorf("Enqueue after release failed: %v", err)
	}
}

func TestDuplicateSubmission(t *testing.T) {
	q, _ := openQueue(t, 100)

	if err := q.Enqueue(req("u1:5")); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}

	err := q.Enqueue(req("u1:5"))
	if !stderrors.Is(err, errors.ErrDuplicateJob) {
		t.Fatalf("duplicate Enqueue = %v, want ErrDuplicateJob", err)
	}

	// Still a duplicate while processing.
	if _, err := q.ClaimNext(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(req("u1:5")); !stderrors.Is(err, errors.ErrDuplicateJob) {
		t.Fatalf("Enqueue while processing = %v, want ErrDuplicateJob", err)
	}

	stats, _ := q.GetStats()
	if stats.Pending+stats.Processing != 1 {
		t.Errorf("duplicate submission leaked an entry: %+v", stats)
	}
}

func TestCapacity(t *testing.T) {
	const maxSize = 3
	q, _ := openQueue(t, maxSize)

	for i := 0; i < maxSize; i++ {
		if err := q.Enqueue(req(fmt.Sprintf("u1:%d", i))); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}

	err := q.Enqueue(req("u1:99"))
	if !stderrors.Is(err, errors.ErrQueueFull) {
		t.Fatalf("over-capacity Enqueue = %v, want ErrQueueFull", err)
	}

	depth, err := q.Depth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != maxSize {
		t.Errorf("Depth = %d after rejected enqueue, want %d", depth, maxSize)
	}
}

func TestClaimNextFIFO(t *testing.T) {
	q, _ := openQueue(t, 100)

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(req(fmt.Sprintf("u1:%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		got, err := q.ClaimNext(context.Background(), time.Second)
		if err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf("u1:%d", i)
		if got == nil || got.JobID != want {
			t.Fatalf("claim %d = %+v, want %s", i, got, want)
		}
	}
}

func TestClaimNextTimeout(t *testing.T) {
	q, _ := openQueue(t, 100)

	start := time.Now()
	got, err := q.ClaimNext(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ClaimNext on empty queue errored: %v", err)
	}
	if got != nil {
		t.Fatalf("ClaimNext on empty queue = %+v, want nil", got)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("ClaimNext returned after %v, expected to wait ~50ms", elapsed)
	}
}

func TestClaimNextWakesOnEnqueue(t *testing.T) {
	q, _ := openQueue(t, 100)

	done := make(chan *jobs.Request, 1)
	go func() {
		got, _ := q.ClaimNext(context.Background(), 5*time.Second)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue(req("u1:5")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-done:
		if got == nil || got.JobID != "u1:5" {
			t.Fatalf("woken claim = %+v, want u1:5", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimNext did not wake on enqueue")
	}
}

func TestClaimNextContextCancel(t *testing.T) {
	q, _ := openQueue(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.ClaimNext(ctx, 5*time.Second)
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("ClaimNext after cancel = %v, want context.Canceled", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	q, _ := openQueue(t, 100)

	if err := q.Release("never-enqueued"); err != nil {
		t.Errorf("Release of unknown job errored: %v", err)
	}

	if err := q.Enqueue(req("u1:5")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.ClaimNext(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := q.Release("u1:5"); err != nil {
		t.Fatal(err)
	}
	if err := q.Release("u1:5"); err != nil {
		t.Errorf("second Release errored: %v", err)
	}
}

func TestRecoverOrphans(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 100, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// One job claimed but never released, one still pending.
	if err := q.Enqueue(req("u1:1")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(req("u1:2")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.ClaimNext(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	_ = q.Close()

	// Simulate a restart.
	q2, err := Open(dir, 100, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q2.Close() }()

	n, err := q2.RecoverOrphans()
	if err != nil {
		t.Fatalf("RecoverOrphans failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d orphans, want 1", n)
	}

	stats, _ := q2.GetStats()
	if stats.Pending != 2 || stats.Processing != 0 {
		t.Errorf("after recovery stats = %+v, want 2 pending, 0 processing", stats)
	}

	// Requeued orphan goes back to the head.
	got, err := q2.ClaimNext(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.JobID != "u1:1" {
		t.Errorf("first claim after recovery = %+v, want the orphan u1:1", got)
	}
}

func TestRecoverOrphansEmpty(t *testing.T) {
	q, _ := openQueue(t, 100)

	n, err := q.RecoverOrphans()
	if err != nil {
		t.Fatalf("RecoverOrphans on clean queue failed: %v", err)
	}
	if n != 0 {
		t.Errorf("recovered %d from clean queue, want 0", n)
	}
}

func TestDurability(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 100, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(req("u1:5")); err != nil {
		t.Fatal(err)
	}
	_ = q.Close()

	q2, err := Open(dir, 100, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q2.Close() }()

	got, err := q2.ClaimNext(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.JobID != "u1:5" {
		t.Errorf("claim after reopen = %+v, want u1:5", got)
	}
}
