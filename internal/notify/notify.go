// Package notify implements the in-process notification channel: pub/sub
// keyed by job id, used to deliver terminal job outcomes to waiting callers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/errors"
	"github.com/Nikhilk147/RepoScan/internal/jobs"
)

// Hub routes published outcomes to current subscribers of a job id.
// Publishing with no subscribers is fire-and-forget; there is no replay for
// late subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

// Subscription receives outcomes for one job id. It must be released with
// Close on every exit path.
type Subscription struct {
	hub   *Hub
	jobID string
	ch    chan jobs.Outcome
	once  sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]*Subscription)}
}

// Subscribe registers interest in outcomes for jobID. Messages published
// after this call and before Close are observed in publish order.
func (h *Hub) Subscribe(jobID string) *Subscription {
	// Capacity 1: at most one terminal outcome is ever published per job.
	sub := &Subscription{
		hub:   h,
		jobID: jobID,
		ch:    make(chan jobs.Outcome, 1),
	}

	h.mu.Lock()
	h.subs[jobID] = append(h.subs[jobID], sub)
	h.mu.Unlock()

	return sub
}

// Publish delivers outcome to all current subscribers of jobID. Delivery to
// zero subscribers is not an error.
func (h *Hub) Publish(jobID string, outcome jobs.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[jobID] {
		select {
		case sub.ch <- outcome:
		default:
			// Subscriber already holds its terminal outcome.
		}
	}
}

// Subscribers returns the number of current subscribers for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.subs[sub.jobID]
	for i, s := range current {
		if s == sub {
			h.subs[sub.jobID] = append(current[:i], current[i+1:]...)
			break
		}
	}
	if len(h.subs[sub.jobID]) == 0 {
		delete(h.subs, sub.jobID)
	}
}

// Await blocks until an outcome arrives, maxWait elapses, or ctx is done.
// A lapsed maxWait returns errors.ErrWaitTimeout, which callers surface as
// a timeout condition distinct from job failure.
func (s *Subscription) Await(ctx context.Context, maxWait time.Duration) (*jobs.Outcome, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case outcome := <-s.ch:
		return &outcome, nil
	case <-timer.C:
		return nil, errors.ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}
