// Package runstate tracks the lifecycle of crawl runs per crawler name.
// It is the dedup gate for the trigger path: at most one run per crawler
// may be in flight at a time.
package runstate

import (
	"sync"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// Tracker keeps in-memory run state keyed by crawler name.
type Tracker struct {
	mu    sync.Mutex
	runs  map[string]crawler.RunState
	clock crawler.Clock
}

func NewTracker(clock crawler.Clock) *Tracker {
	return &Tracker{
		runs:  make(map[string]crawler.RunState),
		clock: clock,
	}
}

// TryStart transitions the crawler to running and reports whether it won
// the slot. A false return means a run is already in flight; the caller
// must not dispatch another.
func (t *Tracker) TryStart(name, runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.runs[name]; ok && cur.Status == crawler.RunStatusRunning {
		return false
	}
	now := t.clock.Now()
	t.runs[name] = crawler.RunState{
		RunID:   runID,
		Crawler: name,
		Status:  crawler.RunStatusRunning,
		Started: &now,
	}
	return true
}

// Finish records the terminal status and counters for the crawler's
// current run. Calls for a crawler with no running state are ignored.
func (t *Tracker) Finish(name string, status crawler.RunStatus, counters crawler.RunCounters) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.runs[name]
	if !ok || cur.Status != crawler.RunStatusRunning {
		return
	}
	now := t.clock.Now()
	cur.Status = status
	cur.Counters = counters
	cur.Finished = &now
	t.runs[name] = cur
}

// State returns the most recent run state for the crawler, if any.
func (t *Tracker) State(name string) (crawler.RunState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.runs[name]
	return st, ok
}

// Release drops a running slot without recording a terminal state. Used
// when dispatch fails after the slot was claimed.
func (t *Tracker) Release(name, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.runs[name]
	if !ok || cur.Status != crawler.RunStatusRunning || cur.RunID != runID {
		return
	}
	delete(t.runs, name)
}

var _ crawler.RunTracker = (*Tracker)(nil)
