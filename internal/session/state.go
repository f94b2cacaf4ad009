// Package session tracks the per-session index state: counters and flags
// that UI collaborators observe while indexing and searching run. The state
// resets with every new Tracker (session start) and is never persisted.
package session

import "sync"

// Snapshot is a point-in-time copy of the session state. Error is the most
// recent surfaced failure message, empty when none.
type Snapshot struct {
	TotalDocuments   int    `json:"totalDocuments"`
	IsIndexing       bool   `json:"isIndexing"`
	IndexingProgress int    `json:"indexingProgress"`
	IsSearching      bool   `json:"isSearching"`
	Error            string `json:"error,omitempty"`
}

// Tracker holds the mutable session state. Only the indexing pipeline and
// the search engine mutate it; everyone else reads snapshots or subscribes.
type Tracker struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// NewTracker returns a Tracker with all fields at their defaults.
func NewTracker() *Tracker {
	return &Tracker{subs: make(map[int]chan Snapshot)}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Subscribe returns a channel receiving a snapshot after every mutation,
// plus a cancel function. The channel is buffered; a slow subscriber misses
// intermediate snapshots rather than blocking writers.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Snapshot, 16)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// notify pushes the current snapshot to all subscribers. Caller holds mu.
func (t *Tracker) notify() {
	for _, ch := range t.subs {
		select {
		case ch <- t.snap:
		default:
		}
	}
}

// SetIndexing flags an indexing batch as running or finished. Starting a
// batch resets progress to 0 and clears a previous error.
func (t *Tracker) SetIndexing(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.IsIndexing = on
	if on {
		t.snap.IndexingProgress = 0
		t.snap.Error = ""
	}
	t.notify()
}

// SetProgress records indexing progress in percent (clamped to 0–100).
func (t *Tracker) SetProgress(pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.snap.IndexingProgress = pct
	t.notify()
}

// SetSearching flags a search as running or finished.
func (t *Tracker) SetSearching(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.IsSearching = on
	t.notify()
}

// SetTotalDocuments records the current index size.
func (t *Tracker) SetTotalDocuments(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.TotalDocuments = n
	t.notify()
}

// SetError records a surfaced failure for UI display. A nil err clears it.
func (t *Tracker) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.snap.Error = ""
	} else {
		t.snap.Error = err.Error()
	}
	t.notify()
}
