package service

import (
	"context"
	"sync"
	"time"
)

// Tracker correlates an outgoing transfer with the incoming transfer
// that caused it. Entries are recorded before the outgoing prepare call
// is made, so a fulfillment callback can never arrive for an unknown
// id, and they are forgotten once resolved. Entries whose downstream
// transfer expired unresolved are dropped by the eviction loop; the
// original demo kept them forever.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]trackerEntry
}

type trackerEntry struct {
	incomingID string
	expiresAt  time.Time
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]trackerEntry)}
}

func (t *Tracker) Record(outgoingID, incomingID string, expiresAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[outgoingID] = trackerEntry{incomingID: incomingID, expiresAt: expiresAt}
}

func (t *Tracker) Resolve(outgoingID string) (incomingID string, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[outgoingID]
	return entry.incomingID, ok
}

func (t *Tracker) Forget(outgoingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, outgoingID)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// EvictExpired drops entries whose outgoing transfer expired more than
// grace ago and reports how many were dropped.
func (t *Tracker) EvictExpired(now time.Time, grace time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, entry := range t.entries {
		if now.After(entry.expiresAt.Add(grace)) {
			delete(t.entries, id)
			evicted++
		}
	}
	return evicted
}

func (t *Tracker) StartEvictionLoop(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.EvictExpired(now, grace)
			}
		}
	}()
}
