package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordResolveForget(t *testing.T) {
	tracker := NewTracker()
	expiry := time.Now().Add(time.Minute)

	tracker.Record("out-1", "in-1", expiry)
	tracker.Record("out-2", "in-2", expiry)
	assert.Equal(t, 2, tracker.Len())

	incomingID, found := tracker.Resolve("out-1")
	assert.True(t, found)
	assert.Equal(t, "in-1", incomingID)

	_, found = tracker.Resolve("out-3")
	assert.False(t, found)

	tracker.Forget("out-1")
	_, found = tracker.Resolve("out-1")
	assert.False(t, found)
	assert.Equal(t, 1, tracker.Len())

	tracker.Forget("out-1") // already gone
	assert.Equal(t, 1, tracker.Len())
}

func TestTrackerEviction(t *testing.T) {
	tracker := NewTracker()
	now := time.Now()

	tracker.Record("stale", "in-stale", now.Add(-2*time.Minute))
	tracker.Record("recent", "in-recent", now.Add(-time.Second))
	tracker.Record("live", "in-live", now.Add(time.Minute))

	evicted := tracker.EvictExpired(now, time.Minute)
	assert.Equal(t, 1, evicted, "only entries past expiry plus grace go")
	assert.Equal(t, 2, tracker.Len())

	_, found := tracker.Resolve("stale")
	assert.False(t, found)
	_, found = tracker.Resolve("recent")
	assert.True(t, found)
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tracker := NewTracker()
	expiry := time.Now().Add(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("out-%d", i)
			tracker.Record(id, fmt.Sprintf("in-%d", i), expiry)
			incomingID, found := tracker.Resolve(id)
			assert.True(t, found)
			assert.Equal(t, fmt.Sprintf("in-%d", i), incomingID)
			tracker.Forget(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, tracker.Len())
}
