package venue

import (
	"sync"
	"time"
)

// TimeSync tracks the clock offset against a venue's server so signed request
// timestamps stay inside the venue's acceptance window.
type TimeSync struct {
	getServerTime func() (int64, error)
	offset        int64 // milliseconds, server - local
	lastSync      time.Time
	mu            sync.RWMutex
}

// NewTimeSync creates a time synchronization helper around a server-time
// lookup. Sync is invoked lazily by callers; until the first successful sync
// Now falls back to the local clock.
func NewTimeSync(getServerTime func() (int64, error)) *TimeSync {
	return &TimeSync{getServerTime: getServerTime}
}

// Sync measures the server offset, assuming symmetric network latency.
func (ts *TimeSync) Sync() error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime()
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	latency := (localAfter - localBefore) / 2
	local := localBefore + latency

	ts.mu.Lock()
	ts.offset = serverTime - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// Now returns the current time in milliseconds adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the last measured offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
