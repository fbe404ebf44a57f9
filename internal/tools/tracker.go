package tools

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedSessions bounds the per-tool session map. When full, the session
// with the oldest activity is evicted.
const maxTrackedSessions = 100

// tracker enforces a per-session minimum interval between executions of one
// tool: 60/rateLimit seconds.
type tracker struct {
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

func newTracker(rpm int) *tracker {
	return &tracker{
		interval: time.Minute / time.Duration(rpm),
		sessions: make(map[string]*sessionEntry),
	}
}

// wait blocks until the session may execute again, honouring ctx. Sessions
// without an ID share the "anonymous" bucket.
func (t *tracker) wait(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = "anonymous"
	}

	t.mu.Lock()
	entry, ok := t.sessions[sessionID]
	if !ok {
		if len(t.sessions) >= maxTrackedSessions {
			t.evictOldest()
		}
		entry = &sessionEntry{limiter: rate.NewLimiter(rate.Every(t.interval), 1)}
		t.sessions[sessionID] = entry
	}
	entry.last = time.Now()
	limiter := entry.limiter
	t.mu.Unlock()

	return limiter.Wait(ctx)
}

// evictOldest removes the least recently active session. Caller holds t.mu.
func (t *tracker) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, entry := range t.sessions {
		if oldestKey == "" || entry.last.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.last
		}
	}
	if oldestKey != "" {
		delete(t.sessions, oldestKey)
	}
}

func (t *tracker) sessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
