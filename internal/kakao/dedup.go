package kakao

import (
	"sync"
	"time"
)

// replayGuard deduplicates webhook deliveries by request id so a redelivered
// propose request never launches a second deferred task. Entries expire
// after ttl; the platform never redelivers that far apart.
type replayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	return &replayGuard{seen: make(map[string]time.Time), ttl: ttl}
}

// FirstDelivery records the key and reports whether this is its first
// appearance within the TTL window.
func (g *replayGuard) FirstDelivery(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, at := range g.seen {
		if now.Sub(at) > g.ttl {
			delete(g.seen, k)
		}
	}

	if _, dup := g.seen[key]; dup {
		return false
	}
	g.seen[key] = now
	return true
}
