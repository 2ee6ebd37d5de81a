package watch

import (
	"sync"
	"time"
)

// window is a TTL-keyed suppression map. Allow reports whether a key is new
// (or expired) and marks it seen; duplicates inside the TTL are rejected
// without refreshing, so the window is measured from the first emission.
// Stale entries are pruned on every call to bound memory.
type window struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func newWindow(ttl time.Duration) *window {
	return &window{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (w *window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for k, t := range w.seen {
		if now.Sub(t) >= w.ttl {
			delete(w.seen, k)
		}
	}
	if _, ok := w.seen[key]; ok {
		return false
	}
	w.seen[key] = now
	return true
}
