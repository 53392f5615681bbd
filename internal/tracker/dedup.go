package tracker

import "sync"

// Deduplicator remembers which match signatures a session has already
// processed. It grows without bound; a session's lifetime is bounded by the
// game's, and restarts swap in a fresh instance.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// IsNew records the signature and reports whether this is its first
// occurrence.
func (d *Deduplicator) IsNew(signature string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[signature]; ok {
		return false
	}
	d.seen[signature] = struct{}{}
	return true
}

// Forget removes a signature so its next occurrence reads as new again. The
// poller uses it to undo a recording when downstream handling of the match
// failed and the tick must be retried.
func (d *Deduplicator) Forget(signature string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, signature)
}
