package imageloader

import "sync"

// Blacklist is the set of URLs that failed permanently. It lives in
// memory only.
type Blacklist struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{urls: make(map[string]struct{})}
}

// Add records u as failed.
func (b *Blacklist) Add(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls[u] = struct{}{}
}

// Remove forgets u. Removing an unknown URL is a no-op.
func (b *Blacklist) Remove(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.urls, u)
}

// Contains reports whether u is blacklisted.
func (b *Blacklist) Contains(u string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.urls[u]
	return ok
}

// Clear forgets every URL.
func (b *Blacklist) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.urls)
}

// Len returns the number of blacklisted URLs.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.urls)
}
