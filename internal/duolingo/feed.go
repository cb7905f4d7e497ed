package duolingo

import "sync"

// Feed holds the most recently pushed page.
type Feed struct {
	mu   sync.RWMutex
	page Page
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{}
}

// Update replaces the current page.
func (f *Feed) Update(p Page) {
	f.mu.Lock()
	f.page = p
	f.mu.Unlock()
}

// Current returns the latest page, or nil.
func (f *Feed) Current() Page {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.page
}
