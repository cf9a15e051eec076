package collab

import (
	"context"
	"sync"
)

// Shadow is the server-side copy of the text a document's peers were last
// told about. Incoming patch bundles apply against it. All access happens
// between Acquire and Release; the embedded mutex is the per-document lock
// that serializes every mutation of shadow, content and broadcast order.
type Shadow struct {
	mu      sync.Mutex
	docID   string
	text    string
	version int
	loaded  bool

	// Guarded by ShadowStore.mu, not by mu: holders plus waiters on mu,
	// and whether the entry should be evicted once the count drains.
	holds int
	evict bool
}

// Text returns the shadow text. Caller holds the lock.
func (s *Shadow) Text() string { return s.text }

// Version returns the shadow commit counter. Caller holds the lock.
func (s *Shadow) Version() int { return s.version }

// SetText replaces the shadow text and bumps the commit counter. Caller
// holds the lock.
func (s *Shadow) SetText(text string) {
	s.text = text
	s.version++
}

// ShadowStore maps document ids to their in-memory shadows. Shadows are
// created lazily on first engine touch and may be evicted when a room
// empties; rehydration re-reads the persisted content.
type ShadowStore struct {
	mu      sync.Mutex
	entries map[string]*Shadow
}

// NewShadowStore creates an empty shadow store
func NewShadowStore() *ShadowStore {
	return &ShadowStore{entries: make(map[string]*Shadow)}
}

// Acquire locks the document's shadow, hydrating it on first touch. The
// caller must call Release when its critical section ends.
func (ss *ShadowStore) Acquire(ctx context.Context, docID string, hydrate func(context.Context) (string, error)) (*Shadow, error) {
	ss.mu.Lock()
	entry, ok := ss.entries[docID]
	if !ok {
		entry = &Shadow{docID: docID}
		ss.entries[docID] = entry
	}
	entry.holds++
	ss.mu.Unlock()

	entry.mu.Lock()
	if !entry.loaded {
		text, err := hydrate(ctx)
		if err != nil {
			ss.Release(entry)
			return nil, err
		}
		entry.text = text
		entry.loaded = true
	}
	return entry, nil
}

// Release unlocks a shadow acquired with Acquire. The last release of an
// entry marked for eviction removes it from the store.
func (ss *ShadowStore) Release(s *Shadow) {
	s.mu.Unlock()

	ss.mu.Lock()
	defer ss.mu.Unlock()
	s.holds--
	if s.holds == 0 && s.evict && ss.entries[s.docID] == s {
		delete(ss.entries, s.docID)
	}
}

// Drop evicts a document's shadow. An entry someone currently holds (or
// waits on) is only marked; the final Release removes it, so the critical
// section a holder is running stays the only one for that document.
func (ss *ShadowStore) Drop(docID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	entry, ok := ss.entries[docID]
	if !ok {
		return
	}
	if entry.holds > 0 {
		entry.evict = true
		return
	}
	delete(ss.entries, docID)
}

// Len reports how many shadows are resident
func (ss *ShadowStore) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.entries)
}
