// Package store implements the in-memory collection contract shared by every
// domain store: synchronous mutation, remote hydration with merge, and
// deduplication by record identity.
package store

import "sync"

// Record is implemented by every domain entity held in a collection.
type Record interface {
	RecordID() string
	RecordUpdatedAt() int64 // epoch ms of the record's last mutation
}

// WriteFunc schedules a remote write of a full collection snapshot. Domain
// stores call it after every user-initiated mutation; hydration never does.
type WriteFunc func(collectionKey string, payload any)

// Collection holds the in-memory items for one collection key. It is safe
// for concurrent use.
type Collection[T Record] struct {
	mu          sync.Mutex
	items       []T
	initialized bool
	loading     bool
	reconcile   Reconciler[T]
}

// NewCollection constructs an empty, loading collection. reconcile may be
// nil, in which case LastWriterWins is used for subsequent hydrations.
func NewCollection[T Record](reconcile Reconciler[T]) *Collection[T] {
	if reconcile == nil {
		reconcile = LastWriterWins[T]
	}
	return &Collection[T]{loading: true, reconcile: reconcile}
}

// Hydrate applies a remote snapshot. exists is false when the remote document
// has never been written, which is a valid terminal state, not a retry
// condition.
//
// First hydration replaces the collection wholesale. Subsequent hydrations
// reconcile per record so a stale snapshot echo cannot clobber an in-flight
// local edit: a remote record only replaces a local one when the reconciler
// picks it (by default, when its updatedAt is strictly greater). Remote
// records with unknown ids are appended.
func (c *Collection[T]) Hydrate(remote []T, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		if exists {
			c.items = DedupeByID(remote)
		}
		c.initialized = true
		c.loading = false
		return
	}
	if !exists {
		return
	}

	remoteByID := make(map[string]T, len(remote))
	for _, r := range remote {
		remoteByID[r.RecordID()] = r
	}

	merged := make([]T, 0, len(c.items)+len(remote))
	seen := make(map[string]bool, len(c.items))
	for _, local := range c.items {
		id := local.RecordID()
		seen[id] = true
		if r, ok := remoteByID[id]; ok {
			merged = append(merged, c.reconcile(local, r))
		} else {
			merged = append(merged, local)
		}
	}
	for _, r := range remote {
		if !seen[r.RecordID()] {
			merged = append(merged, r)
		}
	}
	c.items = DedupeByID(merged)
}

// Items returns a copy of the current collection in display order.
func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Mutate applies fn to the collection and returns the resulting snapshot.
// fn receives a copy; the returned slice (deduplicated) becomes the new
// collection. Callers schedule the remote write from the returned snapshot.
func (c *Collection[T]) Mutate(fn func(items []T) []T) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(append([]T(nil), c.items...))
	c.items = DedupeByID(next)
	return append([]T(nil), c.items...)
}

// Initialized reports whether the first hydration has happened.
func (c *Collection[T]) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Loading reports whether the collection is still waiting for its first
// hydration.
func (c *Collection[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}
