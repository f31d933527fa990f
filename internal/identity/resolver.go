// Package identity resolves the user scope remote operations run under.
package identity

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	cacheNamespace = "__identity"
	cacheKey       = "last_known_user"
)

// Store persists the last-known identifier across restarts.
// *localcache.Cache is adapted to it by the sync manager.
type Store interface {
	Put(namespace, key, rawValue string, updatedAt int64) error
	Get(namespace, key string) (rawValue string, err error)
}

// Resolver prefers the live authenticated session identifier and falls back
// to the cached last-known identifier. The fallback covers the window on
// startup where writes and subscriptions are attempted before auth state
// resolves.
type Resolver struct {
	mu      sync.Mutex
	current func() string // live session id, "" when unresolved
	store   Store
	now     func() int64 // epoch ms, for the cache entry
}

// New constructs a Resolver. current must never be nil; store may be nil
// (no fallback across restarts).
func New(current func() string, store Store, nowMillis func() int64) *Resolver {
	return &Resolver{current: current, store: store, now: nowMillis}
}

// Resolve returns the user identifier to operate under, or "" when no
// identity is available yet. A live identifier is cached as last-known.
func (r *Resolver) Resolve() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id := r.current(); id != "" {
		if r.store != nil {
			if err := r.store.Put(cacheNamespace, cacheKey, id, r.now()); err != nil {
				log.Warn().Err(err).Msg("identity: caching last-known id failed")
			}
		}
		return id
	}
	if r.store == nil {
		return ""
	}
	cached, err := r.store.Get(cacheNamespace, cacheKey)
	if err != nil {
		return ""
	}
	return cached
}
