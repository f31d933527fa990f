package syncstore

import (
	"errors"

	"github.com/projeto67/syncstore/internal/docstore"
)

// ErrNoIdentity is returned by FetchSnapshot when neither a live identity nor
// a cached last-known one is available.
var ErrNoIdentity = errors.New("no user identity available")

// Re-export the gateway's not-found error so callers compare against a single
// symbol. CachedSnapshot returns it when no local copy exists.
var ErrNotFound = docstore.ErrNotFound

// IsRecoverable reports whether a sync error is transient (network failure,
// 5xx, 408, 429) and worth retrying. Unclassified errors count as recoverable.
func IsRecoverable(err error) bool { return docstore.IsRecoverable(err) }
