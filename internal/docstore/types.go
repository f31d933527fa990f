// Package docstore is the transport to the remote document service. One
// document exists per (userId, collectionKey) pair at
// users/{userId}/data/{collectionKey}; writes always overwrite the whole
// envelope.
package docstore

import "encoding/json"

// Envelope is the unit of remote persistence.
type Envelope struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updatedAt"` // epoch ms, server-write time
}

// WatchEvent is one snapshot emitted by a document watch stream. Exists is
// false when the document has never been written (or was reset), in which
// case Envelope is zero.
type WatchEvent struct {
	Exists   bool     `json:"exists"`
	Envelope Envelope `json:"envelope"`
}
