package syncstore

import (
	"github.com/projeto67/syncstore/internal/docstore"
	"github.com/projeto67/syncstore/internal/payload"
	"github.com/projeto67/syncstore/internal/quota"
)

// Aliases so callers only import the root package.

// Envelope is the wire shape of a stored collection document.
type Envelope = docstore.Envelope

// UsageStats is the read-only quota view returned by Usage.
type UsageStats = quota.UsageStats

// Daily quota constants, re-exported for display surfaces.
const (
	DailyLimit       = quota.DailyLimit
	WarningThreshold = quota.WarningThreshold
)

// Undefined marks a payload member that should be stripped before
// serialisation, mirroring how JSON.stringify drops undefined object members.
var Undefined = payload.Undefined

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool { return payload.IsUndefined(v) }
