// Package payload normalises store snapshots before they reach the remote
// document service.
package payload

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

type undefined struct{}

// Undefined marks a field that must be absent from the persisted document.
// The remote store rejects documents carrying such fields, so Clean strips
// them entirely rather than serialising them as null.
var Undefined = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Clean strips Undefined fields and round-trips the result through JSON.
//
// The round trip is the payload-shape contract, not a generic deep clone:
// time.Time values become RFC 3339 strings, integers come back as float64,
// and anything JSON cannot represent is rejected. On serialisation failure
// the original value is returned unmodified so a write is still attempted.
func Clean(v any) any {
	stripped := strip(v)
	b, err := json.Marshal(stripped)
	if err != nil {
		log.Warn().Err(err).Msg("payload: clean failed, persisting original value")
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		log.Warn().Err(err).Msg("payload: clean round-trip failed, persisting original value")
		return v
	}
	return out
}

// strip removes Undefined object members. Inside arrays an Undefined element
// degrades to null instead, preserving element positions.
func strip(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsUndefined(val) {
				continue
			}
			out[k] = strip(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			if IsUndefined(val) {
				out[i] = nil
				continue
			}
			out[i] = strip(val)
		}
		return out
	default:
		return v
	}
}
