package syncstore

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Per-store debounce intervals. Every mutation schedules the sync with one of
// these (or a caller-supplied override); bursts inside the window coalesce
// into a single remote write.
const (
	// DebounceDefault suits ordinary CRUD stores.
	DebounceDefault = 1500 * time.Millisecond
	// DebounceRealtime suits stores that mutate continuously, like a
	// running focus timer.
	DebounceRealtime = 200 * time.Millisecond
	// DebounceLowPriority suits rarely-read stores like saved links.
	DebounceLowPriority = 8 * time.Second
	// DebounceBulk suits bulk, rarely-changing stores like journal prompts.
	DebounceBulk = 15 * time.Second
)

// Config groups all tunables. Values are taken from environment variables
// with the prefix "SYNC_". Example: SYNC_DEBOUNCE=2s SYNC_CACHE_PATH=/tmp/s.db .
type Config struct {
	CachePath          string        `envconfig:"CACHE_PATH"            default:"syncstore.db"`
	Debounce           time.Duration `envconfig:"DEBOUNCE"              default:"1500ms"`
	MaxWritesPerMinute int           `envconfig:"MAX_WRITES_PER_MINUTE" default:"60"`
	RateWindow         time.Duration `envconfig:"RATE_WINDOW"           default:"1m"`
	RescheduleDelay    time.Duration `envconfig:"RESCHEDULE_DELAY"      default:"5s"`
	HTTPTimeout        time.Duration `envconfig:"HTTP_TIMEOUT"          default:"30s"`
}

// LoadConfig populates Config from environment variables (prefix SYNC_).
func LoadConfig() (Config, error) {
	var c Config
	return c, envconfig.Process("SYNC", &c)
}
