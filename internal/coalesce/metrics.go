package coalesce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncstore",
			Subsystem: "coalesce",
			Name:      "writes_scheduled_total",
			Help:      "Debounce cycles started (new pending writes).",
		},
	)

	writesCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncstore",
			Subsystem: "coalesce",
			Name:      "writes_coalesced_total",
			Help:      "Mutations absorbed into an already-pending write.",
		},
	)

	writesBlockedQuotaTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncstore",
			Subsystem: "coalesce",
			Name:      "writes_blocked_quota_total",
			Help:      "Writes dropped at fire time because the daily quota was exhausted.",
		},
	)

	rateLimitReschedulesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncstore",
			Subsystem: "coalesce",
			Name:      "ratelimit_reschedules_total",
			Help:      "Fire attempts deferred by the rolling per-minute write cap.",
		},
	)

	flushedWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "syncstore",
			Subsystem: "coalesce",
			Name:      "flushed_writes_total",
			Help:      "Pending writes forced out by a lifecycle flush.",
		},
	)

	pendingWritesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "syncstore",
			Subsystem: "coalesce",
			Name:      "pending_writes",
			Help:      "Collection keys with a scheduled write.",
		},
	)
)
