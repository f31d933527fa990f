package syncstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncstore",
		Name:      "remote_writes_total",
		Help:      "Document writes acknowledged by the remote gateway.",
	})

	remoteWriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncstore",
		Name:      "remote_write_failures_total",
		Help:      "Document writes that failed, by error category.",
	}, []string{"category"})

	writesNoIdentityTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncstore",
		Name:      "writes_dropped_no_identity_total",
		Help:      "Writes dropped because no user identity could be resolved.",
	})

	remoteReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncstore",
		Name:      "remote_reads_total",
		Help:      "Watch events received from the remote gateway.",
	})

	dirtyReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncstore",
		Name:      "dirty_entries_replayed_total",
		Help:      "Offline-queued cache entries successfully replayed upstream.",
	})
)
