package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	queueOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomqueue",
			Name:      "queue_operations_total",
			Help:      "Queue store operations by kind.",
		},
		[]string{"op"},
	)

	syncResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomqueue",
			Name:      "sync_results_total",
			Help:      "Sync cycle outcomes per entry.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "roomqueue",
			Name:      "queue_depth",
			Help:      "Current queue entries per status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(queueOps, syncResults, queueDepth)
	})
}

// IncOp increments the operation counter for a label.
func IncOp(op string) {
	queueOps.WithLabelValues(op).Inc()
}

// IncSyncResult increments the sync outcome counter.
func IncSyncResult(outcome string) {
	syncResults.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes the entry count for one status.
func SetQueueDepth(status string, count int) {
	queueDepth.WithLabelValues(status).Set(float64(count))
}
