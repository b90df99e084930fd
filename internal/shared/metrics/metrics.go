package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeValidationError = "validation_error"
	OutcomeStorageError    = "storage_error"
	OutcomeMetadataError   = "metadata_error"
)

// Queue results.
const (
	QueueProcessed = "processed"
	QueueDropped   = "dropped"
	QueueRetried   = "retried"
)

var (
	registry = prometheus.NewRegistry()

	ingestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_total",
		Help: "Inbound items processed by outcome",
	}, []string{"outcome"})

	ingestOrphanedObjects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_orphaned_objects_total",
		Help: "Objects written whose metadata record could not be persisted",
	})

	retrievalListDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "retrieval_list_duration_seconds",
		Help:    "Duration of file listing requests",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	retrievalSignedURLFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_signed_url_failures_total",
		Help: "Per-item signed URL failures during listing",
	})

	queueMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_total",
		Help: "Queue messages handled by result",
	}, []string{"result"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ingestTotal,
		ingestOrphanedObjects,
		retrievalListDuration,
		retrievalSignedURLFailures,
		queueMessages,
	)
}

// IncIngest counts one ingestion by outcome.
func IncIngest(outcome string) {
	ingestTotal.WithLabelValues(outcome).Inc()
}

// IncOrphanedObject counts an object left without a metadata record.
func IncOrphanedObject() {
	ingestOrphanedObjects.Inc()
}

// ObserveListDuration records how long a listing took.
func ObserveListDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	retrievalListDuration.Observe(d.Seconds())
}

// IncSignedURLFailure counts a listing item that came back without a link.
func IncSignedURLFailure() {
	retrievalSignedURLFailures.Inc()
}

// IncQueueMessage counts a queue message by result.
func IncQueueMessage(result string) {
	queueMessages.WithLabelValues(result).Inc()
}

// Registry exposes the registry for tests and custom exporters.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
