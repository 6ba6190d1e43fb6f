// Package metrics provides Prometheus metrics for the document Q&A service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"docqa/internal/rag"
)

// Metrics holds all Prometheus metrics of the service and implements
// rag.Observer.
type Metrics struct {
	// Ingestion metrics
	DocumentsIngested *prometheus.CounterVec
	ChunksIndexed     prometheus.Counter
	IngestDuration    prometheus.Histogram

	// Q&A metrics
	QuestionsAsked    *prometheus.CounterVec
	AskDuration       prometheus.Histogram
	PassagesRetrieved prometheus.Histogram
	GenerationErrors  prometheus.Counter

	// Transport metrics
	RateLimitHits *prometheus.CounterVec
	IngestJobs    *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_documents_ingested_total",
			Help: "Total number of ingest runs by resulting index status",
		}, []string{"status"}),
		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docqa_chunks_indexed_total",
			Help: "Total number of chunks written to the vector index",
		}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_ingest_duration_seconds",
			Help:    "Duration of document ingestion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),

		QuestionsAsked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_questions_total",
			Help: "Total number of questions by outcome",
		}, []string{"outcome"}),
		AskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_ask_duration_seconds",
			Help:    "Duration of question answering in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		PassagesRetrieved: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_passages_retrieved",
			Help:    "Number of passages retrieved per question",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		GenerationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "docqa_generation_errors_total",
			Help: "Total number of failed answer generations",
		}),

		RateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_rate_limit_hits_total",
			Help: "Total number of requests rejected by a rate limiter",
		}, []string{"limiter"}),
		IngestJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_ingest_jobs_total",
			Help: "Total number of queued ingest jobs by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveIngest(status rag.IndexStatus, chunks int, elapsed time.Duration) {
	m.DocumentsIngested.WithLabelValues(string(status)).Inc()
	m.ChunksIndexed.Add(float64(chunks))
	m.IngestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAsk(outcome string, matches int, elapsed time.Duration) {
	m.QuestionsAsked.WithLabelValues(outcome).Inc()
	if outcome == rag.OutcomeInvalid {
		return
	}
	m.AskDuration.Observe(elapsed.Seconds())
	m.PassagesRetrieved.Observe(float64(matches))
	if outcome == rag.OutcomeGenerationFailed {
		m.GenerationErrors.Inc()
	}
}

func (m *Metrics) ObserveIngestJob(result string) {
	m.IngestJobs.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRateLimited(limiter string) {
	m.RateLimitHits.WithLabelValues(limiter).Inc()
}
