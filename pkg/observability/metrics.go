package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records Prometheus metrics on a private registry.
// A nil Metrics is valid and records nothing, so callers never need to
// branch on whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec

	ratelimitDecisions *prometheus.CounterVec
	cacheEvents        *prometheus.CounterVec

	llmCalls    *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec
	llmErrors   *prometheus.CounterVec

	knowledgeSearches      *prometheus.CounterVec
	knowledgeSearchSeconds *prometheus.HistogramVec
	knowledgeDocuments     *prometheus.CounterVec

	roomMessages *prometheus.CounterVec
	crawlPages   *prometheus.CounterVec
}

// NewMetrics creates the metric set from configuration.
// Returns nil when metrics are disabled.
func NewMetrics(cfg *MetricsConfig) *Metrics {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	counterOpts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels(cfg.ConstLabels),
		}
	}
	histogramOpts := func(name, help string, buckets []float64) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			Buckets:     buckets,
			ConstLabels: prometheus.Labels(cfg.ConstLabels),
		}
	}

	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 8)

	return &Metrics{
		registry: registry,

		httpRequests: factory.NewCounterVec(
			counterOpts("http_requests_total", "Total HTTP requests by method, route and status."),
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			histogramOpts("http_request_duration_seconds", "HTTP request duration in seconds.", prometheus.DefBuckets),
			[]string{"method", "path"},
		),
		httpRequestSize: factory.NewHistogramVec(
			histogramOpts("http_request_size_bytes", "HTTP request body size in bytes.", sizeBuckets),
			[]string{"method", "path"},
		),
		httpResponseSize: factory.NewHistogramVec(
			histogramOpts("http_response_size_bytes", "HTTP response body size in bytes.", sizeBuckets),
			[]string{"method", "path"},
		),

		ratelimitDecisions: factory.NewCounterVec(
			counterOpts("ratelimit_decisions_total", "Rate limit decisions by bucket and outcome."),
			[]string{"bucket", "outcome"},
		),
		cacheEvents: factory.NewCounterVec(
			counterOpts("cache_events_total", "Cache events by cache name and event type."),
			[]string{"cache", "event"},
		),

		llmCalls: factory.NewCounterVec(
			counterOpts("llm_requests_total", "Total LLM API calls."),
			[]string{"model", "provider"},
		),
		llmDuration: factory.NewHistogramVec(
			histogramOpts("llm_request_duration_seconds", "LLM request duration in seconds.",
				[]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}),
			[]string{"model", "provider"},
		),
		llmTokens: factory.NewCounterVec(
			counterOpts("llm_tokens_total", "Tokens exchanged with LLM providers by direction."),
			[]string{"model", "provider", "direction"},
		),
		llmErrors: factory.NewCounterVec(
			counterOpts("llm_errors_total", "Total LLM API errors."),
			[]string{"model", "provider", "error_type"},
		),

		knowledgeSearches: factory.NewCounterVec(
			counterOpts("knowledge_searches_total", "Total knowledge index searches."),
			[]string{"index"},
		),
		knowledgeSearchSeconds: factory.NewHistogramVec(
			histogramOpts("knowledge_search_duration_seconds", "Knowledge search duration in seconds.", prometheus.DefBuckets),
			[]string{"index"},
		),
		knowledgeDocuments: factory.NewCounterVec(
			counterOpts("knowledge_documents_total", "Documents processed during indexing by result."),
			[]string{"index", "result"},
		),

		roomMessages: factory.NewCounterVec(
			counterOpts("room_messages_total", "Messages appended to rooms by role."),
			[]string{"role"},
		),
		crawlPages: factory.NewCounterVec(
			counterOpts("crawl_pages_total", "Pages fetched by the crawler by HTTP status."),
			[]string{"status"},
		),
	}
}

// Handler returns the Prometheus scrape handler for this metric set.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordRateLimitDecision records one rate limit decision.
// Outcome is one of "allowed", "denied", "error".
func (m *Metrics) RecordRateLimitDecision(bucket, outcome string) {
	if m == nil {
		return
	}
	m.ratelimitDecisions.WithLabelValues(bucket, outcome).Inc()
}

// RecordCacheEvent records a cache event ("hit", "miss", "store", "bypass").
func (m *Metrics) RecordCacheEvent(cache, event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(cache, event).Inc()
}

// RecordLLMCall records one completed LLM API call.
func (m *Metrics) RecordLLMCall(model, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model, provider).Inc()
	m.llmDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
}

// RecordLLMTokens records token usage for one LLM call.
func (m *Metrics) RecordLLMTokens(model, provider string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(model, provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, provider, "output").Add(float64(outputTokens))
	}
}

// RecordLLMError records one failed LLM API call.
func (m *Metrics) RecordLLMError(model, provider, errorType string) {
	if m == nil {
		return
	}
	m.llmErrors.WithLabelValues(model, provider, errorType).Inc()
}

// RecordKnowledgeSearch records one knowledge index search.
func (m *Metrics) RecordKnowledgeSearch(index string, duration time.Duration, resultCount int) {
	if m == nil {
		return
	}
	m.knowledgeSearches.WithLabelValues(index).Inc()
	m.knowledgeSearchSeconds.WithLabelValues(index).Observe(duration.Seconds())
}

// RecordKnowledgeDocument records one document processed during indexing.
// Result is one of "seeded", "skipped", "failed".
func (m *Metrics) RecordKnowledgeDocument(index, result string) {
	if m == nil {
		return
	}
	m.knowledgeDocuments.WithLabelValues(index, result).Inc()
}

// RecordRoomMessage records one message appended to a room.
func (m *Metrics) RecordRoomMessage(role string) {
	if m == nil {
		return
	}
	m.roomMessages.WithLabelValues(role).Inc()
}

// RecordCrawlPage records one page fetch by HTTP status.
func (m *Metrics) RecordCrawlPage(statusCode int) {
	if m == nil {
		return
	}
	m.crawlPages.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}
