package observability

import "time"

// Recorder defines the interface for recording metrics.
// This allows for dependency injection and easier testing.
type Recorder interface {
	// HTTP metrics
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)

	// Traffic shaping metrics
	RecordRateLimitDecision(bucket, outcome string)
	RecordCacheEvent(cache, event string)

	// LLM metrics
	RecordLLMCall(model, provider string, duration time.Duration)
	RecordLLMTokens(model, provider string, inputTokens, outputTokens int)
	RecordLLMError(model, provider, errorType string)

	// Knowledge metrics
	RecordKnowledgeSearch(index string, duration time.Duration, resultCount int)
	RecordKnowledgeDocument(index, result string)

	// Room metrics
	RecordRoomMessage(role string)

	// Crawler metrics
	RecordCrawlPage(statusCode int)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
