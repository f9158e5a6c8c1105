// Package observability provides OpenTelemetry tracing and Prometheus metrics.
//
// The observability system has three main components:
//
//  1. Tracing: OpenTelemetry spans with OTLP export
//  2. Metrics: Prometheus counters and histograms
//  3. Debug: In-memory span capture for inspection endpoints
//
// # Configuration
//
// Configure observability in your aide.yaml:
//
//	observability:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: localhost:4317
//	    sampling_rate: 1.0
//	    service_name: aide
//	  metrics:
//	    enabled: true
//	    endpoint: /metrics
package observability

// =============================================================================
// Service Attributes (OpenTelemetry Semantic Conventions)
// =============================================================================

const (
	// AttrServiceName is the logical name of the service.
	AttrServiceName = "service.name"

	// AttrServiceVersion is the version of the service.
	AttrServiceVersion = "service.version"
)

// =============================================================================
// GenAI Semantic Conventions (OpenTelemetry GenAI SIG aligned)
// =============================================================================

const (
	// AttrGenAISystem identifies the GenAI system (e.g., "aide", "openai").
	AttrGenAISystem = "gen_ai.system"

	// AttrGenAIOperationName is the operation being performed.
	// Values: "chat", "embeddings"
	AttrGenAIOperationName = "gen_ai.operation.name"

	// AttrGenAIRequestModel is the name of the model being used.
	AttrGenAIRequestModel = "gen_ai.request.model"

	// AttrGenAIRequestTemperature is the temperature parameter.
	AttrGenAIRequestTemperature = "gen_ai.request.temperature"

	// AttrGenAIRequestMaxTokens is the maximum tokens requested.
	AttrGenAIRequestMaxTokens = "gen_ai.request.max_tokens"

	// AttrGenAIResponseFinishReason is why generation stopped.
	// Values: "stop", "length", "content_filter"
	AttrGenAIResponseFinishReason = "gen_ai.response.finish_reason"

	// AttrGenAIUsageInputTokens is the number of input tokens.
	AttrGenAIUsageInputTokens = "gen_ai.usage.input_tokens"

	// AttrGenAIUsageOutputTokens is the number of output tokens.
	AttrGenAIUsageOutputTokens = "gen_ai.usage.output_tokens"
)

// =============================================================================
// Aide-Specific Attributes
// =============================================================================

const (
	// AttrAideRoomID is the chat room the operation belongs to.
	AttrAideRoomID = "aide.room_id"

	// AttrAideUserID is the resolved client identity.
	AttrAideUserID = "aide.user_id"

	// AttrAideMessageID is the message ID within a room.
	AttrAideMessageID = "aide.message_id"

	// AttrAideBucket is the traffic bucket that governed the request.
	AttrAideBucket = "aide.bucket"

	// AttrAideCacheHit indicates whether the result cache served the answer.
	AttrAideCacheHit = "aide.cache_hit"

	// AttrAideLLMRequest is the serialized LLM request (optional, for debugging).
	AttrAideLLMRequest = "aide.llm.request"

	// AttrAideLLMResponse is the serialized LLM response (optional, for debugging).
	AttrAideLLMResponse = "aide.llm.response"
)

// =============================================================================
// Knowledge Attributes
// =============================================================================

const (
	// AttrKnowledgeIndex is the name of the knowledge index.
	AttrKnowledgeIndex = "aide.knowledge.index"

	// AttrKnowledgeQuery is the search query.
	AttrKnowledgeQuery = "aide.knowledge.query"

	// AttrKnowledgeTopK is the requested number of results.
	AttrKnowledgeTopK = "aide.knowledge.top_k"

	// AttrKnowledgeResultCount is the number of search results.
	AttrKnowledgeResultCount = "aide.knowledge.result_count"

	// AttrKnowledgeSourceType is the data source type (directory, crawl).
	AttrKnowledgeSourceType = "aide.knowledge.source_type"

	// AttrKnowledgeDocumentCount is the number of documents indexed.
	AttrKnowledgeDocumentCount = "aide.knowledge.document_count"

	// AttrKnowledgeChunkCount is the number of chunks indexed.
	AttrKnowledgeChunkCount = "aide.knowledge.chunk_count"

	// AttrKnowledgeEmbeddingModel is the embedding model used.
	AttrKnowledgeEmbeddingModel = "aide.knowledge.embedding_model"
)

// =============================================================================
// HTTP Attributes
// =============================================================================

const (
	// AttrHTTPMethod is the HTTP method.
	AttrHTTPMethod = "http.method"

	// AttrHTTPPath is the HTTP path (route pattern, not raw path).
	AttrHTTPPath = "http.route"

	// AttrHTTPStatusCode is the HTTP response status code.
	AttrHTTPStatusCode = "http.status_code"

	// AttrHTTPRequestSize is the request body size in bytes.
	AttrHTTPRequestSize = "http.request.body.size"

	// AttrHTTPResponseSize is the response body size in bytes.
	AttrHTTPResponseSize = "http.response.body.size"
)

// =============================================================================
// Error Attributes
// =============================================================================

const (
	// AttrErrorType is the type of error that occurred.
	AttrErrorType = "error.type"

	// AttrErrorMessage is the error message.
	AttrErrorMessage = "error.message"
)

// =============================================================================
// Span Names
// =============================================================================

const (
	// SpanHTTPRequest is a span for HTTP request handling.
	SpanHTTPRequest = "aide.http.request"

	// SpanChatTurn is the top-level span for a chat turn.
	SpanChatTurn = "aide.chat.turn"

	// SpanLLMCall is a span for an LLM API call.
	SpanLLMCall = "aide.llm.call"

	// SpanKnowledgeSearch is a span for knowledge search operations.
	SpanKnowledgeSearch = "aide.knowledge.search"

	// SpanKnowledgeIndex is a span for knowledge indexing operations.
	SpanKnowledgeIndex = "aide.knowledge.index"

	// SpanKnowledgeEmbed is a span for embedding generation.
	SpanKnowledgeEmbed = "aide.knowledge.embed"

	// SpanCrawlPage is a span for fetching one page during a crawl.
	SpanCrawlPage = "aide.crawl.page"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultServiceName is the default service name for tracing.
	DefaultServiceName = "aide"

	// DefaultSamplingRate is the default trace sampling rate.
	DefaultSamplingRate = 1.0

	// DefaultOTLPEndpoint is the default OTLP endpoint.
	DefaultOTLPEndpoint = "localhost:4317"

	// DefaultMetricsPath is the default Prometheus metrics endpoint.
	DefaultMetricsPath = "/metrics"
)

// =============================================================================
// GenAI Operation Names (for AttrGenAIOperationName)
// =============================================================================

const (
	// OpChat is a chat completion operation.
	OpChat = "chat"

	// OpEmbeddings is an embeddings generation operation.
	OpEmbeddings = "embeddings"
)
