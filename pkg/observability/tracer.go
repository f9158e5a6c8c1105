// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with helpers for the spans this
// service emits. A nil Tracer is valid and produces no-op spans, so
// callers never need to guard their instrumentation.
type Tracer struct {
	provider       *sdktrace.TracerProvider
	tracer         trace.Tracer
	debugExporter  *DebugExporter
	capturePayload bool
	serviceName    string
}

// TracerOption configures the Tracer.
type TracerOption func(*Tracer)

// WithDebugExporter adds a debug exporter for the trace inspection endpoint.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) { t.debugExporter = exporter }
}

// WithCapturePayloads enables capturing full LLM request/response in spans.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) { t.capturePayload = capture }
}

// NewTracer creates a new Tracer from configuration and installs it as
// the global OpenTelemetry provider. Returns nil when tracing is
// disabled.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	t := &Tracer{serviceName: cfg.ServiceName}
	for _, opt := range opts {
		opt(t)
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String(AttrGenAISystem, DefaultServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter),
	)
	if t.debugExporter != nil {
		t.provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debugExporter))
	}
	t.tracer = t.provider.Tracer(cfg.ServiceName)

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// newSpanExporter builds the exporter named by the configuration. The
// jaeger and zipkin settings still speak OTLP; modern collectors for
// both accept it, only the endpoint differs.
func newSpanExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "jaeger", "zipkin":
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.IsInsecure() {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartChatTurn begins the top-level span for one chat turn. The span
// covers queueing, throttling, the model call, and persistence, so a
// denied turn shows up as a short span with an error.
func (t *Tracer) StartChatTurn(ctx context.Context, roomID string, streaming bool) (context.Context, trace.Span) {
	return t.Start(ctx, SpanChatTurn, trace.WithAttributes(
		attribute.String(AttrAideRoomID, roomID),
		attribute.Bool("streaming", streaming),
	))
}

// StartLLMCall begins a span for an LLM API call.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, promptMessages int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanLLMCall, trace.WithAttributes(
		attribute.String(AttrGenAIOperationName, OpChat),
		attribute.String(AttrGenAIRequestModel, model),
		attribute.Int("prompt_messages", promptMessages),
	))
}

// StartKnowledgeSearch begins a span for a knowledge search.
func (t *Tracer) StartKnowledgeSearch(ctx context.Context, index, query string, topK int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanKnowledgeSearch, trace.WithAttributes(
		attribute.String(AttrKnowledgeIndex, index),
		attribute.String(AttrKnowledgeQuery, query),
		attribute.Int(AttrKnowledgeTopK, topK),
	))
}

// StartKnowledgeIndex begins a span for a knowledge indexing run.
func (t *Tracer) StartKnowledgeIndex(ctx context.Context, index string, documentCount int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanKnowledgeIndex, trace.WithAttributes(
		attribute.String(AttrKnowledgeIndex, index),
		attribute.Int(AttrKnowledgeDocumentCount, documentCount),
	))
}

// StartEmbed begins a span for embedding generation.
func (t *Tracer) StartEmbed(ctx context.Context, model string, batchSize int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanKnowledgeEmbed, trace.WithAttributes(
		attribute.String(AttrGenAIOperationName, OpEmbeddings),
		attribute.String(AttrKnowledgeEmbeddingModel, model),
		attribute.Int("batch_size", batchSize),
	))
}

// setAttrs applies attributes to a span, tolerating nil spans so the
// Add helpers stay safe on every code path.
func setAttrs(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// AddMessageID links a span to the stored message it produced. The
// debug exporter indexes captured spans by this attribute.
func (t *Tracer) AddMessageID(span trace.Span, id string) {
	setAttrs(span, attribute.String(AttrAideMessageID, id))
}

// AddSearchResults adds the search result count to a span.
func (t *Tracer) AddSearchResults(span trace.Span, resultCount int) {
	setAttrs(span, attribute.Int(AttrKnowledgeResultCount, resultCount))
}

// AddIndexStats adds indexing statistics to a span.
func (t *Tracer) AddIndexStats(span trace.Span, chunkCount int) {
	setAttrs(span, attribute.Int(AttrKnowledgeChunkCount, chunkCount))
}

// AddLLMUsage adds token usage to a span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	setAttrs(span,
		attribute.Int(AttrGenAIUsageInputTokens, inputTokens),
		attribute.Int(AttrGenAIUsageOutputTokens, outputTokens),
	)
}

// AddLLMFinishReason adds the finish reason to a span.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	setAttrs(span, attribute.String(AttrGenAIResponseFinishReason, reason))
}

// AddPayload adds the raw request and response text to a span. Recorded
// only when payload capture is enabled; payloads can hold user content
// and are off by default.
func (t *Tracer) AddPayload(span trace.Span, request, response string) {
	if t == nil || span == nil || !t.capturePayload {
		return
	}
	if request != "" {
		span.SetAttributes(attribute.String(AttrAideLLMRequest, request))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrAideLLMResponse, response))
	}
}

// RecordError records an error on a span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	setAttrs(span,
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// DebugExporter returns the debug exporter if configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// noopSpan returns a span that satisfies the trace.Span interface and
// records nothing.
func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
