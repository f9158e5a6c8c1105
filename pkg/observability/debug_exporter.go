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
	"sync"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultDebugSpanLimit = 1000

// capturedSpanNames lists the span kinds worth keeping around after the
// fact. HTTP request spans are deliberately absent; they are too chatty
// and carry nothing the access log does not.
var capturedSpanNames = map[string]struct{}{
	SpanChatTurn:        {},
	SpanLLMCall:         {},
	SpanKnowledgeSearch: {},
	SpanKnowledgeIndex:  {},
}

// DebugExporter is a SpanExporter that retains recent chat, LLM, and
// knowledge spans in memory, so a deployment without a collector can
// still answer "what happened to message X". Spans are kept in arrival
// order and the oldest are dropped once the limit is reached.
//
// Safe for concurrent use.
type DebugExporter struct {
	mu        sync.RWMutex
	order     []string // span IDs, oldest first
	byID      map[string]*DebugSpan
	byMessage map[string]*DebugSpan // indexed by the aide.message_id attribute
	limit     int
}

// DebugSpan is the retained snapshot of a finished span.
type DebugSpan struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Name         string `json:"name"`

	StartTime  int64   `json:"start_time_unix_nano"`
	EndTime    int64   `json:"end_time_unix_nano"`
	DurationMs float64 `json:"duration_ms"`

	Attributes map[string]string `json:"attributes"`
	Events     []SpanEvent       `json:"events,omitempty"`
	Status     string            `json:"status"`
	StatusMsg  string            `json:"status_message,omitempty"`
}

// SpanEvent is a snapshot of an event recorded on a span.
type SpanEvent struct {
	Name       string            `json:"name"`
	TimeUnix   int64             `json:"time_unix_nano"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewDebugExporter creates an exporter retaining up to the default
// number of spans.
func NewDebugExporter() *DebugExporter {
	return &DebugExporter{
		byID:      make(map[string]*DebugSpan),
		byMessage: make(map[string]*DebugSpan),
		limit:     defaultDebugSpanLimit,
	}
}

// WithMaxSize sets the retention limit. Non-positive sizes are ignored.
func (e *DebugExporter) WithMaxSize(size int) *DebugExporter {
	if size > 0 {
		e.limit = size
	}
	return e
}

// ExportSpans implements sdktrace.SpanExporter. Spans outside the
// capture set are discarded.
func (e *DebugExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, span := range spans {
		if _, ok := capturedSpanNames[span.Name()]; !ok {
			continue
		}
		e.retain(snapshotSpan(span))
	}
	return nil
}

// retain stores one snapshot and evicts the oldest entries past the
// limit. Caller must hold the write lock.
func (e *DebugExporter) retain(ds *DebugSpan) {
	if _, seen := e.byID[ds.SpanID]; !seen {
		e.order = append(e.order, ds.SpanID)
	}
	e.byID[ds.SpanID] = ds

	if msgID := ds.Attributes[AttrAideMessageID]; msgID != "" {
		e.byMessage[msgID] = ds
	}

	for len(e.order) > e.limit {
		oldest := e.byID[e.order[0]]
		delete(e.byID, e.order[0])
		e.order = e.order[1:]

		if oldest == nil {
			continue
		}
		// Drop the message index entry unless a newer span took it over.
		if msgID := oldest.Attributes[AttrAideMessageID]; msgID != "" && e.byMessage[msgID] == oldest {
			delete(e.byMessage, msgID)
		}
	}
}

// snapshotSpan copies the parts of a finished span worth keeping.
func snapshotSpan(span sdktrace.ReadOnlySpan) *DebugSpan {
	sc := span.SpanContext()
	start := span.StartTime()
	end := span.EndTime()

	ds := &DebugSpan{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		Name:       span.Name(),
		StartTime:  start.UnixNano(),
		EndTime:    end.UnixNano(),
		DurationMs: float64(end.Sub(start).Microseconds()) / 1e3,
		Attributes: flattenAttributes(span.Attributes()),
		Status:     span.Status().Code.String(),
		StatusMsg:  span.Status().Description,
	}
	if span.Parent().HasSpanID() {
		ds.ParentSpanID = span.Parent().SpanID().String()
	}

	for _, event := range span.Events() {
		ds.Events = append(ds.Events, SpanEvent{
			Name:       event.Name,
			TimeUnix:   event.Time.UnixNano(),
			Attributes: flattenAttributes(event.Attributes),
		})
	}
	return ds
}

func flattenAttributes(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.AsString()
	}
	return out
}

// Shutdown implements sdktrace.SpanExporter.
func (e *DebugExporter) Shutdown(ctx context.Context) error {
	e.Clear()
	return nil
}

// GetSpan returns the snapshot with the given span ID, or nil.
func (e *DebugExporter) GetSpan(spanID string) *DebugSpan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byID[spanID]
}

// GetByMessageID returns the most recent span carrying the given
// aide.message_id attribute, or nil.
func (e *DebugExporter) GetByMessageID(messageID string) *DebugSpan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byMessage[messageID]
}

// GetAllSpans returns every retained snapshot, oldest first.
func (e *DebugExporter) GetAllSpans() []*DebugSpan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*DebugSpan, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.byID[id])
	}
	return out
}

// GetSpansByName returns retained snapshots with the given name, oldest
// first.
func (e *DebugExporter) GetSpansByName(name string) []*DebugSpan {
	return e.filter(func(ds *DebugSpan) bool { return ds.Name == name })
}

// GetSpansByTrace returns retained snapshots belonging to the given
// trace, oldest first.
func (e *DebugExporter) GetSpansByTrace(traceID string) []*DebugSpan {
	return e.filter(func(ds *DebugSpan) bool { return ds.TraceID == traceID })
}

func (e *DebugExporter) filter(keep func(*DebugSpan) bool) []*DebugSpan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*DebugSpan
	for _, id := range e.order {
		if ds := e.byID[id]; ds != nil && keep(ds) {
			out = append(out, ds)
		}
	}
	return out
}

// Clear drops all retained spans.
func (e *DebugExporter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = nil
	e.byID = make(map[string]*DebugSpan)
	e.byMessage = make(map[string]*DebugSpan)
}

// Count returns the number of retained spans.
func (e *DebugExporter) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.order)
}

var _ sdktrace.SpanExporter = (*DebugExporter)(nil)
