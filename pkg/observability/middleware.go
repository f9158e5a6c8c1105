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
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware instruments the request pipeline with a server span and
// request metrics. Either signal may be nil; the other still records.
//
// Requests are labeled by route pattern ("/v1/rooms/{room}/messages")
// rather than raw path, so parameterized routes stay a single metric
// series. The pattern is read back from the routing context once the
// handler returns; requests that never match a route keep the raw path.
func HTTPMiddleware(tracer *Tracer, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Seed a routing context up front. The router reuses it and
			// records the matched pattern where this middleware can see it.
			rctx := chi.NewRouteContext()
			ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)

			var span trace.Span
			if tracer != nil {
				ctx, span = tracer.Start(ctx, SpanHTTPRequest,
					trace.WithAttributes(attribute.String(AttrHTTPMethod, r.Method)),
				)
				defer span.End()
			}

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			route := rctx.RoutePattern()
			if route == "" {
				route = r.URL.Path
			}

			if span != nil {
				span.SetAttributes(
					attribute.String(AttrHTTPPath, route),
					attribute.Int(AttrHTTPStatusCode, rec.status),
					attribute.Int64(AttrHTTPResponseSize, rec.written),
				)
				if rec.status >= http.StatusInternalServerError {
					span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("HTTP %d", rec.status)))
				}
			}

			metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start), requestSize, rec.written)
		})
	}
}

// statusRecorder captures the status code and body size of a response
// while keeping Flush and Hijack reachable for streaming handlers.
type statusRecorder struct {
	http.ResponseWriter
	status     int
	written    int64
	headerSent bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.headerSent {
		return
	}
	sr.status = code
	sr.headerSent = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.headerSent {
		sr.WriteHeader(http.StatusOK)
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.written += int64(n)
	return n, err
}

// Flush forwards to the underlying writer so server-sent event streams
// can push chunks through the recorder.
func (sr *statusRecorder) Flush() {
	f, ok := sr.ResponseWriter.(http.Flusher)
	if !ok {
		return
	}
	// Flushing before the first write commits a 200 header on the wire.
	sr.headerSent = true
	f.Flush()
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}
