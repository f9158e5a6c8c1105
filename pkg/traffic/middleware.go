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

package traffic

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/aidekit/aide/pkg/ratelimit"
)

// AnonymousIdentifier is the identity of requests carrying no usable
// client address. All such requests share one budget.
const AnonymousIdentifier = "anonymous"

// DefaultIPHeader is the proxy header consulted first for the client IP.
const DefaultIPHeader = "X-Real-IP"

// IdentityFunc extracts the rate limit identifier from a request.
type IdentityFunc func(r *http.Request) string

// ClientIP resolves the client identity for a request sitting behind a
// trusted reverse proxy: the trusted header first (DefaultIPHeader when
// empty), then the first hop of X-Forwarded-For, then AnonymousIdentifier.
// The socket address is deliberately not consulted; at the edge it is
// always the proxy.
func ClientIP(r *http.Request, trustedHeader string) string {
	if trustedHeader == "" {
		trustedHeader = DefaultIPHeader
	}
	if ip := strings.TrimSpace(r.Header.Get(trustedHeader)); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return AnonymousIdentifier
}

// ClientIdentity returns an IdentityFunc using ClientIP with the given
// trusted header.
func ClientIdentity(trustedHeader string) IdentityFunc {
	return func(r *http.Request) string {
		return ClientIP(r, trustedHeader)
	}
}

// MiddlewareConfig configures one bucket's HTTP guard.
type MiddlewareConfig struct {
	// Bucket names the budget this route consumes from.
	Bucket string

	// Identity extracts the limit identifier. Nil means ClientIdentity("").
	Identity IdentityFunc

	// OnDenied writes the denial response. Nil means a 429 with a
	// Retry-After header and a JSON body.
	OnDenied func(w http.ResponseWriter, r *http.Request, bucket string, d ratelimit.Decision)
}

// Middleware guards a route with the shaper. Denied requests get a 429
// before the handler runs; allowed requests carry the decision in their
// context and standard X-RateLimit headers on the response.
func (s *Shaper) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Identity == nil {
		cfg.Identity = ClientIdentity("")
	}
	if cfg.OnDenied == nil {
		cfg.OnDenied = writeDenied
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := cfg.Identity(r)

			decision, err := s.Allow(r.Context(), cfg.Bucket, identifier)
			if err != nil {
				// Fail-closed bucket with an unreachable store.
				writeUnavailable(w, cfg.Bucket)
				return
			}

			r = r.WithContext(ContextWithDecision(r.Context(), decision))

			if !decision.Allowed {
				cfg.OnDenied(w, r, cfg.Bucket, decision)
				return
			}

			SetRateLimitHeaders(w, decision)
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const decisionContextKey contextKey = "traffic_decision"

// ContextWithDecision stores a rate limit decision in the context.
func ContextWithDecision(ctx context.Context, d ratelimit.Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey, d)
}

// DecisionFromContext returns the decision recorded by Middleware.
func DecisionFromContext(ctx context.Context) (ratelimit.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey).(ratelimit.Decision)
	return d, ok
}

// deniedResponse is the JSON body of a 429. Blocked distinguishes an
// active penalty from a window merely running dry.
type deniedResponse struct {
	Error      string `json:"error"`
	Bucket     string `json:"bucket"`
	RetryAfter int    `json:"retryAfter"`
	Blocked    bool   `json:"blocked"`
}

func writeDenied(w http.ResponseWriter, _ *http.Request, bucket string, d ratelimit.Decision) {
	WriteDenied(w, bucket, d)
}

// WriteDenied renders a denial as a 429 with a Retry-After header and
// the standard JSON body. Handlers that call Shaper.Allow directly use
// this to match the middleware's responses.
func WriteDenied(w http.ResponseWriter, bucket string, d ratelimit.Decision) {
	retryAfter := d.RetryAfterSeconds()

	SetRateLimitHeaders(w, d)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(deniedResponse{
		Error:      "rate limit exceeded",
		Bucket:     bucket,
		RetryAfter: retryAfter,
		Blocked:    d.Blocked,
	})
}

func writeUnavailable(w http.ResponseWriter, bucket string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)

	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  "rate limiter unavailable",
		"bucket": bucket,
	})
}

// SetRateLimitHeaders exposes the decision on the response so well-behaved
// clients can pace themselves.
func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.WindowReset.Unix(), 10))
}
