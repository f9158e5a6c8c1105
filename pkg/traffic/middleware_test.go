package traffic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aidekit/aide/pkg/cache"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/kv"
	"github.com/aidekit/aide/pkg/ratelimit"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name          string
		trustedHeader string
		headers       map[string]string
		want          string
	}{
		{
			name:    "real ip header",
			headers: map[string]string{"X-Real-IP": "203.0.113.7"},
			want:    "203.0.113.7",
		},
		{
			name:    "forwarded for single hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:    "203.0.113.7",
		},
		{
			name:    "forwarded for takes first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1, 10.0.0.2"},
			want:    "203.0.113.7",
		},
		{
			name: "trusted header wins over forwarded for",
			headers: map[string]string{
				"X-Real-IP":       "203.0.113.7",
				"X-Forwarded-For": "198.51.100.9",
			},
			want: "203.0.113.7",
		},
		{
			name:          "custom trusted header",
			trustedHeader: "CF-Connecting-IP",
			headers: map[string]string{
				"CF-Connecting-IP": "203.0.113.7",
				"X-Real-IP":        "198.51.100.9",
			},
			want: "203.0.113.7",
		},
		{
			name: "no headers means anonymous",
			want: AnonymousIdentifier,
		},
		{
			name:    "empty first hop means anonymous",
			headers: map[string]string{"X-Forwarded-For": "  ,10.0.0.1"},
			want:    AnonymousIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.trustedHeader); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newMiddlewareShaper(t *testing.T, limit int) *Shaper {
	t.Helper()
	clock, _ := testClock(time.Unix(1700000000, 0))
	limiter := ratelimit.New(kv.NewMemoryStore(0), ratelimit.WithClock(clock))
	cfg := trafficConfig(t, map[string]*config.BucketConfig{
		"chat": {Window: config.Duration(time.Minute), Limit: limit},
	})
	return New(limiter, cache.New(cache.Options{TTL: time.Minute}), cfg)
}

func TestMiddleware_AllowsAndSetsHeaders(t *testing.T) {
	s := newMiddlewareShaper(t, 5)

	var sawDecision bool
	handler := s.Middleware(MiddlewareConfig{Bucket: "chat"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, ok := DecisionFromContext(r.Context())
			sawDecision = ok && d.Allowed
			w.WriteHeader(http.StatusOK)
		}))

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	r.Header.Set("X-Real-IP", "203.0.113.7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !sawDecision {
		t.Errorf("expected the handler to see an allowed decision in its context")
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("expected X-RateLimit-Limit 5, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("expected X-RateLimit-Remaining 4, got %q", got)
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Errorf("expected an X-RateLimit-Reset header")
	}
}

func TestMiddleware_DeniesWith429(t *testing.T) {
	s := newMiddlewareShaper(t, 1)

	handlerRan := 0
	handler := s.Middleware(MiddlewareConfig{Bucket: "chat"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerRan++
			w.WriteHeader(http.StatusOK)
		}))

	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("X-Real-IP", "203.0.113.7")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("expected the first request to pass, got %d", w.Code)
	}

	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if handlerRan != 1 {
		t.Errorf("expected the handler not to run on denial, ran %d times", handlerRan)
	}

	// Limit 1 per minute with no explicit block penalizes half the window.
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("expected Retry-After 30, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected a JSON body, got %q", got)
	}

	var body deniedResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode denial body: %v", err)
	}
	if body.Error == "" {
		t.Errorf("expected an error message in the body")
	}
	if body.Bucket != "chat" {
		t.Errorf("expected bucket \"chat\", got %q", body.Bucket)
	}
	if body.RetryAfter != 30 {
		t.Errorf("expected retryAfter 30, got %d", body.RetryAfter)
	}
	if !body.Blocked {
		t.Errorf("expected the overflow denial to be marked blocked")
	}
}

func TestMiddleware_SeparateIdentities(t *testing.T) {
	s := newMiddlewareShaper(t, 1)

	handler := s.Middleware(MiddlewareConfig{Bucket: "chat"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	send := func(ip string) int {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("X-Real-IP", ip)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	if code := send("203.0.113.7"); code != http.StatusOK {
		t.Fatalf("expected the first client to pass, got %d", code)
	}
	if code := send("203.0.113.7"); code != http.StatusTooManyRequests {
		t.Errorf("expected the first client to be limited, got %d", code)
	}
	if code := send("198.51.100.9"); code != http.StatusOK {
		t.Errorf("expected a different client to have its own budget, got %d", code)
	}
}

func TestMiddleware_CustomIdentity(t *testing.T) {
	s := newMiddlewareShaper(t, 1)

	// Key the budget by room instead of by client.
	handler := s.Middleware(MiddlewareConfig{
		Bucket: "chat",
		Identity: func(r *http.Request) string {
			return "room:" + r.Header.Get("X-Room-ID")
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(room, ip string) int {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("X-Room-ID", room)
		r.Header.Set("X-Real-IP", ip)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	if code := send("general", "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("expected the first message to pass, got %d", code)
	}
	// A different client in the same room shares the room's budget.
	if code := send("general", "198.51.100.9"); code != http.StatusTooManyRequests {
		t.Errorf("expected the room budget to be shared, got %d", code)
	}
	if code := send("random", "203.0.113.7"); code != http.StatusOK {
		t.Errorf("expected another room to have its own budget, got %d", code)
	}
}

func TestMiddleware_CustomOnDenied(t *testing.T) {
	s := newMiddlewareShaper(t, 1)

	handler := s.Middleware(MiddlewareConfig{
		Bucket: "chat",
		OnDenied: func(w http.ResponseWriter, r *http.Request, bucket string, d ratelimit.Decision) {
			w.WriteHeader(http.StatusTeapot)
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("X-Real-IP", "203.0.113.7")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	send()
	if code := send(); code != http.StatusTeapot {
		t.Errorf("expected the custom denial writer to run, got %d", code)
	}
}

func TestMiddleware_FailClosedUnavailable(t *testing.T) {
	limiter := ratelimit.New(faultStore{})
	cfg := trafficConfig(t, map[string]*config.BucketConfig{
		"chat": {Window: config.Duration(time.Minute), Limit: 5},
	})
	s := New(limiter, cache.New(cache.Options{TTL: time.Minute}), cfg)

	handler := s.Middleware(MiddlewareConfig{Bucket: "chat"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("handler must not run when the store is down on a fail-closed bucket")
		}))

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestMiddleware_FailOpenPasses(t *testing.T) {
	limiter := ratelimit.New(faultStore{})
	cfg := trafficConfig(t, map[string]*config.BucketConfig{
		"search": {Window: config.Duration(time.Minute), Limit: 5, FailOpen: config.BoolPtr(true)},
	})
	s := New(limiter, cache.New(cache.Options{TTL: time.Minute}), cfg)

	handler := s.Middleware(MiddlewareConfig{Bucket: "search"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	r := httptest.NewRequest(http.MethodGet, "/v1/search", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("expected a fail-open bucket to pass the request, got %d", w.Code)
	}
}

func TestDecisionFromContext_Absent(t *testing.T) {
	if _, ok := DecisionFromContext(context.Background()); ok {
		t.Errorf("expected no decision in an empty context")
	}
}
