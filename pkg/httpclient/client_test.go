package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// scripted starts a server that answers with the given status codes in
// order, repeating the last one. The returned counter reports how many
// requests arrived.
func scripted(t *testing.T, statuses ...int) (*httptest.Server, *int) {
	t.Helper()
	attempts := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := *attempts
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		*attempts++
		w.WriteHeader(statuses[i])
	}))
	t.Cleanup(srv.Close)
	return srv, attempts
}

func TestNewDefaults(t *testing.T) {
	c := New()

	if c.maxRetries != 5 {
		t.Errorf("maxRetries = %d, want 5", c.maxRetries)
	}
	if c.baseDelay != 2*time.Second {
		t.Errorf("baseDelay = %v, want 2s", c.baseDelay)
	}
	if c.client.Timeout != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", c.client.Timeout)
	}
	if c.strategyFunc == nil {
		t.Error("default strategyFunc should be set")
	}
}

func TestNewOptions(t *testing.T) {
	c := New(
		WithMaxRetries(3),
		WithBaseDelay(5*time.Second),
		WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		WithHeaderParser(func(http.Header) RateLimitInfo {
			return RateLimitInfo{RetryAfter: 10 * time.Second}
		}),
		WithRetryStrategy(func(int) RetryStrategy { return SmartRetry }),
	)

	if c.maxRetries != 3 || c.baseDelay != 5*time.Second {
		t.Errorf("retry knobs = (%d, %v), want (3, 5s)", c.maxRetries, c.baseDelay)
	}
	if c.client.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", c.client.Timeout)
	}
	if got := c.headerParser(http.Header{}).RetryAfter; got != 10*time.Second {
		t.Errorf("headerParser RetryAfter = %v, want 10s", got)
	}
	if got := c.strategyFunc(500); got != SmartRetry {
		t.Errorf("strategyFunc(500) = %v, want SmartRetry", got)
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	byStrategy := map[RetryStrategy][]int{
		SmartRetry:        {429, 503},
		ConservativeRetry: {408, 500, 502, 504},
		NoRetry:           {200, 400, 401, 403, 404},
	}

	for want, codes := range byStrategy {
		for _, code := range codes {
			if got := DefaultRetryStrategy(code); got != want {
				t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", code, got, want)
			}
		}
	}
}

func TestDoSuccess(t *testing.T) {
	srv, attempts := scripted(t, http.StatusOK)

	client := New(WithHTTPClient(srv.Client()))
	req, _ := http.NewRequest("GET", srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if *attempts != 1 {
		t.Errorf("attempts = %d, want 1", *attempts)
	}
}

func TestDoNetworkError(t *testing.T) {
	client := New(WithHTTPClient(&http.Client{Timeout: 1 * time.Millisecond}))
	req, _ := http.NewRequest("GET", "http://invalid-url-that-does-not-exist:9999", nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Error("expected a network error")
	}
	if resp != nil {
		t.Error("response should be nil on network error")
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	srv, attempts := scripted(t,
		http.StatusInternalServerError,
		http.StatusInternalServerError,
		http.StatusOK)

	client := New(
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if *attempts != 3 {
		t.Errorf("attempts = %d, want 3", *attempts)
	}
}

func TestDoBudgetExhausted(t *testing.T) {
	srv, attempts := scripted(t, http.StatusInternalServerError)

	client := New(
		WithHTTPClient(srv.Client()),
		WithMaxRetries(2),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", srv.URL, nil)

	resp, err := client.Do(req)
	if resp == nil {
		t.Fatal("the last response should be returned alongside the error")
	}
	resp.Body.Close()

	retryErr, ok := err.(*RetryableError)
	if !ok {
		t.Fatalf("error type = %T, want *RetryableError", err)
	}
	if retryErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("RetryableError.StatusCode = %d, want 500", retryErr.StatusCode)
	}
	if retryErr.RetryAfter < 0 {
		t.Error("RetryableError.RetryAfter should be >= 0")
	}

	// Budget of 2 retries means 3 requests on the wire.
	if *attempts != 3 {
		t.Errorf("attempts = %d, want 3", *attempts)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)
	req, _ := http.NewRequest("GET", srv.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	waited := time.Since(start)

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if waited < 1*time.Second {
		t.Errorf("waited %v, want at least the advertised 1s", waited)
	}
}

func TestDoConservativeGivesUpBeforeBudget(t *testing.T) {
	srv, attempts := scripted(t, http.StatusInternalServerError)

	client := New(
		WithHTTPClient(srv.Client()),
		WithMaxRetries(5),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", srv.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Error("expected an error")
	}
	if resp == nil {
		t.Fatal("the last response should be returned alongside the error")
	}
	resp.Body.Close()

	// Two conservative retries, then surrender with budget left.
	if *attempts != 3 {
		t.Errorf("attempts = %d, want 3", *attempts)
	}
}

func TestDoContextCanceledDuringWait(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Do(req)
	waited := time.Since(start)

	if err == nil {
		t.Fatal("expected a context error")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("error = %v, want context canceled", err)
	}
	if waited >= 5*time.Second {
		t.Errorf("cancellation should cut the wait short, waited %v", waited)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 before cancellation", attempts)
	}
}

func TestDoNonReplayableBodyNotRetried(t *testing.T) {
	srv, attempts := scripted(t, http.StatusInternalServerError)

	client := New(
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseDelay(10*time.Millisecond),
	)

	// A raw Reader body has no GetBody, so a retry would replay nothing.
	req, _ := http.NewRequest("POST", srv.URL, strings.NewReader("payload"))
	req.GetBody = nil

	if _, err := client.Do(req); err == nil {
		t.Error("expected an error")
	}
	if *attempts != 1 {
		t.Errorf("attempts = %d, want a single attempt for a non-replayable body", *attempts)
	}
}

func TestSendClassifiesResponses(t *testing.T) {
	cases := []struct {
		status       int
		wantStrategy RetryStrategy
		wantErr      bool
	}{
		{http.StatusOK, NoRetry, false},
		{http.StatusTooManyRequests, SmartRetry, true},
		{http.StatusInternalServerError, ConservativeRetry, true},
		{http.StatusBadRequest, NoRetry, true},
	}

	for _, tc := range cases {
		srv, _ := scripted(t, tc.status)
		client := New(WithHTTPClient(srv.Client()))
		req, _ := http.NewRequest("GET", srv.URL, nil)

		resp, strategy, info, err := client.send(req)
		if (err != nil) != tc.wantErr {
			t.Errorf("send() %d: error = %v, wantErr %v", tc.status, err, tc.wantErr)
		}
		if resp.StatusCode != tc.status {
			t.Errorf("send() %d: status = %d", tc.status, resp.StatusCode)
		}
		if strategy != tc.wantStrategy {
			t.Errorf("send() %d: strategy = %v, want %v", tc.status, strategy, tc.wantStrategy)
		}
		if info != (RateLimitInfo{}) {
			t.Errorf("send() %d: rate limit info should be empty without a parser, got %+v", tc.status, info)
		}
		resp.Body.Close()
	}
}

func TestRetryDelay(t *testing.T) {
	client := New(WithBaseDelay(1 * time.Second))

	t.Run("no_retry", func(t *testing.T) {
		if d := client.retryDelay(NoRetry, 0, RateLimitInfo{}); d != 0 {
			t.Errorf("retryDelay = %v, want 0", d)
		}
	})

	t.Run("smart_exponential_with_jitter", func(t *testing.T) {
		want := []time.Duration{
			1*time.Second + 100*time.Millisecond,
			2*time.Second + 200*time.Millisecond,
		}
		for attempt, expected := range want {
			if d := client.retryDelay(SmartRetry, attempt, RateLimitInfo{}); d != expected {
				t.Errorf("attempt %d: retryDelay = %v, want %v", attempt, d, expected)
			}
		}
	})

	t.Run("smart_retry_after_wins", func(t *testing.T) {
		info := RateLimitInfo{RetryAfter: 5 * time.Second}
		if d := client.retryDelay(SmartRetry, 0, info); d != 5*time.Second {
			t.Errorf("retryDelay = %v, want the advertised 5s", d)
		}
	})

	t.Run("smart_reset_time", func(t *testing.T) {
		info := RateLimitInfo{ResetTime: time.Now().Add(3 * time.Second).Unix()}
		d := client.retryDelay(SmartRetry, 0, info)
		if d < 2*time.Second || d > 4*time.Second {
			t.Errorf("retryDelay = %v, want approximately 3s", d)
		}
	})

	t.Run("conservative_schedule", func(t *testing.T) {
		want := []time.Duration{2 * time.Second, 3 * time.Second, 0}
		for attempt, expected := range want {
			if d := client.retryDelay(ConservativeRetry, attempt, RateLimitInfo{}); d != expected {
				t.Errorf("attempt %d: retryDelay = %v, want %v", attempt, d, expected)
			}
		}
	})
}
