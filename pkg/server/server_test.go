package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/goleak"

	"github.com/aidekit/aide/pkg/auth"
	"github.com/aidekit/aide/pkg/cache"
	"github.com/aidekit/aide/pkg/calendar"
	"github.com/aidekit/aide/pkg/chat"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/crawler"
	"github.com/aidekit/aide/pkg/knowledge"
	"github.com/aidekit/aide/pkg/kv"
	"github.com/aidekit/aide/pkg/llms"
	"github.com/aidekit/aide/pkg/ratelimit"
	"github.com/aidekit/aide/pkg/rooms"
	"github.com/aidekit/aide/pkg/traffic"
	"github.com/aidekit/aide/pkg/vector"
)

// fakeLLM answers every completion with a fixed reply.
type fakeLLM struct {
	mu     sync.Mutex
	reply  string
	tokens int
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llms.Message) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, f.tokens, nil
}

func (f *fakeLLM) GenerateStreaming(ctx context.Context, messages []llms.Message) (<-chan llms.StreamChunk, error) {
	f.mu.Lock()
	reply, tokens := f.reply, f.tokens
	f.mu.Unlock()

	out := make(chan llms.StreamChunk, 4)
	go func() {
		defer close(out)
		for _, part := range strings.SplitAfter(reply, " ") {
			out <- llms.StreamChunk{Type: llms.ChunkText, Text: part}
		}
		out <- llms.StreamChunk{Type: llms.ChunkDone, Tokens: tokens}
	}()
	return out, nil
}

func (f *fakeLLM) ModelName() string { return "fake-model" }
func (f *fakeLLM) Close() error      { return nil }

// fakeEmbedder maps known texts to fixed vectors and everything else
// to a unit x-axis vector.
type fakeEmbedder struct {
	vecs map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := f.vecs[text]; ok {
		return vec, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }
func (f *fakeEmbedder) Close() error      { return nil }

// fixture is a fully wired server over in-memory services.
type fixture struct {
	srv    *Server
	cfg    *config.Config
	llm    *fakeLLM
	rooms  rooms.Service
	store  vector.Provider
	shaper *traffic.Shaper
}

// newFixture assembles a server. mutate runs after defaults are
// applied and before the services are built, so tests can tighten
// bucket budgets or attach auth configuration.
func newFixture(t *testing.T, mutate func(*config.Config), opts ...Option) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Chat.KnowledgeIndexes = []string{"docs"}
	if mutate != nil {
		mutate(cfg)
	}

	limiter := ratelimit.New(kv.NewMemoryStore(0))
	shaper := traffic.New(limiter, cache.New(cache.Options{TTL: time.Minute}), &cfg.Traffic)

	roomsSvc := rooms.NewMemoryService(0)
	llm := &fakeLLM{reply: "certainly, here it is", tokens: 7}
	chatSvc := chat.New(llm, roomsSvc, shaper, &cfg.Chat)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	calSvc, err := calendar.NewSQLService(db, "sqlite", 0)
	if err != nil {
		t.Fatalf("failed to create calendar service: %v", err)
	}

	store, err := vector.NewChromemProvider(&config.VectorConfig{Provider: config.VectorProviderChromem})
	if err != nil {
		t.Fatalf("failed to create vector store: %v", err)
	}
	embedder := &fakeEmbedder{vecs: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	searcher := knowledge.NewSearcher(embedder, store, shaper.Cache(), &cfg.Knowledge)
	seeder := knowledge.NewSeeder(embedder, store, &cfg.Knowledge)

	srv, err := New(cfg, Services{
		Chat:     chatSvc,
		Rooms:    roomsSvc,
		Calendar: calSvc,
		Searcher: searcher,
		Seeder:   seeder,
		Crawler:  crawler.New(&cfg.Crawler),
		Shaper:   shaper,
	}, opts...)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	return &fixture{
		srv:    srv,
		cfg:    cfg,
		llm:    llm,
		rooms:  roomsSvc,
		store:  store,
		shaper: shaper,
	}
}

// do runs one request through the full middleware chain.
func (fx *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	fx.srv.Handler().ServeHTTP(rr, r)
	return rr
}

func jsonRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

// minimalServices builds just the required collaborators, leaving all
// optional surfaces unmounted.
func minimalServices(t *testing.T, cfg *config.Config) Services {
	t.Helper()
	limiter := ratelimit.New(kv.NewMemoryStore(0))
	shaper := traffic.New(limiter, cache.New(cache.Options{TTL: time.Minute}), &cfg.Traffic)
	roomsSvc := rooms.NewMemoryService(0)
	return Services{
		Chat:   chat.New(&fakeLLM{reply: "ok"}, roomsSvc, shaper, &cfg.Chat),
		Rooms:  roomsSvc,
		Shaper: shaper,
	}
}

func TestNew_Validation(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	svcs := minimalServices(t, cfg)

	cases := []struct {
		name string
		cfg  *config.Config
		svcs Services
	}{
		{"nil config", nil, svcs},
		{"missing chat", cfg, Services{Rooms: svcs.Rooms, Shaper: svcs.Shaper}},
		{"missing rooms", cfg, Services{Chat: svcs.Chat, Shaper: svcs.Shaper}},
		{"missing shaper", cfg, Services{Chat: svcs.Chat, Rooms: svcs.Rooms}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, tc.svcs); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestServer_StartShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	srv, err := New(cfg, minimalServices(t, cfg))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}

func TestServer_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	srv, err := New(cfg, minimalServices(t, cfg))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an occupied port")
	}
}

func TestHandler_Health(t *testing.T) {
	fx := newFixture(t, nil)

	rr := fx.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandler_Schema(t *testing.T) {
	fx := newFixture(t, nil)

	rr := fx.do(httptest.NewRequest(http.MethodGet, "/api/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if !strings.Contains(rr.Body.String(), "Aide Configuration Schema") {
		t.Error("schema title missing from response")
	}
}

func TestHandler_CORS(t *testing.T) {
	fx := newFixture(t, nil)

	preflight := httptest.NewRequest(http.MethodOptions, "/v1/rooms", nil)
	preflight.Header.Set("Origin", "https://studio.example")
	rr := fx.do(preflight)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Allow-Methods = %q, want POST included", got)
	}
}

func TestHandler_CORSRestrictedOrigin(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config) {
		cfg.Server.CORS.AllowedOrigins = []string{"https://app.example"}
	})

	allowed := httptest.NewRequest(http.MethodGet, "/health", nil)
	allowed.Header.Set("Origin", "https://app.example")
	rr := fx.do(allowed)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q, want the echoed origin", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}

	denied := httptest.NewRequest(http.MethodGet, "/health", nil)
	denied.Header.Set("Origin", "https://evil.example")
	rr = fx.do(denied)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for a foreign origin, want empty", got)
	}
}

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func signTestToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewBuilder().
		Issuer("https://issuer.test").
		Audience([]string{"aide-tests"}).
		Subject(subject).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}
	key, err := jwk.FromRaw([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to build key: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

func TestHandler_Auth(t *testing.T) {
	authCfg := &config.AuthConfig{
		Enabled:  true,
		Secret:   testJWTSecret,
		Issuer:   "https://issuer.test",
		Audience: "aide-tests",
	}
	validator, err := auth.NewValidatorFromConfig(authCfg)
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	fx := newFixture(t, func(cfg *config.Config) {
		cfg.Server.Auth = authCfg
	}, WithAuthValidator(validator))

	// Health stays open without a token.
	rr := fx.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rr.Code)
	}

	// The API rejects anonymous and forged callers.
	rr = fx.do(httptest.NewRequest(http.MethodGet, "/v1/rooms", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}
	bad := httptest.NewRequest(http.MethodGet, "/v1/rooms", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	if rr = fx.do(bad); rr.Code != http.StatusUnauthorized {
		t.Errorf("forged status = %d, want 401", rr.Code)
	}

	good := httptest.NewRequest(http.MethodGet, "/v1/rooms", nil)
	good.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-1"))
	if rr = fx.do(good); rr.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200, body %s", rr.Code, rr.Body.String())
	}
}

func TestRoutes_OptionalServicesUnmounted(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	srv, err := New(cfg, minimalServices(t, cfg))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	paths := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/v1/search?q=x"},
		{http.MethodGet, "/v1/recommendations?q=x"},
		{http.MethodPost, "/v1/seed"},
		{http.MethodPost, "/v1/crawl"},
		{http.MethodGet, "/v1/calendar/events"},
	}
	for _, p := range paths {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(p.method, p.target, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", p.method, p.target, rr.Code)
		}
	}
}

func TestIdentify(t *testing.T) {
	fx := newFixture(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(traffic.DefaultIPHeader, "203.0.113.9")
	if got := fx.srv.identify(r); got != "203.0.113.9" {
		t.Errorf("identity = %q, want the proxy-reported address", got)
	}

	claims := &auth.Claims{Subject: "alice", Identity: "alice"}
	r = r.WithContext(auth.ContextWithClaims(r.Context(), claims))
	if got := fx.srv.identify(r); got != "user:alice" {
		t.Errorf("identity = %q, want user:alice", got)
	}
}
