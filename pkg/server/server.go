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

// Package server exposes the aide services over HTTP.
//
// One chi router fronts chat, rooms, knowledge search, seeding, the
// crawler and the calendar. The middleware chain is recovery, request
// logging, metrics, CORS, then optional JWT auth; throttled routes
// consume their traffic bucket before the handler runs, and the
// authenticated identity beats the network identity when both exist.
// Streaming chat responses go out as Server-Sent Events, flushed per
// event.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/aidekit/aide/pkg/auth"
	"github.com/aidekit/aide/pkg/calendar"
	"github.com/aidekit/aide/pkg/chat"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/crawler"
	"github.com/aidekit/aide/pkg/knowledge"
	"github.com/aidekit/aide/pkg/observability"
	"github.com/aidekit/aide/pkg/rooms"
	"github.com/aidekit/aide/pkg/traffic"
)

// Traffic buckets the HTTP surface consumes from. The chat bucket is
// charged inside the chat service, per room rather than per client.
const (
	bucketSearch   = "search"
	bucketCrawl    = "crawl"
	bucketCalendar = "calendar"
	bucketSeed     = "seed"
)

// Services are the domain collaborators behind the HTTP surface. Chat,
// Rooms and Shaper are required; the rest mount their routes only when
// present.
type Services struct {
	Chat     *chat.Service
	Rooms    rooms.Service
	Calendar calendar.Service
	Searcher *knowledge.Searcher
	Seeder   *knowledge.Seeder
	Crawler  *crawler.Crawler
	Shaper   *traffic.Shaper
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuthValidator enables JWT validation using the given validator.
func WithAuthValidator(v auth.TokenValidator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// WithObservability attaches tracing, metrics and the scrape endpoint.
func WithObservability(m *observability.Manager) Option {
	return func(s *Server) {
		s.obs = m
	}
}

// Server is the HTTP front of an aide deployment.
type Server struct {
	cfg       *config.Config
	serverCfg *config.ServerConfig
	svcs      Services
	validator auth.TokenValidator
	obs       *observability.Manager
	logger    *slog.Logger

	httpServer *http.Server
}

// New creates a Server. The configuration must already have defaults
// applied.
func New(cfg *config.Config, svcs Services, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if svcs.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if svcs.Rooms == nil {
		return nil, fmt.Errorf("rooms service is required")
	}
	if svcs.Shaper == nil {
		return nil, fmt.Errorf("traffic shaper is required")
	}

	s := &Server{
		cfg:       cfg,
		serverCfg: &cfg.Server,
		svcs:      svcs,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the complete middleware chain and route table.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.routes()

	if s.validator != nil && s.serverCfg.Auth != nil && s.serverCfg.Auth.IsEnabled() {
		handler = auth.Middleware(s.validator, s.serverCfg.Auth)(handler)
	}
	handler = s.corsMiddleware(handler)
	if s.obs != nil {
		handler = observability.HTTPMiddleware(s.obs.Tracer(), s.obs.Metrics())(handler)
	}
	handler = s.loggingMiddleware(handler)
	handler = s.recoverMiddleware(handler)

	return handler
}

// Start serves until ctx is cancelled or the listener fails. On
// cancellation it drains in-flight requests within the configured
// shutdown grace period.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.serverCfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.serverCfg.ReadTimeout.Duration(),
		WriteTimeout: s.serverCfg.WriteTimeout.Duration(),
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			"address", s.httpServer.Addr,
			"tls", s.tlsEnabled(),
		)

		var err error
		if s.tlsEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.serverCfg.TLS.CertFile, s.serverCfg.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting connections and waits for in-flight
// requests, up to the configured grace period.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.serverCfg.ShutdownTimeout.Duration())
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) tlsEnabled() bool {
	return s.serverCfg.TLS != nil && config.BoolValue(s.serverCfg.TLS.Enabled, false)
}

// identify resolves the throttling identity for a request. The
// authenticated identity wins; anonymous traffic falls back to the
// proxy-reported client address.
func (s *Server) identify(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.Identity != "" {
		return "user:" + claims.Identity
	}
	return traffic.ClientIP(r, s.serverCfg.TrustedClientIPHeader)
}

// routes builds the route table. Optional services mount only when
// wired, so an unconfigured surface is a plain 404.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/api/schema", s.handleSchema)
	if s.obs != nil {
		r.Method(http.MethodGet, s.obs.MetricsPath(), s.obs.MetricsHandler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/{room}", s.handleChat)

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", s.handleCreateRoom)
			r.Get("/", s.handleListRooms)
			r.Get("/{room}", s.handleGetRoom)
			r.Delete("/{room}", s.handleDeleteRoom)
			r.Get("/{room}/messages", s.handleRoomMessages)
		})

		if s.svcs.Searcher != nil {
			// Recommendations ride the search budget.
			guard := s.svcs.Shaper.Middleware(traffic.MiddlewareConfig{
				Bucket:   bucketSearch,
				Identity: s.identify,
			})
			r.With(guard).Get("/search", s.handleSearch)
			r.With(guard).Get("/recommendations", s.handleRecommendations)
		}

		if s.svcs.Seeder != nil {
			r.Post("/seed", s.handleSeed)
		}

		if s.svcs.Crawler != nil {
			guard := s.svcs.Shaper.Middleware(traffic.MiddlewareConfig{
				Bucket:   bucketCrawl,
				Identity: s.identify,
			})
			r.With(guard).Post("/crawl", s.handleCrawl)
		}

		if s.svcs.Calendar != nil {
			// Mutations are throttled per user; reads are free.
			guard := s.svcs.Shaper.Middleware(traffic.MiddlewareConfig{
				Bucket:   bucketCalendar,
				Identity: s.identify,
			})
			r.Route("/calendar/events", func(r chi.Router) {
				r.Get("/", s.handleListEvents)
				r.Get("/{event}", s.handleGetEvent)
				r.With(guard).Post("/", s.handleCreateEvent)
				r.With(guard).Put("/{event}", s.handleUpdateEvent)
				r.With(guard).Delete("/{event}", s.handleDeleteEvent)
			})
		}
	})

	return r
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("Panic in HTTP handler",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests without wrapping the ResponseWriter,
// which would hide http.Flusher from the SSE path.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	cors := s.serverCfg.CORS
	if cors == nil {
		return next
	}

	methods := strings.Join(cors.AllowedMethods, ", ")
	headers := strings.Join(cors.AllowedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" {
					w.Header().Set("Access-Control-Allow-Origin", "*")
					break
				}
				if allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
			if methods != "" {
				w.Header().Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			if config.BoolValue(cors.AllowCredentials, false) {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSchema serves the full configuration schema, generated by
// reflection so it never drifts from the structs.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://aidekit.dev/schemas/config.json"
	schema.Title = "Aide Configuration Schema"
	schema.Description = "Complete configuration schema for the aide chat service"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		s.logger.Error("Failed to encode config schema", "error", err)
	}
}
