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

// Package chat orchestrates conversation turns.
//
// A turn takes a user message, assembles the prompt from the room's
// stored history plus optional knowledge context, calls the language
// model, and persists the exchange. Turns in the same room are
// serialized in arrival order and pass through the shared traffic
// shaper before any model call, so a denied turn costs nothing and
// never reaches the provider.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/knowledge"
	"github.com/aidekit/aide/pkg/llms"
	"github.com/aidekit/aide/pkg/observability"
	"github.com/aidekit/aide/pkg/rooms"
	"github.com/aidekit/aide/pkg/tokens"
	"github.com/aidekit/aide/pkg/traffic"
)

// bucketChat is the traffic bucket charged per turn, partitioned by
// room so one busy conversation cannot starve the others.
const bucketChat = "chat"

// persistTimeout bounds history writes that happen after a stream has
// already completed and the request context may be gone.
const persistTimeout = 10 * time.Second

// Denial reports a turn rejected by the traffic shaper. It implements
// error so transports can map it to a 429 with a countdown. Blocked
// marks a hard block rather than an exhausted window.
type Denial struct {
	Bucket     string `json:"bucket"`
	RetryAfter int    `json:"retryAfter"`
	Blocked    bool   `json:"blocked"`
}

func (d *Denial) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %ds", d.Bucket, d.RetryAfter)
}

// Reply is the assistant's completed response to one turn.
type Reply struct {
	// RoomID is the conversation the reply belongs to.
	RoomID string `json:"room_id"`

	// Message is the stored assistant message.
	Message rooms.Message `json:"message"`

	// Tokens is the total token count the provider reported for the
	// call, zero when unreported.
	Tokens int `json:"tokens,omitempty"`
}

type settings struct {
	recorder observability.Recorder
	tracer   *observability.Tracer
	logger   *slog.Logger
}

func defaultSettings() settings {
	return settings{
		recorder: observability.NoopMetrics{},
		logger:   slog.Default(),
	}
}

// Option configures a Service.
type Option func(*Service)

// WithSearcher enables knowledge lookups. Matching context is injected
// into the prompt when the chat config names indexes to consult.
func WithSearcher(searcher *knowledge.Searcher) Option {
	return func(s *Service) {
		s.searcher = searcher
	}
}

// WithProviderLabel sets the provider name used in metrics labels.
func WithProviderLabel(provider string) Option {
	return func(s *Service) {
		if provider != "" {
			s.provider = provider
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTracer enables span emission. Each turn produces a span covering
// queueing, throttling, the model call, and persistence.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service runs chat turns against a single language model.
//
// Safe for concurrent use. Concurrent turns in different rooms
// proceed in parallel; turns in the same room queue in arrival order.
type Service struct {
	llm      llms.Provider
	rooms    rooms.Service
	shaper   *traffic.Shaper
	guard    *rooms.Guard
	searcher *knowledge.Searcher
	counter  *tokens.Counter
	cfg      config.ChatConfig
	provider string

	settings
}

// New creates a chat service. cfg may be nil, in which case defaults
// apply. The token counter is resolved from the model name; when no
// encoding is available the service falls back to size estimates.
func New(llm llms.Provider, roomsSvc rooms.Service, shaper *traffic.Shaper, cfg *config.ChatConfig, opts ...Option) *Service {
	chatCfg := config.ChatConfig{}
	if cfg != nil {
		chatCfg = *cfg
	}
	chatCfg.SetDefaults()

	s := &Service{
		llm:      llm,
		rooms:    roomsSvc,
		shaper:   shaper,
		guard:    rooms.NewGuard(),
		cfg:      chatCfg,
		provider: "unknown",
		settings: defaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}

	counter, err := tokens.NewCounter(llm.ModelName())
	if err != nil {
		s.logger.Warn("Token counter unavailable, using size estimates",
			"model", llm.ModelName(),
			"error", err)
	} else {
		s.counter = counter
	}
	return s
}

// Turn runs one blocking conversation turn and returns the stored
// assistant reply. The user and assistant messages are persisted only
// after the model call succeeds; a failed call leaves the history
// untouched but does not refund the consumed quota.
//
// Returns *Denial when the traffic shaper rejects the turn and
// rooms.ErrRoomNotFound when the room does not exist.
func (s *Service) Turn(ctx context.Context, roomID, text string) (*Reply, error) {
	ctx, span := s.tracer.StartChatTurn(ctx, roomID, false)
	defer span.End()

	t, err := s.prepare(ctx, roomID, text)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}
	defer t.release()

	start := time.Now()
	llmCtx, llmSpan := s.tracer.StartLLMCall(ctx, s.llm.ModelName(), len(t.messages))
	replyText, totalTokens, err := s.llm.Generate(llmCtx, t.messages)
	if err != nil {
		llmSpan.End()
		s.recordError(err)
		s.tracer.RecordError(span, err)
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	s.recordCompletion(llmSpan, t, replyText, totalTokens, time.Since(start))
	llmSpan.End()

	stored, err := s.persistExchange(ctx, t.roomID, t.userText, replyText)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}
	s.tracer.AddMessageID(span, stored.ID)
	return &Reply{RoomID: t.roomID, Message: *stored, Tokens: totalTokens}, nil
}

// StreamTurn runs one conversation turn and streams the reply as it is
// generated. Text chunks arrive first, then a done chunk after the
// exchange has been persisted. Denials and preflight failures are
// returned before any channel exists.
//
// The returned channel is closed when the stream ends. If ctx is
// cancelled mid-stream the turn is abandoned and nothing is persisted.
func (s *Service) StreamTurn(ctx context.Context, roomID, text string) (<-chan llms.StreamChunk, error) {
	ctx, span := s.tracer.StartChatTurn(ctx, roomID, true)

	t, err := s.prepare(ctx, roomID, text)
	if err != nil {
		s.tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	upstream, err := s.llm.GenerateStreaming(ctx, t.messages)
	if err != nil {
		t.release()
		s.recordError(err)
		s.tracer.RecordError(span, err)
		span.End()
		return nil, fmt.Errorf("failed to start completion: %w", err)
	}

	out := make(chan llms.StreamChunk, 16)
	go s.pump(ctx, t, span, upstream, out)
	return out, nil
}

// pump forwards provider chunks to out, persisting the exchange when
// the stream completes. After a cancellation it keeps draining the
// upstream channel so the provider goroutine can finish. The turn span
// ends when the stream does.
func (s *Service) pump(ctx context.Context, t *turn, span trace.Span, upstream <-chan llms.StreamChunk, out chan<- llms.StreamChunk) {
	defer close(out)
	defer t.release()
	defer span.End()

	var reply strings.Builder
	start := time.Now()
	abandoned := false
	for chunk := range upstream {
		if abandoned {
			continue
		}
		switch chunk.Type {
		case llms.ChunkText:
			reply.WriteString(chunk.Text)
		case llms.ChunkError:
			s.recordError(chunk.Error)
			s.tracer.RecordError(span, chunk.Error)
		case llms.ChunkDone:
			s.recordCompletion(span, t, reply.String(), chunk.Tokens, time.Since(start))
			// The request context may be cancelled the moment the
			// client sees the last token. Persist on a fresh one.
			persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			stored, err := s.persistExchange(persistCtx, t.roomID, t.userText, reply.String())
			if err != nil {
				s.logger.Error("Failed to persist chat turn", "room", t.roomID, "error", err)
			} else {
				s.tracer.AddMessageID(span, stored.ID)
			}
			cancel()
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			abandoned = true
		}
	}
}

// turn carries the state prepared for one model call. release must be
// called exactly once to let the next turn in the room proceed.
type turn struct {
	roomID   string
	userText string
	messages []llms.Message
	release  func()
}

// prepare validates the turn, takes the room's queue slot, charges the
// traffic bucket, and assembles the prompt. The queue slot is taken
// before the bucket is consulted so concurrent turns in one room
// receive their throttling decisions in arrival order.
func (s *Service) prepare(ctx context.Context, roomID, userText string) (*turn, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, fmt.Errorf("message text cannot be empty")
	}

	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	release, err := s.guard.Acquire(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to enter room queue: %w", err)
	}

	decision, err := s.shaper.Allow(ctx, bucketChat, "room:"+roomID)
	if err != nil {
		release()
		return nil, fmt.Errorf("chat throttle check failed: %w", err)
	}
	if !decision.Allowed {
		release()
		s.logger.Info("Chat turn denied",
			"room", roomID,
			"retry_after", decision.RetryAfterSeconds(),
			"blocked", decision.Blocked)
		return nil, &Denial{
			Bucket:     bucketChat,
			RetryAfter: decision.RetryAfterSeconds(),
			Blocked:    decision.Blocked,
		}
	}

	messages, err := s.buildPrompt(ctx, roomID, userText)
	if err != nil {
		release()
		return nil, err
	}

	return &turn{
		roomID:   roomID,
		userText: userText,
		messages: messages,
		release:  release,
	}, nil
}

// buildPrompt assembles the model input: system prompt, optional
// knowledge context, as much history as the token budget allows, and
// the new user message last. A failed knowledge lookup degrades to a
// prompt without context rather than failing the turn.
func (s *Service) buildPrompt(ctx context.Context, roomID, userText string) ([]llms.Message, error) {
	history, err := s.rooms.Messages(ctx, roomID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var prelude []llms.Message
	if s.cfg.SystemPrompt != "" {
		prelude = append(prelude, llms.SystemMessage(s.cfg.SystemPrompt))
	}
	if s.searcher != nil && len(s.cfg.KnowledgeIndexes) > 0 {
		knowledgeCtx, err := s.searcher.Context(ctx, userText, s.cfg.KnowledgeIndexes)
		if err != nil {
			s.logger.Warn("Knowledge lookup failed, continuing without context",
				"room", roomID,
				"error", err)
		} else if knowledgeCtx != "" {
			prelude = append(prelude, llms.SystemMessage("Relevant context:\n\n"+knowledgeCtx))
		}
	}
	userMsg := llms.UserMessage(userText)

	fixed := make([]llms.Message, 0, len(prelude)+1)
	fixed = append(fixed, prelude...)
	fixed = append(fixed, userMsg)
	budget := s.cfg.ContextTokenBudget - s.counter.CountMessages(fixed)
	fitted := s.counter.Fit(historyMessages(history), budget)

	messages := make([]llms.Message, 0, len(fixed)+len(fitted))
	messages = append(messages, prelude...)
	messages = append(messages, fitted...)
	messages = append(messages, userMsg)
	return messages, nil
}

// historyMessages converts stored messages to model input, oldest
// first. Roles are stored with the model's own names.
func historyMessages(history []rooms.Message) []llms.Message {
	converted := make([]llms.Message, 0, len(history))
	for _, msg := range history {
		converted = append(converted, llms.Message{
			Role:    llms.Role(msg.Role),
			Content: msg.Content,
		})
	}
	return converted
}

// persistExchange appends the user and assistant messages and returns
// the stored assistant message.
func (s *Service) persistExchange(ctx context.Context, roomID, userText, replyText string) (*rooms.Message, error) {
	if _, err := s.rooms.AppendMessage(ctx, roomID, rooms.Message{
		Role:    string(llms.RoleUser),
		Content: userText,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	s.recorder.RecordRoomMessage(string(llms.RoleUser))

	stored, err := s.rooms.AppendMessage(ctx, roomID, rooms.Message{
		Role:    string(llms.RoleAssistant),
		Content: replyText,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}
	s.recorder.RecordRoomMessage(string(llms.RoleAssistant))
	return stored, nil
}

func (s *Service) recordCompletion(span trace.Span, t *turn, replyText string, totalTokens int, elapsed time.Duration) {
	model := s.llm.ModelName()
	s.recorder.RecordLLMCall(model, s.provider, elapsed)

	input := s.counter.CountMessages(t.messages)
	output := totalTokens - input
	if output < 0 {
		// Provider did not report usage. Count the reply instead.
		output = s.counter.Count(replyText)
	}
	s.recorder.RecordLLMTokens(model, s.provider, input, output)

	s.tracer.AddLLMUsage(span, input, output)
	s.tracer.AddPayload(span, t.userText, replyText)
}

func (s *Service) recordError(err error) {
	errorType := "request"
	switch {
	case errors.Is(err, context.Canceled):
		errorType = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		errorType = "timeout"
	}
	s.recorder.RecordLLMError(s.llm.ModelName(), s.provider, errorType)
}
