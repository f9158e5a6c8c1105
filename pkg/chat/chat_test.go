package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidekit/aide/pkg/cache"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/kv"
	"github.com/aidekit/aide/pkg/llms"
	"github.com/aidekit/aide/pkg/observability"
	"github.com/aidekit/aide/pkg/ratelimit"
	"github.com/aidekit/aide/pkg/rooms"
	"github.com/aidekit/aide/pkg/traffic"
)

// fakeLLM is a scriptable provider. delay pauses Generate and spaces
// out stream chunks; chunks overrides the word-split streaming when set.
type fakeLLM struct {
	mu        sync.Mutex
	reply     string
	tokens    int
	err       error
	delay     time.Duration
	chunks    []string
	callCount int
	active    int
	maxActive int
	lastInput []llms.Message
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llms.Message) (string, int, error) {
	f.mu.Lock()
	f.callCount++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.lastInput = messages
	reply, tokens, err, delay := f.reply, f.tokens, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if err != nil {
		return "", 0, err
	}
	return reply, tokens, nil
}

func (f *fakeLLM) GenerateStreaming(ctx context.Context, messages []llms.Message) (<-chan llms.StreamChunk, error) {
	f.mu.Lock()
	f.callCount++
	f.lastInput = messages
	reply, tokens, err, delay, chunks := f.reply, f.tokens, f.err, f.delay, f.chunks
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		chunks = strings.SplitAfter(reply, " ")
	}
	out := make(chan llms.StreamChunk, 1)
	go func() {
		defer close(out)
		for _, text := range chunks {
			if delay > 0 {
				time.Sleep(delay)
			}
			out <- llms.StreamChunk{Type: llms.ChunkText, Text: text}
		}
		out <- llms.StreamChunk{Type: llms.ChunkDone, Tokens: tokens}
	}()
	return out, nil
}

func (f *fakeLLM) ModelName() string { return "fake-model" }
func (f *fakeLLM) Close() error      { return nil }

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func (f *fakeLLM) input() []llms.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llms.Message(nil), f.lastInput...)
}

func (f *fakeLLM) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeLLM) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newChatService(t *testing.T, llm llms.Provider, buckets map[string]*config.BucketConfig, chatCfg *config.ChatConfig, opts ...Option) (*Service, rooms.Service) {
	t.Helper()
	trafficCfg := &config.TrafficConfig{Buckets: buckets}
	trafficCfg.SetDefaults()
	require.NoError(t, trafficCfg.Validate())

	limiter := ratelimit.New(kv.NewMemoryStore(0))
	shaper := traffic.New(limiter, cache.New(cache.Options{TTL: time.Minute}), trafficCfg)

	roomsSvc := rooms.NewMemoryService(0)
	return New(llm, roomsSvc, shaper, chatCfg, opts...), roomsSvc
}

func makeRoom(t *testing.T, svc rooms.Service) *rooms.Room {
	t.Helper()
	room, err := svc.CreateRoom(context.Background(), "test room")
	require.NoError(t, err)
	return room
}

func TestTurn(t *testing.T) {
	llm := &fakeLLM{reply: "Hello there!", tokens: 42}
	svc, roomsSvc := newChatService(t, llm, nil, &config.ChatConfig{
		SystemPrompt:       "You are a helpful assistant.",
		ContextTokenBudget: 4096,
	})
	room := makeRoom(t, roomsSvc)

	reply, err := svc.Turn(context.Background(), room.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, room.ID, reply.RoomID)
	assert.Equal(t, "assistant", reply.Message.Role)
	assert.Equal(t, "Hello there!", reply.Message.Content)
	assert.NotEmpty(t, reply.Message.ID)
	assert.Equal(t, 42, reply.Tokens)

	input := llm.input()
	require.Len(t, input, 2)
	assert.Equal(t, llms.RoleSystem, input[0].Role)
	assert.Equal(t, "You are a helpful assistant.", input[0].Content)
	assert.Equal(t, llms.RoleUser, input[1].Role)
	assert.Equal(t, "hello", input[1].Content)

	history, err := roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "Hello there!", history[1].Content)
}

func TestTurn_NilConfig(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	svc, roomsSvc := newChatService(t, llm, nil, nil)
	assert.Equal(t, 8192, svc.cfg.ContextTokenBudget)

	room := makeRoom(t, roomsSvc)
	_, err := svc.Turn(context.Background(), room.ID, "hi")
	require.NoError(t, err)

	// No system prompt configured, so the user message stands alone.
	input := llm.input()
	require.Len(t, input, 1)
	assert.Equal(t, llms.RoleUser, input[0].Role)
}

func TestTurn_EmptyText(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	svc, roomsSvc := newChatService(t, llm, nil, nil)
	room := makeRoom(t, roomsSvc)

	_, err := svc.Turn(context.Background(), room.ID, "   \n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
	assert.Equal(t, 0, llm.calls())
}

func TestTurn_RoomNotFound(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	svc, _ := newChatService(t, llm, nil, nil)

	_, err := svc.Turn(context.Background(), "no-such-room", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, rooms.ErrRoomNotFound)
	assert.Equal(t, 0, llm.calls())
}

func TestTurn_Denied(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	buckets := map[string]*config.BucketConfig{
		"chat": {Window: config.Duration(time.Minute), Limit: 1},
	}
	svc, roomsSvc := newChatService(t, llm, buckets, nil)
	room := makeRoom(t, roomsSvc)

	_, err := svc.Turn(context.Background(), room.ID, "first")
	require.NoError(t, err)

	_, err = svc.Turn(context.Background(), room.ID, "second")
	require.Error(t, err)
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, "chat", denial.Bucket)
	assert.True(t, denial.Blocked)
	assert.GreaterOrEqual(t, denial.RetryAfter, 1)

	// The denied turn never reached the model or the history.
	assert.Equal(t, 1, llm.calls())
	history, err := roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestTurn_LLMFailureKeepsQuotaSpent(t *testing.T) {
	llm := &fakeLLM{err: errors.New("provider down")}
	buckets := map[string]*config.BucketConfig{
		"chat": {Window: config.Duration(time.Minute), Limit: 1},
	}
	svc, roomsSvc := newChatService(t, llm, buckets, nil)
	room := makeRoom(t, roomsSvc)

	_, err := svc.Turn(context.Background(), room.ID, "hello")
	require.Error(t, err)
	var denial *Denial
	assert.False(t, errors.As(err, &denial))

	// A failed call stores nothing.
	history, err := roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	// The consumed slot is not refunded, so the retry is denied.
	llm.setErr(nil)
	_, err = svc.Turn(context.Background(), room.ID, "retry")
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, 1, llm.calls())
}

func TestTurn_HistoryInPrompt(t *testing.T) {
	llm := &fakeLLM{reply: "More details."}
	svc, roomsSvc := newChatService(t, llm, nil, &config.ChatConfig{SystemPrompt: "Be brief."})
	room := makeRoom(t, roomsSvc)

	ctx := context.Background()
	_, err := roomsSvc.AppendMessage(ctx, room.ID, rooms.Message{Role: "user", Content: "What is Go?"})
	require.NoError(t, err)
	_, err = roomsSvc.AppendMessage(ctx, room.ID, rooms.Message{Role: "assistant", Content: "A programming language."})
	require.NoError(t, err)

	_, err = svc.Turn(ctx, room.ID, "Tell me more")
	require.NoError(t, err)

	input := llm.input()
	require.Len(t, input, 4)
	assert.Equal(t, llms.RoleSystem, input[0].Role)
	assert.Equal(t, "What is Go?", input[1].Content)
	assert.Equal(t, llms.RoleUser, input[1].Role)
	assert.Equal(t, "A programming language.", input[2].Content)
	assert.Equal(t, llms.RoleAssistant, input[2].Role)
	assert.Equal(t, "Tell me more", input[3].Content)
}

func TestTurn_HistoryTrimmedToBudget(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	svc, roomsSvc := newChatService(t, llm, nil, &config.ChatConfig{
		SystemPrompt:       "You are terse.",
		ContextTokenBudget: 60,
	})
	room := makeRoom(t, roomsSvc)

	ctx := context.Background()
	long := strings.Repeat("history padding words ", 20)
	for i := 0; i < 6; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := roomsSvc.AppendMessage(ctx, room.ID, rooms.Message{Role: role, Content: long})
		require.NoError(t, err)
	}

	_, err := svc.Turn(ctx, room.ID, "short question")
	require.NoError(t, err)

	// Every history message costs more than the leftover budget, so
	// the prompt is just the system prompt and the new message.
	input := llm.input()
	require.Len(t, input, 2)
	assert.Equal(t, llms.RoleSystem, input[0].Role)
	assert.Equal(t, "short question", input[1].Content)
}

func TestTurn_SerializesRoom(t *testing.T) {
	llm := &fakeLLM{reply: "done", delay: 15 * time.Millisecond}
	svc, roomsSvc := newChatService(t, llm, nil, nil)
	room := makeRoom(t, roomsSvc)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Turn(context.Background(), room.ID, "concurrent turn")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, llm.maxConcurrent())

	// Each exchange lands as an adjacent user/assistant pair.
	history, err := roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 8)
	for i := 0; i < 8; i += 2 {
		assert.Equal(t, "user", history[i].Role)
		assert.Equal(t, "assistant", history[i+1].Role)
	}
}

func TestStreamTurn(t *testing.T) {
	llm := &fakeLLM{reply: "streamed reply text", tokens: 77}
	svc, roomsSvc := newChatService(t, llm, nil, nil)
	room := makeRoom(t, roomsSvc)

	stream, err := svc.StreamTurn(context.Background(), room.ID, "hello")
	require.NoError(t, err)

	var text strings.Builder
	sawDone := false
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkText:
			text.WriteString(chunk.Text)
		case llms.ChunkDone:
			sawDone = true
			assert.Equal(t, 77, chunk.Tokens)
		case llms.ChunkError:
			t.Fatalf("unexpected error chunk: %v", chunk.Error)
		}
	}
	assert.True(t, sawDone)
	assert.Equal(t, "streamed reply text", text.String())

	history, err := roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "streamed reply text", history[1].Content)
}

func TestStreamTurn_Denied(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	buckets := map[string]*config.BucketConfig{
		"chat": {Window: config.Duration(time.Minute), Limit: 1},
	}
	svc, roomsSvc := newChatService(t, llm, buckets, nil)
	room := makeRoom(t, roomsSvc)

	stream, err := svc.StreamTurn(context.Background(), room.ID, "first")
	require.NoError(t, err)
	for range stream {
	}

	_, err = svc.StreamTurn(context.Background(), room.ID, "second")
	require.Error(t, err)
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, "chat", denial.Bucket)
}

func TestStreamTurn_StartupFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("provider down")}
	svc, roomsSvc := newChatService(t, llm, nil, nil)
	room := makeRoom(t, roomsSvc)

	_, err := svc.StreamTurn(context.Background(), room.ID, "hello")
	require.Error(t, err)

	history, err := roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	// The room is not left locked by the failed attempt.
	llm.setErr(nil)
	stream, err := svc.StreamTurn(context.Background(), room.ID, "retry")
	require.NoError(t, err)
	for range stream {
	}
	history, err = roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestStreamTurn_CancelledMidStream(t *testing.T) {
	chunks := make([]string, 40)
	for i := range chunks {
		chunks[i] = "x "
	}
	llm := &fakeLLM{chunks: chunks, tokens: 40, delay: 3 * time.Millisecond}
	svc, roomsSvc := newChatService(t, llm, nil, nil)
	room := makeRoom(t, roomsSvc)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := svc.StreamTurn(ctx, room.ID, "hello")
	require.NoError(t, err)

	<-stream
	cancel()

	// Leave the channel unread so the forwarder has to notice the
	// cancellation, then collect whatever it managed to send.
	time.Sleep(400 * time.Millisecond)
	sawDone := false
	for chunk := range stream {
		if chunk.Type == llms.ChunkDone {
			sawDone = true
		}
	}
	assert.False(t, sawDone)

	history, err := roomsSvc.Messages(context.Background(), room.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// captureRecorder collects the metric calls a turn makes.
type captureRecorder struct {
	observability.NoopMetrics
	mu           sync.Mutex
	llmCalls     [][2]string
	tokenRecords [][2]int
	roomMessages []string
}

func (c *captureRecorder) RecordLLMCall(model, provider string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llmCalls = append(c.llmCalls, [2]string{model, provider})
}

func (c *captureRecorder) RecordLLMTokens(model, provider string, inputTokens, outputTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenRecords = append(c.tokenRecords, [2]int{inputTokens, outputTokens})
}

func (c *captureRecorder) RecordRoomMessage(role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomMessages = append(c.roomMessages, role)
}

func TestTurn_RecordsMetrics(t *testing.T) {
	llm := &fakeLLM{reply: "Hello!", tokens: 400}
	rec := &captureRecorder{}
	svc, roomsSvc := newChatService(t, llm, nil, &config.ChatConfig{SystemPrompt: "Hi."},
		WithProviderLabel("anthropic"), WithRecorder(rec))
	room := makeRoom(t, roomsSvc)

	_, err := svc.Turn(context.Background(), room.ID, "hello")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.llmCalls, 1)
	assert.Equal(t, [2]string{"fake-model", "anthropic"}, rec.llmCalls[0])

	require.Len(t, rec.tokenRecords, 1)
	input, output := rec.tokenRecords[0][0], rec.tokenRecords[0][1]
	assert.Positive(t, input)
	assert.Positive(t, output)
	assert.Equal(t, 400, input+output)

	assert.Equal(t, []string{"user", "assistant"}, rec.roomMessages)
}
