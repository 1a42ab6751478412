package engine_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/engine"
	"github.com/becomeliminal/convmem/memory"
	"github.com/becomeliminal/convmem/memory/embedder/lexical"
	"github.com/becomeliminal/convmem/memory/store/chromem"
)

// fakeGenerator returns a canned answer and records the prompt.
type fakeGenerator struct {
	answer string
	err    error
	prompt string
}

func (g *fakeGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, g.err
}

// brokenStore fails every write.
type brokenStore struct {
	memory.RecordStore
}

func (brokenStore) Put(context.Context, string, memory.Record) error {
	return core.StorageUnavailable("put", errors.New("disk full"))
}

func newManager(t *testing.T, store memory.RecordStore) *memory.Manager {
	t.Helper()
	if store == nil {
		var err error
		store, err = chromem.New(chromem.Options{Embedder: lexical.New()})
		require.NoError(t, err)
	}
	cfg := memory.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	m, err := memory.NewManager(store, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func turn() memory.Turn {
	return memory.Turn{
		UserID:            "alice",
		UserMessage:       "Mi proyecto usa Django y PostgreSQL",
		ToolCalls:         []core.ToolCall{{Name: "dependency_scan", Content: "django==4.2"}},
		AssistantResponse: "Perfecto, revisaré la configuración de Django.",
	}
}

func TestRecord_SavesTurnAndFacts(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	gen := &fakeGenerator{answer: "```json\n" + `[
		{"category": "tech_stack", "fact": "Usa Django", "confidence": 0.9},
		{"category": "project_info", "fact": "Base de datos PostgreSQL", "confidence": 0.8},
		{"category": "hobbies", "fact": "Le gusta el ajedrez", "confidence": 0.9},
		{"category": "security", "fact": "Sin auditoría", "confidence": 3}
	]` + "\n```"}
	e := engine.New(m,
		engine.WithExtractor(engine.NewExtractor(gen, m, zaptest.NewLogger(t))),
		engine.WithLogger(zaptest.NewLogger(t)))

	res, err := e.Record(ctx, turn())
	require.NoError(t, err)
	assert.Empty(t, res.Notice)
	assert.Len(t, res.MessageIDs, 3)
	assert.Len(t, res.FactIDs, 2)
	assert.Contains(t, gen.prompt, "Tool dependency_scan: django==4.2")

	facts, err := m.ListFacts(ctx, "alice", memory.FactFilter{})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "Usa Django", facts[0].Text)
	assert.Equal(t, core.SourceConversation, facts[0].Source)
}

func TestRecord_ExtractionFailureIsNotFatal(t *testing.T) {
	m := newManager(t, nil)
	gen := &fakeGenerator{err: errors.New("rate limited")}
	e := engine.New(m, engine.WithExtractor(engine.NewExtractor(gen, m, nil)))

	res, err := e.Record(context.Background(), turn())
	require.NoError(t, err)
	assert.Empty(t, res.Notice)
	assert.Len(t, res.MessageIDs, 3)
	assert.Empty(t, res.FactIDs)
}

func TestRecord_DegradesWhenStorageFails(t *testing.T) {
	base, err := chromem.New(chromem.Options{Embedder: lexical.New()})
	require.NoError(t, err)
	m := newManager(t, brokenStore{RecordStore: base})
	e := engine.New(m)
	before := testutil.ToFloat64(memory.TurnsDegraded)

	res, err := e.Record(context.Background(), turn())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Notice)
	assert.Empty(t, res.MessageIDs)
	assert.Equal(t, before+1, testutil.ToFloat64(memory.TurnsDegraded))
}

func TestRecord_InvalidTurnIsReturned(t *testing.T) {
	m := newManager(t, nil)
	e := engine.New(m)
	before := testutil.ToFloat64(memory.TurnsDegraded)

	bad := turn()
	bad.AssistantResponse = "   "
	res, err := e.Record(context.Background(), bad)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.NotErrorIs(t, err, core.ErrStorageUnavailable)
	assert.Empty(t, res.Notice)
	assert.Empty(t, res.MessageIDs)
	assert.Equal(t, before, testutil.ToFloat64(memory.TurnsDegraded))

	stats, err := m.Statistics(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
}

func TestSystemPrompt(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	e := engine.New(m, engine.WithRecentLimit(2))

	assert.Equal(t, "Eres un asistente.", e.SystemPrompt(ctx, "Eres un asistente.", "alice"))

	_, err := m.SaveFact(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack, Text: "Usa Django", Confidence: 0.9})
	require.NoError(t, err)
	_, err = e.Record(ctx, turn())
	require.NoError(t, err)

	prompt := e.SystemPrompt(ctx, "Eres un asistente.", "alice")
	assert.True(t, strings.HasPrefix(prompt, "Eres un asistente.\n\n📌"))
	assert.Contains(t, prompt, "Usa Django (90%)")
	assert.Contains(t, prompt, "🤖")
	assert.NotContains(t, prompt, "👤", "only the two most recent messages")
}

func TestAnthropicGenerator(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "extract please")
		assert.Contains(t, string(body), "be terse")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "[]"}, {"type": "text", "text": " "}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 3, "output_tokens": 1}
		}`)
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	gen := engine.NewAnthropicGenerator(&client, "", 0)

	out, err := gen.Generate(context.Background(), "be terse", "extract please")
	require.NoError(t, err)
	assert.Equal(t, "[] ", out)
	assert.EqualValues(t, 1, calls.Load())
}
