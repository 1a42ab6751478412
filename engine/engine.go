package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
)

// DefaultRecentLimit is the number of recent messages injected into the
// system prompt.
const DefaultRecentLimit = 5

// Engine runs the memory phases around one agent turn: it enriches the
// system prompt before the model is called and records the turn afterwards.
// Memory failures never stop the conversation.
type Engine struct {
	memory      *memory.Manager
	extractor   *Extractor // Optional: learn facts from each turn
	logger      *zap.Logger
	recentLimit int
}

// Option configures the engine.
type Option func(*Engine)

// WithExtractor enables fact extraction after each recorded turn.
func WithExtractor(x *Extractor) Option {
	return func(e *Engine) {
		e.extractor = x
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRecentLimit sets how many recent messages are injected.
func WithRecentLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.recentLimit = n
		}
	}
}

// New creates an engine over m.
func New(m *memory.Manager, opts ...Option) *Engine {
	e := &Engine{
		memory:      m,
		logger:      zap.NewNop(),
		recentLimit: DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SystemPrompt appends what memory knows about userID to base: the facts
// summary first, then the recent conversation. If memory cannot be read the
// base prompt is returned unchanged.
func (e *Engine) SystemPrompt(ctx context.Context, base, userID string) string {
	var parts []string
	if base != "" {
		parts = append(parts, base)
	}

	// === PHASE 0: RETRIEVE ===
	facts, err := e.memory.FactsSummary(ctx, userID)
	if err != nil {
		e.logger.Warn("facts summary unavailable", zap.String("user_id", userID), zap.Error(err))
	} else if facts != "" {
		parts = append(parts, facts)
	}

	recent, err := e.memory.FormatRecentContext(ctx, userID, e.recentLimit)
	if err != nil {
		e.logger.Warn("recent context unavailable", zap.String("user_id", userID), zap.Error(err))
	} else if recent != "" {
		parts = append(parts, recent)
	}

	return strings.Join(parts, "\n\n")
}

// RecordResult reports what Record persisted.
type RecordResult struct {
	SessionID  string
	MessageIDs []string
	FactIDs    []string

	// Notice is a user-facing warning when memory was degraded, empty
	// otherwise. The caller shows it and carries on.
	Notice string
}

// Record saves the turn and, when an extractor is configured, learns facts
// from it.
//
// Only storage failures degrade: the result carries a Notice and the error
// is nil, so the conversation goes on without memory. Any other SaveTurn
// error, such as an invalid turn, is returned.
func (e *Engine) Record(ctx context.Context, turn memory.Turn) (*RecordResult, error) {
	// === PHASE 1: RECORD ===
	saved, err := e.memory.SaveTurn(ctx, turn)
	result := &RecordResult{
		SessionID:  saved.SessionID,
		MessageIDs: saved.MessageIDs,
	}
	if err != nil {
		if !errors.Is(err, core.ErrStorageUnavailable) {
			return result, err
		}
		memory.TurnsDegraded.Inc()
		e.logger.Error("turn not saved",
			zap.String("user_id", turn.UserID),
			zap.Int("written", len(saved.MessageIDs)),
			zap.Error(err))
		result.Notice = fmt.Sprintf("⚠️ No se pudo guardar la conversación en memoria (%v). La sesión continúa sin memoria persistente.", err)
		return result, nil
	}

	// === PHASE 2: LEARN ===
	if e.extractor == nil {
		return result, nil
	}
	ids, err := e.extractor.Extract(ctx, turn)
	result.FactIDs = ids
	if err != nil {
		e.logger.Warn("fact extraction failed",
			zap.String("user_id", turn.UserID),
			zap.Int("saved", len(ids)),
			zap.Error(err))
	}
	return result, nil
}
