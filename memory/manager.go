package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory/textnorm"
)

// Manager is the memory surface an agent talks to. It composes the session
// registry, the message ledger and the fact store over one RecordStore.
//
// A Manager holds no per-user state; construct one per process (or per agent
// session) and pass it to whatever needs memory.
type Manager struct {
	store    RecordStore
	sessions *SessionRegistry
	ledger   *MessageLedger
	facts    *FactStore
	config   *Config
	logger   *zap.Logger
}

// NewManager creates a Manager. A nil config uses DefaultConfig.
func NewManager(store RecordStore, config *Config) (*Manager, error) {
	config = config.withDefaults()

	sessions, err := NewSessionRegistry(store, config)
	if err != nil {
		return nil, err
	}
	ledger, err := NewMessageLedger(store, config)
	if err != nil {
		sessions.Close()
		return nil, err
	}
	return &Manager{
		store:    store,
		sessions: sessions,
		ledger:   ledger,
		facts:    NewFactStore(store, config),
		config:   config,
		logger:   config.Logger.Named("memory"),
	}, nil
}

// Sessions returns the session registry.
func (m *Manager) Sessions() *SessionRegistry { return m.sessions }

// Ledger returns the message ledger.
func (m *Manager) Ledger() *MessageLedger { return m.ledger }

// Facts returns the fact store.
func (m *Manager) Facts() *FactStore { return m.facts }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return *m.config }

// Turn is one user message, the tools run to answer it, and the reply.
type Turn struct {
	UserID string

	// SessionID is resolved from UserID and At when empty.
	SessionID string

	UserMessage       string
	ToolCalls         []core.ToolCall
	AssistantResponse string

	// At is the time of the user message. Zero means now.
	At time.Time
}

// TurnResult reports what SaveTurn wrote.
type TurnResult struct {
	SessionID  string
	MessageIDs []string
}

// SaveTurn appends the user message, one message per tool call, and the
// assistant reply, in that order and with strictly increasing timestamps.
//
// The whole turn is validated before the first write. Writes are sequential,
// not transactional: on a storage error SaveTurn stops, returns what was
// written so far in the result, and leaves those records in place.
func (m *Manager) SaveTurn(ctx context.Context, turn Turn) (res TurnResult, err error) {
	ctx, done := observe(ctx, "save_turn", turn.UserID)
	defer func() { done(err) }()

	msgs, err := m.turnMessages(turn)
	if err != nil {
		return res, err
	}

	res.SessionID = turn.SessionID
	if res.SessionID == "" {
		res.SessionID, err = m.sessions.ResolveOrCreate(ctx, turn.UserID, turn.At)
		if err != nil {
			return res, err
		}
	}

	clock := m.config.Now
	if !turn.At.IsZero() {
		clock = func() time.Time { return turn.At }
	}
	var prev time.Time
	for _, msg := range msgs {
		ts := clock()
		if !ts.After(prev) {
			ts = prev.Add(time.Microsecond)
		}
		prev = ts

		msg.SessionID = res.SessionID
		msg.Timestamp = ts
		id, err := m.ledger.Append(ctx, msg)
		if err != nil {
			m.logger.Warn("turn partially saved",
				zap.String("user_id", turn.UserID),
				zap.String("session_id", res.SessionID),
				zap.Int("written", len(res.MessageIDs)),
				zap.Int("total", len(msgs)),
				zap.Error(err))
			return res, fmt.Errorf("save turn: %d of %d messages written: %w", len(res.MessageIDs), len(msgs), err)
		}
		res.MessageIDs = append(res.MessageIDs, id)
	}

	m.logger.Info("turn saved",
		zap.String("user_id", turn.UserID),
		zap.String("session_id", res.SessionID),
		zap.Int("tool_calls", len(turn.ToolCalls)))
	return res, nil
}

// turnMessages validates turn and expands it into ledger messages.
func (m *Manager) turnMessages(turn Turn) ([]core.Message, error) {
	if err := core.RequireText("user_id", turn.UserID); err != nil {
		return nil, err
	}
	if err := core.RequireText("user message", turn.UserMessage); err != nil {
		return nil, err
	}
	if err := core.RequireText("assistant response", turn.AssistantResponse); err != nil {
		return nil, err
	}

	msgs := make([]core.Message, 0, len(turn.ToolCalls)+2)
	msgs = append(msgs, core.Message{UserID: turn.UserID, Role: core.RoleUser, Content: turn.UserMessage})
	for i, call := range turn.ToolCalls {
		if err := core.RequireText(fmt.Sprintf("tool call %d name", i), call.Name); err != nil {
			return nil, err
		}
		if err := core.RequireText(fmt.Sprintf("tool call %d content", i), call.Content); err != nil {
			return nil, err
		}
		msgs = append(msgs, core.Message{
			UserID:   turn.UserID,
			Role:     core.RoleTool,
			ToolName: call.Name,
			Content:  textnorm.Truncate(call.Content, m.config.ToolContentLimit),
		})
	}
	msgs = append(msgs, core.Message{UserID: turn.UserID, Role: core.RoleAssistant, Content: turn.AssistantResponse})
	return msgs, nil
}

// SearchOptions narrows Search.
type SearchOptions struct {
	// Role restricts results to one role when non-empty.
	Role core.Role
}

// Search returns up to limit of userID's messages ranked by similarity to
// query. Other users' messages are never returned.
func (m *Manager) Search(ctx context.Context, userID, query string, limit int, opts SearchOptions) (hits []Hit, err error) {
	ctx, done := observe(ctx, "search", userID)
	defer func() { done(err) }()

	hits, err = m.ledger.Search(ctx, userID, query, limit, opts.Role)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("search",
		zap.String("user_id", userID),
		zap.String("query", textnorm.Truncate(query, 50)),
		zap.Int("hits", len(hits)))
	return hits, nil
}

// RecentContext returns the limit most recent messages of userID across
// sessions, oldest first. limit <= 0 uses Config.RecentLimit.
func (m *Manager) RecentContext(ctx context.Context, userID string, limit int) (msgs []core.Message, err error) {
	ctx, done := observe(ctx, "recent_context", userID)
	defer func() { done(err) }()

	if limit <= 0 {
		limit = m.config.RecentLimit
	}
	return m.ledger.RecentContext(ctx, userID, limit)
}

// FormatRecentContext renders RecentContext for a prompt. It returns "" when
// the user has no messages.
func (m *Manager) FormatRecentContext(ctx context.Context, userID string, limit int) (string, error) {
	msgs, err := m.RecentContext(ctx, userID, limit)
	if err != nil {
		return "", err
	}
	return formatMessages(msgs, m.config.Location, m.config.ContextLineLimit), nil
}

// SessionHistory returns a session's messages in order.
func (m *Manager) SessionHistory(ctx context.Context, sessionID string, page Page) (msgs []core.Message, err error) {
	ctx, done := observe(ctx, "history", "")
	defer func() { done(err) }()

	return m.ledger.History(ctx, sessionID, page)
}

// SaveFact stores or reinforces a fact.
func (m *Manager) SaveFact(ctx context.Context, in FactInput) (id string, err error) {
	ctx, done := observe(ctx, "save_fact", in.UserID)
	defer func() { done(err) }()

	return m.facts.Save(ctx, in)
}

// ListFacts returns userID's facts, highest confidence first.
func (m *Manager) ListFacts(ctx context.Context, userID string, filter FactFilter) (facts []core.Fact, err error) {
	ctx, done := observe(ctx, "list_facts", userID)
	defer func() { done(err) }()

	return m.facts.List(ctx, userID, filter)
}

// FactsSummary renders userID's trusted facts, or "" when there are none.
func (m *Manager) FactsSummary(ctx context.Context, userID string) (summary string, err error) {
	ctx, done := observe(ctx, "facts_summary", userID)
	defer func() { done(err) }()

	return m.facts.Summary(ctx, userID)
}

// BuildContext returns the facts summary and recent conversation joined for
// injection into a system prompt, or "" when memory has nothing for userID.
func (m *Manager) BuildContext(ctx context.Context, userID string) (string, error) {
	summary, err := m.FactsSummary(ctx, userID)
	if err != nil {
		return "", err
	}
	recent, err := m.FormatRecentContext(ctx, userID, 0)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, p := range []string{summary, recent} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// Stats is an aggregate view of one user's memory.
type Stats struct {
	UserID         string
	TotalMessages  int
	TotalSessions  int
	TotalFacts     int
	MessagesByRole map[core.Role]int

	// Storage is "persistent" or "in-memory".
	Storage string
}

// Statistics counts userID's messages, sessions and facts. It reflects
// whatever the store currently returns; there is no snapshot.
func (m *Manager) Statistics(ctx context.Context, userID string) (stats Stats, err error) {
	ctx, done := observe(ctx, "statistics", userID)
	defer func() { done(err) }()

	filter := Filter{keyUserID: userID}
	msgs, err := m.store.GetByMetadata(ctx, CollectionMessages, filter)
	if err != nil {
		return stats, err
	}
	sessions, err := m.store.GetByMetadata(ctx, CollectionSessions, filter)
	if err != nil {
		return stats, err
	}
	facts, err := m.store.GetByMetadata(ctx, CollectionFacts, filter)
	if err != nil {
		return stats, err
	}

	storage := "in-memory"
	if m.store.Persistent() {
		storage = "persistent"
	}
	return Stats{
		UserID:         userID,
		TotalMessages:  len(msgs),
		TotalSessions:  len(sessions),
		TotalFacts:     len(facts),
		MessagesByRole: roleCounts(msgs),
		Storage:        storage,
	}, nil
}

// Close releases the Manager's caches and the underlying store.
func (m *Manager) Close() error {
	m.sessions.Close()
	m.ledger.Close()
	return m.store.Close()
}
