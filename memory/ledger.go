package memory

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
)

// MessageLedger stores individual messages and rebuilds their order.
// Ordered histories are cached in process, so every write to the store's
// messages must go through this ledger (or call invalidate).
type MessageLedger struct {
	store     RecordStore
	sequencer Sequencer
	history   *historyCache
	config    *Config
	logger    *zap.Logger
}

// NewMessageLedger creates a MessageLedger over store.
func NewMessageLedger(store RecordStore, config *Config) (*MessageLedger, error) {
	config = config.withDefaults()
	history, err := newHistoryCache(config.HistoryCacheSize)
	if err != nil {
		return nil, err
	}
	return &MessageLedger{
		store:     store,
		sequencer: config.Sequencer,
		history:   history,
		config:    config,
		logger:    config.Logger.Named("ledger"),
	}, nil
}

// Append stores one message and returns its id.
// SessionID, UserID, Role and Content are required; a zero Timestamp means
// now. ID, Seq and ContentLength are assigned here.
func (l *MessageLedger) Append(ctx context.Context, msg core.Message) (string, error) {
	if err := validateMessage(msg); err != nil {
		return "", err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.config.Now()
	}
	seq, err := l.sequencer.Next(ctx)
	if err != nil {
		return "", err
	}
	msg.ID = uuid.NewString()
	msg.Seq = seq
	msg.ContentLength = utf8.RuneCountInString(msg.Content)

	rec, err := messageRecord(msg)
	if err != nil {
		return "", core.StorageUnavailable("encode message", err)
	}
	if err := l.store.Put(ctx, CollectionMessages, rec); err != nil {
		return "", err
	}
	l.invalidate(msg.UserID, msg.SessionID)

	l.logger.Debug("message appended",
		zap.String("user_id", msg.UserID),
		zap.String("session_id", msg.SessionID),
		zap.String("role", string(msg.Role)),
		zap.Int("content_length", msg.ContentLength))
	return msg.ID, nil
}

func validateMessage(msg core.Message) error {
	if err := core.RequireText("user_id", msg.UserID); err != nil {
		return err
	}
	if err := core.RequireText("session_id", msg.SessionID); err != nil {
		return err
	}
	if err := msg.Role.Validate(); err != nil {
		return err
	}
	return core.RequireText("content", msg.Content)
}

// Page selects a window of an ordered history.
type Page struct {
	// Offset skips this many messages from the start (or from the end when
	// Last is set).
	Offset int

	// Limit caps the number of messages returned. 0 means no cap.
	Limit int

	// Last takes the window from the newest end instead of the oldest.
	// Messages are still returned oldest first.
	Last bool
}

// History returns a session's messages in ledger order (timestamp, then
// insertion), windowed by page.
func (l *MessageLedger) History(ctx context.Context, sessionID string, page Page) ([]core.Message, error) {
	if page.Offset < 0 || page.Limit < 0 {
		return nil, core.InvalidArgumentf("negative page offset or limit")
	}
	msgs, err := l.ordered(ctx, sessionKey(sessionID), Filter{keySessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return window(msgs, page), nil
}

// RecentContext returns the limit most recent messages of userID across all
// sessions, oldest first.
func (l *MessageLedger) RecentContext(ctx context.Context, userID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		return nil, core.InvalidArgumentf("limit must be positive, got %d", limit)
	}
	msgs, err := l.ordered(ctx, userKey(userID), Filter{keyUserID: userID})
	if err != nil {
		return nil, err
	}
	return window(msgs, Page{Limit: limit, Last: true}), nil
}

// Get returns a message by id, or core.ErrNotFound.
func (l *MessageLedger) Get(ctx context.Context, messageID string) (core.Message, error) {
	rec, err := l.store.GetByID(ctx, CollectionMessages, messageID)
	if err != nil {
		return core.Message{}, err
	}
	return decodeMessage(rec)
}

// Hit is a message returned by semantic search.
type Hit struct {
	Message core.Message

	// Relevance is cosine similarity. Negative values are valid and mean
	// weak relevance.
	Relevance float32
}

// Search returns up to limit of userID's messages most similar to query.
// A non-empty role restricts results to that role.
func (l *MessageLedger) Search(ctx context.Context, userID, query string, limit int, role core.Role) ([]Hit, error) {
	if err := core.RequireText("user_id", userID); err != nil {
		return nil, err
	}
	if err := core.RequireText("query", query); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, core.InvalidArgumentf("limit must be positive, got %d", limit)
	}
	filter := Filter{keyUserID: userID}
	if role != "" {
		if err := role.Validate(); err != nil {
			return nil, err
		}
		filter[keyRole] = string(role)
	}

	results, err := l.store.Query(ctx, CollectionMessages, query, limit, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		// The filter already guarantees this; a store that ignores it must
		// still never leak another user's messages.
		if res.Metadata[keyUserID] != userID {
			l.logger.Warn("store returned a foreign record", zap.String("id", res.ID))
			continue
		}
		msg, err := decodeMessage(res.Record)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Message: msg, Relevance: res.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Relevance > hits[j].Relevance
	})
	return hits, nil
}

// ordered returns the messages matching filter in ledger order, from the
// history cache when it is current.
func (l *MessageLedger) ordered(ctx context.Context, key string, filter Filter) ([]core.Message, error) {
	if msgs, ok := l.history.get(key); ok {
		return msgs, nil
	}
	gen := l.history.generation(key)
	msgs, err := l.load(ctx, filter)
	if err != nil {
		return nil, err
	}
	l.history.put(key, gen, msgs)
	return msgs, nil
}

// invalidate drops cached histories of userID and the given sessions.
func (l *MessageLedger) invalidate(userID string, sessionIDs ...string) {
	keys := make([]string, 0, len(sessionIDs)+1)
	keys = append(keys, userKey(userID))
	for _, id := range sessionIDs {
		keys = append(keys, sessionKey(id))
	}
	l.history.invalidate(keys...)
}

// Close releases the history cache.
func (l *MessageLedger) Close() {
	l.history.close()
}

// load decodes and orders every message matching filter.
func (l *MessageLedger) load(ctx context.Context, filter Filter) ([]core.Message, error) {
	recs, err := l.store.GetByMetadata(ctx, CollectionMessages, filter)
	if err != nil {
		return nil, err
	}
	msgs := make([]core.Message, 0, len(recs))
	for _, rec := range recs {
		m, err := decodeMessage(rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
	return msgs, nil
}

func window(msgs []core.Message, page Page) []core.Message {
	n := len(msgs)
	start, end := page.Offset, n
	if page.Last {
		end = n - page.Offset
		start = 0
		if page.Limit > 0 {
			start = end - page.Limit
		}
	} else if page.Limit > 0 {
		end = start + page.Limit
	}
	start = clamp(start, 0, n)
	end = clamp(end, start, n)
	return append([]core.Message(nil), msgs[start:end]...)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roleCounts tallies messages by role, with every role present.
func roleCounts(recs []Record) map[core.Role]int {
	counts := make(map[core.Role]int, len(core.Roles))
	for _, r := range core.Roles {
		counts[r] = 0
	}
	for _, rec := range recs {
		role := core.Role(strings.TrimSpace(rec.Metadata[keyRole]))
		if role.Validate() == nil {
			counts[role]++
		}
	}
	return counts
}
