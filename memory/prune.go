package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
)

// PruneOptions controls Prune.
type PruneOptions struct {
	// OlderThan is the retention age. Zero uses Config.Retention.
	OlderThan time.Duration

	// Facts also removes facts not updated within OlderThan.
	Facts bool
}

// PruneResult counts deleted records.
type PruneResult struct {
	Messages int
	Sessions int
	Facts    int
}

// Prune permanently deletes userID's records older than the retention age:
// messages by timestamp, sessions left without messages, and optionally
// facts by last update. Nothing calls Prune on its own.
func (m *Manager) Prune(ctx context.Context, userID string, opts PruneOptions) (res PruneResult, err error) {
	ctx, done := observe(ctx, "prune", userID)
	defer func() { done(err) }()

	if err := core.RequireText("user_id", userID); err != nil {
		return res, err
	}
	if opts.OlderThan < 0 {
		return res, core.InvalidArgumentf("retention must not be negative, got %s", opts.OlderThan)
	}
	if opts.OlderThan == 0 {
		opts.OlderThan = m.config.Retention
	}
	cutoff := m.config.Now().Add(-opts.OlderThan)
	filter := Filter{keyUserID: userID}

	msgs, err := m.ledger.load(ctx, filter)
	if err != nil {
		return res, err
	}
	var staleMsgs []string
	live := make(map[string]bool)
	touched := make(map[string]bool)
	for _, msg := range msgs {
		if msg.Timestamp.Before(cutoff) {
			staleMsgs = append(staleMsgs, msg.ID)
			touched[msg.SessionID] = true
			continue
		}
		live[msg.SessionID] = true
	}

	sessions, err := m.sessions.List(ctx, userID)
	if err != nil {
		return res, err
	}
	var staleSessions []string
	for _, s := range sessions {
		if s.CreatedAt.Before(cutoff) && !live[s.ID] {
			staleSessions = append(staleSessions, s.ID)
		}
	}

	var staleFacts []string
	if opts.Facts {
		facts, err := m.facts.List(ctx, userID, FactFilter{})
		if err != nil {
			return res, err
		}
		for _, f := range facts {
			if f.UpdatedAt.Before(cutoff) {
				staleFacts = append(staleFacts, f.ID)
			}
		}
	}

	if len(staleMsgs) > 0 {
		err := m.store.Delete(ctx, CollectionMessages, staleMsgs...)
		sessionIDs := make([]string, 0, len(touched))
		for id := range touched {
			sessionIDs = append(sessionIDs, id)
		}
		m.ledger.invalidate(userID, sessionIDs...)
		if err != nil {
			return res, err
		}
		res.Messages = len(staleMsgs)
	}
	if len(staleSessions) > 0 {
		if err := m.store.Delete(ctx, CollectionSessions, staleSessions...); err != nil {
			return res, err
		}
		m.sessions.forget(staleSessions...)
		res.Sessions = len(staleSessions)
	}
	if len(staleFacts) > 0 {
		if err := m.store.Delete(ctx, CollectionFacts, staleFacts...); err != nil {
			return res, err
		}
		res.Facts = len(staleFacts)
	}

	m.logger.Info("pruned",
		zap.String("user_id", userID),
		zap.Time("cutoff", cutoff),
		zap.Int("messages", res.Messages),
		zap.Int("sessions", res.Sessions),
		zap.Int("facts", res.Facts))
	return res, nil
}
