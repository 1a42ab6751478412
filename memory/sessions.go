package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
)

// sessionNamespace scopes the SHA1 session ids.
var sessionNamespace = uuid.MustParse("5b0c3f3e-9d2a-4c8e-9a51-0f6f7d4c2b17")

// SessionID returns the stable session id for a user on a calendar day.
// It depends only on its arguments, so it survives restarts.
func SessionID(userID, date string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(userID+"\x00"+date)).String()
}

// SessionRegistry maps (user, calendar day) to a session.
type SessionRegistry struct {
	store  RecordStore
	cache  *ristretto.Cache
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewSessionRegistry creates a SessionRegistry over store.
func NewSessionRegistry(store RecordStore, config *Config) (*SessionRegistry, error) {
	config = config.withDefaults()

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.SessionCacheSize * 10,
		MaxCost:     config.SessionCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &SessionRegistry{
		store:  store,
		cache:  cache,
		loc:    config.Location,
		now:    config.Now,
		logger: config.Logger.Named("sessions"),
	}, nil
}

// ResolveOrCreate returns the session for userID on the day of asOf,
// creating the session record if this is the first call for that pair.
// A zero asOf means now.
//
// The id is derived from (user, day) and created_at is the start of that
// day, so concurrent first calls write the same record under the same key.
func (r *SessionRegistry) ResolveOrCreate(ctx context.Context, userID string, asOf time.Time) (string, error) {
	if err := core.RequireText("user_id", userID); err != nil {
		return "", err
	}
	if asOf.IsZero() {
		asOf = r.now()
	}
	date := asOf.In(r.loc).Format(dateLayout)
	id := SessionID(userID, date)

	if _, ok := r.cache.Get(id); ok {
		return id, nil
	}

	_, err := r.store.GetByID(ctx, CollectionSessions, id)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound):
		// Racing first resolutions write identical records.
		y, m, d := asOf.In(r.loc).Date()
		created := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
		sess := core.Session{ID: id, UserID: userID, Date: date, CreatedAt: created}
		if err := r.store.Put(ctx, CollectionSessions, sessionRecord(sess)); err != nil {
			return "", err
		}
		r.logger.Debug("session created",
			zap.String("user_id", userID),
			zap.String("session_id", id),
			zap.String("date", date))
	default:
		return "", err
	}

	r.cache.Set(id, struct{}{}, 1)
	return id, nil
}

// Get returns a session by id, or core.ErrNotFound.
func (r *SessionRegistry) Get(ctx context.Context, sessionID string) (core.Session, error) {
	rec, err := r.store.GetByID(ctx, CollectionSessions, sessionID)
	if err != nil {
		return core.Session{}, err
	}
	return decodeSession(rec)
}

// List returns every session of userID, newest day first.
func (r *SessionRegistry) List(ctx context.Context, userID string) ([]core.Session, error) {
	recs, err := r.store.GetByMetadata(ctx, CollectionSessions, Filter{keyUserID: userID})
	if err != nil {
		return nil, err
	}
	sessions := make([]core.Session, 0, len(recs))
	for _, rec := range recs {
		s, err := decodeSession(rec)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Date > sessions[j].Date
	})
	return sessions, nil
}

// forget drops deleted sessions from the cache so they are recreated on
// next use.
func (r *SessionRegistry) forget(ids ...string) {
	for _, id := range ids {
		r.cache.Del(id)
	}
}

// Close releases the cache.
func (r *SessionRegistry) Close() {
	r.cache.Close()
}
