package memory

import (
	"context"
)

// Collection names. Every record in every collection carries user_id in its
// metadata and every read filters on it.
const (
	CollectionMessages = "conversation_messages"
	CollectionSessions = "conversation_sessions"
	CollectionFacts    = "user_facts"
)

// Metadata keys shared by the collection schemas.
const (
	keyUserID        = "user_id"
	keySessionID     = "session_id"
	keyRole          = "role"
	keyTimestamp     = "timestamp"
	keySeq           = "seq"
	keyContentLength = "content_length"
	keyToolName      = "tool_name"
	keyDate          = "date"
	keyCreatedAt     = "created_at"
	keyUpdatedAt     = "updated_at"
	keyCategory      = "category"
	keyConfidence    = "confidence"
	keySource        = "source"
)

// Filter is an exact-match metadata filter. A record matches when every key
// is present with an equal value.
type Filter map[string]string

// Record is a text payload plus metadata, stored under a stable ID.
// The store derives and keeps the embedding itself.
type Record struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// ScoredRecord is a Record returned by similarity search.
// Score is cosine similarity in [-1, 1]; it is not a probability.
type ScoredRecord struct {
	Record
	Score float32
}

// RecordStore is the vector record capability the memory subsystem sits on.
// Implementations must be safe for concurrent use and must wrap failures in
// core.ErrStorageUnavailable (core.ErrNotFound for GetByID misses).
type RecordStore interface {
	// Put upserts rec by ID.
	Put(ctx context.Context, collection string, rec Record) error

	// Query returns up to limit records matching filter, most similar to
	// text first. An empty collection yields an empty slice.
	Query(ctx context.Context, collection, text string, limit int, filter Filter) ([]ScoredRecord, error)

	// GetByMetadata returns every record matching filter, unordered.
	GetByMetadata(ctx context.Context, collection string, filter Filter) ([]Record, error)

	// GetByID returns a single record or core.ErrNotFound.
	GetByID(ctx context.Context, collection, id string) (Record, error)

	// Delete removes the given ids. Unknown ids are ignored.
	Delete(ctx context.Context, collection string, ids ...string) error

	// Persistent reports whether writes survive a process restart.
	Persistent() bool

	// Close releases resources.
	Close() error
}

// Embedder converts text to vectors for a RecordStore.
type Embedder interface {
	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding size.
	Dimensions() int
}
