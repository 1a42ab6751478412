package chromem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
)

// Options configures a ChromemStore.
type Options struct {
	// Path is the on-disk directory. Empty keeps everything in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// Embedder computes embeddings for stored text and queries. Required.
	Embedder memory.Embedder

	Logger *zap.Logger
}

// ChromemStore is a memory.RecordStore backed by chromem-go, a pure Go
// embedded vector database.
type ChromemStore struct {
	db          *chromem.DB
	embedder    memory.Embedder
	persistent  bool
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger

	// anchor is any valid-length vector, used for unranked filtered reads.
	anchorMu sync.Mutex
	anchor   []float32
}

var _ memory.RecordStore = (*ChromemStore)(nil)

// New creates a chromem-backed store.
func New(opts Options) (*ChromemStore, error) {
	if opts.Embedder == nil {
		return nil, core.InvalidArgumentf("chromem store needs an embedder")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	db := chromem.NewDB()
	if opts.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, core.StorageUnavailable("open "+opts.Path, err)
		}
	}

	return &ChromemStore{
		db:          db,
		embedder:    opts.Embedder,
		persistent:  opts.Path != "",
		collections: make(map[string]*chromem.Collection),
		logger:      opts.Logger.Named("chromem"),
	}, nil
}

// collection returns the named collection, creating it on first use.
func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	// Always pass our own embedding func; chromem falls back to OpenAI otherwise.
	col, err := s.db.GetOrCreateCollection(name, nil, s.embedFunc)
	if err != nil {
		return nil, core.StorageUnavailable("open collection "+name, err)
	}

	s.collections[name] = col
	return col, nil
}

func (s *ChromemStore) embedFunc(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// Put upserts rec, embedding its text.
func (s *ChromemStore) Put(ctx context.Context, collection string, rec memory.Record) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	embedding, err := s.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return core.StorageUnavailable("embed "+collection, err)
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: embedding,
		Metadata:  rec.Metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return core.StorageUnavailable("put "+collection, err)
	}

	s.logger.Debug("stored", zap.String("collection", collection), zap.String("id", rec.ID))
	return nil
}

// Query returns records matching filter, most similar to text first.
func (s *ChromemStore) Query(ctx context.Context, collection, text string, limit int, filter memory.Filter) ([]memory.ScoredRecord, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, core.StorageUnavailable("embed query", err)
	}

	results, err := s.queryEmbedding(ctx, col, embedding, limit, filter)
	if err != nil {
		return nil, core.StorageUnavailable("query "+collection, err)
	}

	records := make([]memory.ScoredRecord, 0, len(results))
	for _, r := range results {
		records = append(records, memory.ScoredRecord{
			Record: toRecord(r.ID, r.Content, r.Metadata),
			Score:  r.Similarity,
		})
	}
	return records, nil
}

// GetByMetadata returns every record matching filter.
//
// chromem-go has no listing API, so this queries with nResults equal to the
// collection size: the where filter runs first and every match comes back.
func (s *ChromemStore) GetByMetadata(ctx context.Context, collection string, filter memory.Filter) ([]memory.Record, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if col.Count() == 0 {
		return nil, nil
	}

	anchor, err := s.anchorVector(ctx)
	if err != nil {
		return nil, core.StorageUnavailable("embed anchor", err)
	}

	results, err := s.queryEmbedding(ctx, col, anchor, 0, filter)
	if err != nil {
		return nil, core.StorageUnavailable("get "+collection, err)
	}

	records := make([]memory.Record, 0, len(results))
	for _, r := range results {
		records = append(records, toRecord(r.ID, r.Content, r.Metadata))
	}
	return records, nil
}

// queryEmbedding runs a filtered query for up to limit results (0 means the
// whole collection). chromem-go requires nResults <= collection size, and
// the size can shrink between Count and the query, so retry with a fresh count.
func (s *ChromemStore) queryEmbedding(ctx context.Context, col *chromem.Collection, embedding []float32, limit int, filter memory.Filter) ([]chromem.Result, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		n := col.Count()
		if limit > 0 && limit < n {
			n = limit
		}
		if n == 0 {
			return nil, nil
		}

		results, err := col.QueryEmbedding(ctx, embedding, n, filter, nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// anchorVector returns a vector of the embedder's length, computed once.
func (s *ChromemStore) anchorVector(ctx context.Context) ([]float32, error) {
	s.anchorMu.Lock()
	defer s.anchorMu.Unlock()

	if s.anchor != nil {
		return s.anchor, nil
	}
	v, err := s.embedder.Embed(ctx, "anchor")
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errors.New("embedder returned an empty vector")
	}
	s.anchor = v
	return v, nil
}

// GetByID returns a record or core.ErrNotFound.
func (s *ChromemStore) GetByID(ctx context.Context, collection, id string) (memory.Record, error) {
	if id == "" {
		return memory.Record{}, core.InvalidArgumentf("empty record id")
	}
	col, err := s.collection(collection)
	if err != nil {
		return memory.Record{}, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return memory.Record{}, core.NotFoundf("%s record %s", collection, id)
		}
		return memory.Record{}, core.StorageUnavailable("get "+collection, err)
	}
	return toRecord(doc.ID, doc.Content, doc.Metadata), nil
}

// Delete removes the given ids.
func (s *ChromemStore) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return core.StorageUnavailable("delete "+collection, err)
	}

	s.logger.Debug("deleted", zap.String("collection", collection), zap.Int("count", len(ids)))
	return nil
}

// Persistent reports whether the store writes to disk.
func (s *ChromemStore) Persistent() bool {
	return s.persistent
}

// Close releases resources. chromem-go writes through on every Put, so there
// is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

func toRecord(id, content string, metadata map[string]string) memory.Record {
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return memory.Record{ID: id, Text: content, Metadata: meta}
}

// isInsufficientDocsError checks if error is due to nResults exceeding the
// collection size.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "nResults must be") ||
		strings.Contains(err.Error(), "number of documents")
}

// String describes the store for logs.
func (s *ChromemStore) String() string {
	mode := "in-memory"
	if s.persistent {
		mode = "persistent"
	}
	return fmt.Sprintf("chromem(%s)", mode)
}
