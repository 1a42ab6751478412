package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
	"github.com/becomeliminal/convmem/memory/embedder/lexical"
	"github.com/becomeliminal/convmem/memory/store/chromem"
)

// testClock ticks one millisecond per reading.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T) memory.RecordStore {
	t.Helper()
	store, err := chromem.New(chromem.Options{Embedder: lexical.New()})
	require.NoError(t, err)
	return store
}

func testConfig(t *testing.T, clock *testClock) *memory.Config {
	cfg := memory.DefaultConfig()
	cfg.Location = time.UTC
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Now = clock.Now
	return cfg
}

func newManager(t *testing.T) (*memory.Manager, memory.RecordStore, *testClock) {
	t.Helper()
	clock := newClock()
	store := newStore(t)
	m, err := memory.NewManager(store, testConfig(t, clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, store, clock
}

var errBackendDown = errors.New("backend down")

// flakyStore fails every Put to collection after allow successful ones.
type flakyStore struct {
	memory.RecordStore
	collection string
	allow      int64
	puts       atomic.Int64
}

func (s *flakyStore) Put(ctx context.Context, collection string, rec memory.Record) error {
	if collection == s.collection && s.puts.Add(1) > s.allow {
		return core.StorageUnavailable("put "+collection, errBackendDown)
	}
	return s.RecordStore.Put(ctx, collection, rec)
}

// countingStore counts writes per collection.
type countingStore struct {
	memory.RecordStore
	mu   sync.Mutex
	puts map[string]int
}

func (s *countingStore) Put(ctx context.Context, collection string, rec memory.Record) error {
	s.mu.Lock()
	if s.puts == nil {
		s.puts = make(map[string]int)
	}
	s.puts[collection]++
	s.mu.Unlock()
	return s.RecordStore.Put(ctx, collection, rec)
}

// readingStore counts GetByMetadata calls per collection.
type readingStore struct {
	memory.RecordStore
	reads atomic.Int64
}

func (s *readingStore) GetByMetadata(ctx context.Context, collection string, filter memory.Filter) ([]memory.Record, error) {
	s.reads.Add(1)
	return s.RecordStore.GetByMetadata(ctx, collection, filter)
}

func (s *countingStore) Puts(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[collection]
}
