package memory

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/convmem/core"
)

// historyCache keeps ordered message lists per session and per user so that
// paging through a history does not rescan the store on every call.
//
// Entries are stamped with the key's generation when loading started. Any
// write bumps the generation, and an entry with an older stamp is ignored,
// so a load racing an append can never be served afterwards.
type historyCache struct {
	cache *ristretto.Cache

	mu   sync.Mutex
	gens map[string]uint64
}

type historyEntry struct {
	gen  uint64
	msgs []core.Message
}

func newHistoryCache(maxMessages int64) (*historyCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        max(maxMessages/10, 100),
		MaxCost:            maxMessages,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create history cache: %w", err)
	}
	return &historyCache{cache: cache, gens: make(map[string]uint64)}, nil
}

func sessionKey(id string) string { return "session:" + id }
func userKey(id string) string    { return "user:" + id }

// generation returns the current generation of key.
func (c *historyCache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// get returns the ordered messages for key if they are still current.
func (c *historyCache) get(key string) ([]core.Message, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(historyEntry)
	if e.gen != c.generation(key) {
		return nil, false
	}
	return e.msgs, true
}

// put stores msgs loaded while key was at generation gen.
func (c *historyCache) put(key string, gen uint64, msgs []core.Message) {
	if c.cache.Set(key, historyEntry{gen: gen, msgs: msgs}, int64(len(msgs))+1) {
		c.cache.Wait()
	}
}

// invalidate marks every given key as changed.
func (c *historyCache) invalidate(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		c.gens[k]++
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.cache.Del(k)
	}
}

func (c *historyCache) close() {
	c.cache.Close()
}
