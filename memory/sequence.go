package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/becomeliminal/convmem/core"
)

// Sequencer hands out strictly increasing numbers used to order messages
// that share a timestamp.
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
}

// MemorySequencer is a process-local Sequencer.
// It is seeded from the wall clock so a restarted process keeps counting up.
type MemorySequencer struct {
	n atomic.Int64
}

// NewMemorySequencer creates a MemorySequencer.
func NewMemorySequencer() *MemorySequencer {
	s := &MemorySequencer{}
	s.n.Store(time.Now().UnixNano())
	return s
}

func (s *MemorySequencer) Next(_ context.Context) (int64, error) {
	return s.n.Add(1), nil
}

const sequenceKeyPrefix = "convmem:seq:"

// RedisSequencer shares one counter between every process pointed at the
// same Redis, so messages appended by different agents interleave in the
// order Redis saw them.
type RedisSequencer struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSequencer creates a RedisSequencer. name scopes the counter, usually
// to the store path.
func NewRedisSequencer(client redis.UniversalClient, name string) *RedisSequencer {
	if name == "" {
		name = "default"
	}
	return &RedisSequencer{
		client: client,
		key:    sequenceKeyPrefix + name,
	}
}

func (s *RedisSequencer) Next(ctx context.Context) (int64, error) {
	n, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, core.StorageUnavailable("sequence incr", err)
	}
	return n, nil
}
