package memory_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
)

func TestMemorySequencer_Increases(t *testing.T) {
	ctx := context.Background()
	s := memory.NewMemorySequencer()

	prev, err := s.Next(ctx)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		n, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestRedisSequencer_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := memory.NewRedisSequencer(client, "store")
	b := memory.NewRedisSequencer(client, "store")

	n1, err := a.Next(ctx)
	require.NoError(t, err)
	n2, err := b.Next(ctx)
	require.NoError(t, err)
	n3, err := a.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, []int64{n1, n2, n3})

	v, err := mr.Get("convmem:seq:store")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestRedisSequencer_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := memory.NewRedisSequencer(client, "").Next(context.Background())
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
}

func TestLedger_UsesRedisSequencer(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testConfig(t, newClock())
	cfg.Sequencer = memory.NewRedisSequencer(client, "ledger")
	ledger, err := memory.NewMessageLedger(newStore(t), cfg)
	require.NoError(t, err)
	defer ledger.Close()

	for i := 0; i < 3; i++ {
		_, err := ledger.Append(ctx, core.Message{UserID: "alice", SessionID: "s", Role: core.RoleUser, Content: "hola"})
		require.NoError(t, err)
	}
	history, err := ledger.History(ctx, "s", memory.Page{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(1), history[0].Seq)
	assert.Equal(t, int64(3), history[2].Seq)
}
