package timeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-talk/server/internal/model"
)

// runTimelineContract 是内存与 Redis 实现共享的契约测试。
func runTimelineContract(t *testing.T, store Store) {
	ctx := context.Background()

	// 场景：连续追加，seq 递增，不同会话互不影响。
	t.Run("assigns seq per session", func(t *testing.T) {
		sid, other := uuid.NewString(), uuid.NewString()
		seq1, err := store.Append(ctx, sid, &model.Event{Type: model.EventUserMessage})
		require.NoError(t, err)
		seq2, err := store.Append(ctx, sid, &model.Event{Type: model.EventAssistantMessage})
		require.NoError(t, err)
		seqOther, err := store.Append(ctx, other, &model.Event{Type: model.EventUserMessage})
		require.NoError(t, err)

		assert.Equal(t, int64(1), seq1)
		assert.Equal(t, int64(2), seq2)
		assert.Equal(t, int64(1), seqOther)
	})

	// 场景：相同 EventID 重复追加，只存一条。
	t.Run("idempotent by event id", func(t *testing.T) {
		sid := uuid.NewString()
		seq1, err := store.Append(ctx, sid, &model.Event{Type: model.EventUserMessage, EventID: "evt-1"})
		require.NoError(t, err)
		seq2, err := store.Append(ctx, sid, &model.Event{Type: model.EventUserMessage, EventID: "evt-1"})
		require.NoError(t, err)
		assert.Equal(t, seq1, seq2)

		events, err := store.List(ctx, sid, 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
		assert.Equal(t, sid, events[0].SessionID)
		assert.False(t, events[0].ServerTS.IsZero())
	})

	t.Run("list after seq", func(t *testing.T) {
		sid := uuid.NewString()
		score := 0.8
		for _, typ := range []string{model.EventUserMessage, model.EventAnalysis, model.EventAssistantMessage} {
			_, err := store.Append(ctx, sid, &model.Event{Type: typ, Score: &score})
			require.NoError(t, err)
		}
		events, err := store.List(ctx, sid, 1)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventAnalysis, events[0].Type)
		assert.Equal(t, int64(3), events[1].Seq)
		require.NotNil(t, events[0].Score)
		assert.InDelta(t, 0.8, *events[0].Score, 1e-9)

		none, err := store.List(ctx, sid, 3)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestInMemoryStoreContract(t *testing.T) {
	runTimelineContract(t, NewInMemoryStore())
}

// TestInMemoryStoreListReturnsCopy 修改 List 返回的切片不影响内部数据。
func TestInMemoryStoreListReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", &model.Event{Type: model.EventUserMessage, Text: "hi"})
	require.NoError(t, err)

	events, err := store.List(ctx, "s1", 0)
	require.NoError(t, err)
	events[0].Type = "mutated"

	again, err := store.List(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, model.EventUserMessage, again[0].Type)
}

func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb, err := newTestRedis(addr)
	require.NoError(t, err)
	defer rdb.Close()

	runTimelineContract(t, NewRedisStore(rdb, "leadtalk:test:"+uuid.NewString()+":", time.Minute))
}
