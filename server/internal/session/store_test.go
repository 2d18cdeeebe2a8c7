package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-talk/server/internal/model"
)

func newState(id string) *model.SessionState {
	return &model.SessionState{
		SessionID:       id,
		ValidationState: model.ValidationNone,
		MeetingState:    model.MeetingNotStarted,
		Messages: []model.ConversationTurn{{
			ID: "t1", Role: model.RoleAssistant, Content: "Hi!", SessionID: id,
			QuickReplies: []model.QuickReply{{Label: "Idea", SubmittedText: "I have an idea"}},
		}},
		MessageCount: 1,
	}
}

// runStoreContract 是所有后端共享的契约测试。
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create and get", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Create(ctx, newState(id)))
		assert.ErrorIs(t, store.Create(ctx, newState(id)), ErrExists)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.SessionID)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "Hi!", got.Messages[0].Content)
		assert.Equal(t, "I have an idea", got.Messages[0].QuickReplies[0].SubmittedText)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("returned snapshot is a copy", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Create(ctx, newState(id)))
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		got.Messages[0].Content = "mutated"
		got.ValidationScore = 0.99

		again, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Hi!", again.Messages[0].Content)
		assert.Equal(t, 0.0, again.ValidationScore)
	})

	t.Run("update applies and persists", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Create(ctx, newState(id)))

		updated, err := store.Update(ctx, id, func(s *model.SessionState) error {
			s.Messages = append(s.Messages, model.ConversationTurn{ID: "t2", Role: model.RoleUser, Content: "hello", SessionID: id})
			s.MessageCount = len(s.Messages)
			s.ValidationScore = 0.42
			s.ValidationState = model.ValidationInsufficient
			s.ScoreDetails = &model.ScoreDetails{IntentCriteria: model.IntentCriteria{"isAIRole": true}}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.MessageCount)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, got.MessageCount)
		assert.Len(t, got.Messages, 2)
		assert.InDelta(t, 0.42, got.ValidationScore, 1e-9)
		assert.Equal(t, model.ValidationInsufficient, got.ValidationState)
		require.NotNil(t, got.ScoreDetails)
		assert.Equal(t, true, got.ScoreDetails.IntentCriteria["isAIRole"])
	})

	t.Run("update error leaves state untouched", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Create(ctx, newState(id)))
		boom := errors.New("boom")
		_, err := store.Update(ctx, id, func(s *model.SessionState) error {
			s.ValidationScore = 1
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got.ValidationScore)
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := store.Update(ctx, uuid.NewString(), func(*model.SessionState) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewInMemoryStore())
}

// TestInMemoryStoreConcurrentUpdates 并发追加不丢消息。
func TestInMemoryStoreConcurrentUpdates(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newState("s1")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, "s1", func(s *model.SessionState) error {
				s.Messages = append(s.Messages, model.ConversationTurn{ID: fmt.Sprintf("u%d", i), Role: model.RoleUser})
				s.MessageCount = len(s.Messages)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 21, got.MessageCount)
	assert.Len(t, got.Messages, 21)
}

func TestGormStoreSQLiteContract(t *testing.T) {
	db, err := OpenGorm("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	runStoreContract(t, store)
}

func TestOpenGormRejectsUnknownBackend(t *testing.T) {
	_, err := OpenGorm("mysql", "dsn")
	assert.Error(t, err)
}

// TestRedisStoreContract 需要真实 Redis，未设置 REDIS_ADDR 时跳过。
func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), addr, 0)
	require.NoError(t, err)
	defer rdb.Close()

	prefix := "leadtalk:test:" + uuid.NewString() + ":"
	runStoreContract(t, NewRedisStore(rdb, prefix, time.Minute))

	keys, err := rdb.Keys(context.Background(), prefix+"*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, rdb.Del(context.Background(), keys...).Err())
	}
}
