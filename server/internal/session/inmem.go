package session

import (
	"context"
	"sync"
	"time"

	"lead-talk/server/internal/model"
)

// InMemoryStore 是一个基于内存的 Session 存储实现。
// 重启即丢数据；多实例部署使用 RedisStore 或 GormStore。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.SessionState
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]*model.SessionState), now: time.Now}
}

// Create 保存新会话的副本。
func (s *InMemoryStore) Create(_ context.Context, state *model.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[state.SessionID]; ok {
		return ErrExists
	}
	cp := state.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.data[state.SessionID] = cp
	return nil
}

// Get 根据 SessionID 获取 SessionState 副本。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// Update 在写锁内执行 apply，保证同一会话的更新不会交错。
func (s *InMemoryStore) Update(_ context.Context, id string, apply func(*model.SessionState) error) (*model.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	next.SessionID = id
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()
	s.data[id] = next
	return next.Clone(), nil
}
