package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"lead-talk/server/internal/model"
)

// InMemoryStore 是一个基于内存的 Timeline 存储实现。
type InMemoryStore struct {
	mu       sync.RWMutex
	events   map[string][]model.Event
	seq      map[string]int64
	eventIDs map[string]map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:   make(map[string][]model.Event),
		seq:      make(map[string]int64),
		eventIDs: make(map[string]map[string]int64),
	}
}

// Append 追加事件，并为该会话分配下一个 seq。
func (s *InMemoryStore) Append(_ context.Context, sessionID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.EventID != "" {
		if seq, ok := s.eventIDs[sessionID][evt.EventID]; ok {
			return seq, nil
		}
	}

	s.seq[sessionID]++
	seq := s.seq[sessionID]

	stored := *evt
	stored.Seq = seq
	stored.SessionID = sessionID
	if stored.ServerTS.IsZero() {
		stored.ServerTS = time.Now().UTC()
	}
	s.events[sessionID] = append(s.events[sessionID], stored)

	if evt.EventID != "" {
		if s.eventIDs[sessionID] == nil {
			s.eventIDs[sessionID] = make(map[string]int64)
		}
		s.eventIDs[sessionID][evt.EventID] = seq
	}
	return seq, nil
}

// List 返回副本，调用方修改不影响内部数据。
func (s *InMemoryStore) List(_ context.Context, sessionID string, afterSeq int64) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	start := sort.Search(len(events), func(i int) bool { return events[i].Seq > afterSeq })
	out := make([]model.Event, len(events)-start)
	copy(out, events[start:])
	return out, nil
}
