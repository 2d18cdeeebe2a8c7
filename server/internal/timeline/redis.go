package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"lead-talk/server/internal/model"
)

// RedisStore 把每个会话的事件存成一个 Redis 列表。
//
// 键布局（prefix 默认 leadtalk:timeline:）：
//   - <prefix><id>:seq    INCR 计数器
//   - <prefix><id>:events 按 seq 顺序的 JSON 事件列表
//   - <prefix><id>:ids    EventID -> seq 的哈希，用于去重
//
// 同一会话的追加由编排器串行化，这里不再额外加锁。
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "leadtalk:timeline:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error) {
	base := s.prefix + sessionID
	if evt.EventID != "" {
		seq, err := s.rdb.HGet(ctx, base+":ids", evt.EventID).Int64()
		if err == nil {
			return seq, nil
		}
		if !errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("redis hget: %w", err)
		}
	}

	seq, err := s.rdb.Incr(ctx, base+":seq").Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}

	stored := *evt
	stored.Seq = seq
	stored.SessionID = sessionID
	if stored.ServerTS.IsZero() {
		stored.ServerTS = time.Now().UTC()
	}
	raw, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, base+":events", raw)
		if evt.EventID != "" {
			p.HSet(ctx, base+":ids", evt.EventID, strconv.FormatInt(seq, 10))
		}
		if s.ttl > 0 {
			p.Expire(ctx, base+":seq", s.ttl)
			p.Expire(ctx, base+":events", s.ttl)
			p.Expire(ctx, base+":ids", s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis append: %w", err)
	}
	return seq, nil
}

func (s *RedisStore) List(ctx context.Context, sessionID string, afterSeq int64) ([]model.Event, error) {
	raws, err := s.rdb.LRange(ctx, s.prefix+sessionID+":events", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	out := make([]model.Event, 0, len(raws))
	for _, raw := range raws {
		var evt model.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if evt.Seq > afterSeq {
			out = append(out, evt)
		}
	}
	return out, nil
}
