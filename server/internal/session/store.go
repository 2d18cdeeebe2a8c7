package session

import (
	"context"
	"errors"

	"lead-talk/server/internal/model"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
	// ErrConflict 表示乐观并发更新在重试上限内仍未成功。
	ErrConflict = errors.New("session update conflict")
)

// Store 是会话状态存储契约。核心从不删除会话。
//
// 所有实现都返回快照副本：调用方修改返回值不会影响存储内容。
type Store interface {
	// Create 写入一个新会话；同 ID 已存在时返回 ErrExists。
	Create(ctx context.Context, s *model.SessionState) error
	// Get 读取会话快照；不存在时返回 ErrNotFound。
	Get(ctx context.Context, id string) (*model.SessionState, error)
	// Update 读取最新快照交给 apply 修改后写回，返回写入后的快照。
	// apply 返回错误时不写入。
	Update(ctx context.Context, id string, apply func(*model.SessionState) error) (*model.SessionState, error)
}

const maxUpdateAttempts = 5
