package timeline

import (
	"context"

	"lead-talk/server/internal/model"
)

// Store 是按会话分组的只追加事件日志，用于审计每一轮的分析与状态变化。
type Store interface {
	// Append 写入事件并返回分配的 seq。同一会话的 seq 单调递增；
	// 相同 EventID 重复写入是幂等的，返回首次分配的 seq。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// List 返回 seq 大于 afterSeq 的事件，按 seq 升序。afterSeq 为 0 时返回全部。
	List(ctx context.Context, sessionID string, afterSeq int64) ([]model.Event, error)
}
