package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrMockFailure 是 MockClient 在 ShouldFail 时返回的错误。
var ErrMockFailure = errors.New("mock llm failure")

// MockClient 用于测试的 LLM 客户端。
// 按顺序返回 Responses，用完后重复最后一条；ShouldFail 时总是失败。
type MockClient struct {
	mu sync.Mutex

	Responses  []string
	ShouldFail bool
	Err        error
	CallCount  int
	// Requests 记录每次调用收到的消息。
	Requests [][]Message
}

// NewMockClient 创建按顺序返回给定响应的 Mock 客户端。
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

// Complete 模拟 LLM Complete 方法
func (m *MockClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.Requests = append(m.Requests, append([]Message(nil), messages...))

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.ShouldFail {
		if m.Err != nil {
			return "", m.Err
		}
		return "", ErrMockFailure
	}
	if len(m.Responses) == 0 {
		return "{}", nil
	}
	idx := m.CallCount - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Calls 返回调用次数（并发安全）。
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}
