package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusByKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, InvalidInput("bad").Status)
	assert.Equal(t, http.StatusBadRequest, InvalidSession("missing").Status)
	assert.Equal(t, http.StatusNotFound, SessionNotFound("s1", nil).Status)
	assert.Equal(t, http.StatusBadGateway, Model("down", nil).Status)
	assert.Equal(t, http.StatusInternalServerError, Process("boom", nil).Status)
}

// TestSessionNotFoundSharesInvalidSessionCode 未知会话与缺少会话 ID 使用同一错误码，只有状态码不同。
func TestSessionNotFoundSharesInvalidSessionCode(t *testing.T) {
	missing := SessionNotFound("s1", nil)
	assert.Equal(t, CodeInvalidSession, missing.Code)
	assert.Equal(t, KindInvalidSession, missing.Kind)
	assert.Equal(t, "s1", missing.Details["sessionId"])
	assert.Equal(t, CodeInvalidSession, InvalidSession("sessionId is required").Code)
}

// TestFromUnwrapsWrappedError 验证被 fmt.Errorf 包裹后仍能识别分类与错误码。
func TestFromUnwrapsWrappedError(t *testing.T) {
	base := Model("completion failed", errors.New("timeout"))
	wrapped := fmt.Errorf("turn: %w", base)

	got := From(wrapped)
	assert.Equal(t, CodeModel, got.Code)
	assert.True(t, IsKind(wrapped, KindModel))
	assert.False(t, IsKind(wrapped, KindProcess))
	assert.Contains(t, got.Error(), "timeout")
}

func TestFromUnknownError(t *testing.T) {
	got := From(errors.New("x"))
	assert.Equal(t, CodeInternal, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Nil(t, From(nil))
}
