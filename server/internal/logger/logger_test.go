package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(redact bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{sugar: zap.New(core).Sugar(), redact: redact}, logs
}

// TestCredentialsAlwaysRedacted 凭据类字段无论是否开启 redact 都不落日志。
func TestCredentialsAlwaysRedacted(t *testing.T) {
	log, logs := observed(false)
	log.Info("calling provider", "api_key", "sk-123", "Authorization", "Bearer x", "model", "gpt-4o")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "[REDACTED]", fields["Authorization"])
	assert.Equal(t, "gpt-4o", fields["model"])
}

// TestRedactHashesSessionAndHidesEmail 开启 redact 后会话 ID 取哈希前缀，邮箱隐藏。
func TestRedactHashesSessionAndHidesEmail(t *testing.T) {
	log, logs := observed(true)
	log.With("service", "API").Warn("turn", "session_id", "abc", "email", "a@b.c")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "API", fields["service"])
	assert.Equal(t, "[REDACTED]", fields["email"])
	hashed, ok := fields["session_id"].(string)
	require.True(t, ok)
	assert.Len(t, hashed, 16)
	assert.NotEqual(t, "abc", hashed)

	plain, plainLogs := observed(false)
	plain.Info("turn", "session_id", "abc", "email", "a@b.c")
	pf := plainLogs.All()[0].ContextMap()
	assert.Equal(t, "abc", pf["session_id"])
	assert.Equal(t, "a@b.c", pf["email"])
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		l, err := New(mode, false)
		require.NoError(t, err, mode)
		l.Debug("ok")
	}
	NewNop().Error("dropped", "odd")
}
