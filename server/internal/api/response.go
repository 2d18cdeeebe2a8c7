package api

import (
	"context"
	"errors"

	"lead-talk/server/internal/apperr"

	"github.com/gin-gonic/gin"
)

// StatusClientClosedRequest 表示调用方在处理完成前断开，不再写响应体。
const StatusClientClosedRequest = 499

// ErrorEnvelope 是所有失败响应的统一形状。
type ErrorEnvelope struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func envelopeOf(e *apperr.Error) ErrorEnvelope {
	kind := string(e.Kind)
	if kind == "" {
		kind = "InternalError"
	}
	return ErrorEnvelope{
		Error:   kind,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.log.Info("request abandoned by caller", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatus(StatusClientClosedRequest)
		return
	}
	e := apperr.From(err)
	if e.Status >= 500 {
		s.log.Error("request failed", "code", e.Code, "error", err)
	}
	c.AbortWithStatusJSON(e.Status, envelopeOf(e))
}
