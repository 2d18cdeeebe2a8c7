package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lead-talk/server/internal/apperr"
	"lead-talk/server/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamReadLimit    = 64 * 1024
	streamWriteTimeout = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingInterval = 25 * time.Second
)

// streamFrame 是服务端推给客户端的帧：成功时带 state，失败时带 error。
type streamFrame struct {
	Type  string              `json:"type"`
	State *model.SessionState `json:"state,omitempty"`
	Error *ErrorEnvelope      `json:"error,omitempty"`
}

// handleSessionStream 处理 /api/sessions/{id}/stream，升级为 WebSocket。
// 每个文本帧 {content, email} 视为一轮用户输入，按到达顺序串行处理，
// 每轮回一个 turn 帧（更新后的会话状态）或 error 帧。
func (s *Server) handleSessionStream(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.orchestrator.GetSession(c.Request.Context(), sessionID); err != nil {
		s.respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	frames := make(chan streamFrame, 1)
	done := make(chan struct{})
	go s.writeLoop(conn, frames, done, cancel)

	s.log.Info("stream opened", "session_id", sessionID)
	defer s.log.Info("stream closed", "session_id", sessionID)
	defer close(frames)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("stream read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame := s.processFrame(ctx, sessionID, data)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func (s *Server) processFrame(ctx context.Context, sessionID string, data []byte) streamFrame {
	var req model.MessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		env := envelopeOf(apperr.InvalidInput("invalid json"))
		return streamFrame{Type: "error", Error: &env}
	}
	state, err := s.orchestrator.SendMessage(ctx, sessionID, req)
	if err != nil {
		e := apperr.From(err)
		if e.Status >= 500 {
			s.log.Error("stream turn failed", "session_id", sessionID, "code", e.Code, "error", err)
		}
		env := envelopeOf(e)
		return streamFrame{Type: "error", Error: &env}
	}
	return streamFrame{Type: "turn", State: state}
}

// writeLoop 独占连接的写端：转发帧并定期 ping。写失败时取消读端的上下文。
func (s *Server) writeLoop(conn *websocket.Conn, frames <-chan streamFrame, done chan<- struct{}, cancel context.CancelFunc) {
	defer close(done)
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(streamWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				s.log.Warn("stream write failed", "error", err)
				cancel()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				cancel()
				return
			}
		}
	}
}
