package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lead-talk/server/internal/apperr"
	"lead-talk/server/internal/config"
	"lead-talk/server/internal/logger"
	"lead-talk/server/internal/model"
	"lead-talk/server/internal/orchestrator"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Server struct {
	config       config.ServerConfig
	orchestrator *orchestrator.Orchestrator
	log          *logger.Logger

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(cfg config.ServerConfig, orch *orchestrator.Orchestrator, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Server{
		config:       cfg,
		orchestrator: orch,
		log:          log.With("service", "API"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery())
	if len(s.config.AllowedOrigins) > 0 {
		engine.Use(s.corsMiddleware())
	}
	engine.GET("/healthz", s.handleHealthz)

	api := engine.Group("/api/sessions")
	{
		api.POST("", s.handleCreateSession)
		api.GET("/:id", s.handleGetSession)
		api.POST("/:id/turns", s.handleTurn)
		api.POST("/:id/messages", s.handleMessage)
		api.GET("/:id/timeline", s.handleTimeline)
		api.GET("/:id/stream", s.handleSessionStream)
	}
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createSessionRequest struct {
	Email string `json:"email"`
}

// handleCreateSession 创建新会话，返回带开场消息的初始状态。请求体可以为空。
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(c, apperr.InvalidInput("invalid json"))
		return
	}
	state, err := s.orchestrator.CreateSession(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) handleGetSession(c *gin.Context) {
	state, err := s.orchestrator.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleTurn 接收调用方追加好用户消息的完整会话状态，跑一轮编排。
// 路径中的 id 优先于请求体里的 sessionId。
func (s *Server) handleTurn(c *gin.Context) {
	var req model.SessionState
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.InvalidInput("invalid json"))
		return
	}
	req.SessionID = c.Param("id")

	state, err := s.orchestrator.ProcessTurn(c.Request.Context(), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleMessage 便捷入口：只带本轮用户文本，由编排器追加用户消息。
func (s *Server) handleMessage(c *gin.Context) {
	var req model.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperr.InvalidInput("invalid json"))
		return
	}
	state, err := s.orchestrator.SendMessage(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type timelineResponse struct {
	SessionID string        `json:"sessionId"`
	Events    []model.Event `json:"events"`
}

// handleTimeline 列出会话的审计事件，after 指定起始序号（不含）。
func (s *Server) handleTimeline(c *gin.Context) {
	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			s.respondError(c, apperr.InvalidInput("after must be a non-negative integer"))
			return
		}
		after = v
	}
	id := c.Param("id")
	events, err := s.orchestrator.Timeline(c.Request.Context(), id, after)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, timelineResponse{SessionID: id, Events: events})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// requestLogger 记录每个请求，按状态码决定日志级别。
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, "session_id", id)
		}

		switch {
		case status >= 500:
			s.log.Error("HTTP request", fields...)
		case status >= 400:
			s.log.Warn("HTTP request", fields...)
		default:
			s.log.Info("HTTP request", fields...)
		}
	}
}
