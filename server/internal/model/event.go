package model

import "time"

// 时间线事件类型。
const (
	EventUserMessage       = "user_message"
	EventAnalysis          = "analysis"
	EventAssistantMessage  = "assistant_message"
	EventValidationChanged = "validation_changed"
	EventMeetingChanged    = "meeting_changed"
	EventModelError        = "model_error"
	EventLimitReached      = "limit_reached"
)

// Event 表示时间线中的一个事件，用于回放与审计。
type Event struct {
	// Seq 由后端分配的单调序号。
	Seq int64 `json:"seq,omitempty"`
	// SessionID 由时间线存储补齐。
	SessionID string `json:"sessionId,omitempty"`
	// EventID 用于去重；同一 EventID 重复追加是幂等的。
	EventID string `json:"eventId,omitempty"`
	// TurnID 关联到触发本事件的消息。
	TurnID string `json:"turnId,omitempty"`

	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	Intent          Intent          `json:"intent,omitempty"`
	Score           *float64        `json:"score,omitempty"`
	Authenticity    *float64        `json:"authenticity,omitempty"`
	ValidationState ValidationState `json:"validationState,omitempty"`
	MeetingState    MeetingState    `json:"meetingState,omitempty"`

	ServerTS time.Time `json:"serverTs"`
}
