package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role 标识一条对话消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidationState 是会话资质验证的生命周期阶段。
// 允许回退：新信息拉低分数时可以从 READY 回到 INSUFFICIENT。
type ValidationState string

const (
	ValidationNone         ValidationState = "NONE"
	ValidationAnalyzing    ValidationState = "ANALYZING"
	ValidationInsufficient ValidationState = "INSUFFICIENT"
	ValidationReady        ValidationState = "READY"
	ValidationValidated    ValidationState = "VALIDATED"
)

// MeetingState 是预约交接本身的生命周期，只能前进（棘轮）。
type MeetingState string

const (
	MeetingNotStarted      MeetingState = "NOT_STARTED"
	MeetingReadyForBooking MeetingState = "READY_FOR_BOOKING"
	MeetingBooked          MeetingState = "BOOKED"
)

// Rank 返回会议状态在棘轮上的位置，用于判断是否前进。
func (m MeetingState) Rank() int {
	switch m {
	case MeetingReadyForBooking:
		return 1
	case MeetingBooked:
		return 2
	default:
		return 0
	}
}

// Intent 是访客意图的粗分类，决定评分时使用哪组子指标。
type Intent string

const (
	IntentIdeaValidation        Intent = "IDEA_VALIDATION"
	IntentProjectAssistance     Intent = "PROJECT_ASSISTANCE"
	IntentTechnicalConsultation Intent = "TECHNICAL_CONSULTATION"
	IntentInformation           Intent = "INFORMATION"
	IntentRecruitment           Intent = "RECRUITMENT"
)

// Valid 判断是否为已知意图。
func (i Intent) Valid() bool {
	switch i {
	case IntentIdeaValidation, IntentProjectAssistance, IntentTechnicalConsultation, IntentInformation, IntentRecruitment:
		return true
	}
	return false
}

// MeetingPriority 是模型对本轮“是否值得约见”的判断。
type MeetingPriority string

const (
	PriorityLow    MeetingPriority = "Low"
	PriorityMedium MeetingPriority = "Medium"
	PriorityHigh   MeetingPriority = "High"
)

// QuickReply 是挂在助手消息上的快捷回复按钮。
type QuickReply struct {
	Label         string `json:"label"`
	SubmittedText string `json:"submittedText"`
}

// ConversationTurn 表示对话中的一条消息，创建后不可变。
type ConversationTurn struct {
	ID           string       `json:"id"`
	Content      string       `json:"content"`
	Role         Role         `json:"role"`
	CreatedAt    time.Time    `json:"createdAt"`
	SessionID    string       `json:"sessionId"`
	QuickReplies []QuickReply `json:"quickReplies,omitempty"`
}

// BaseScores 是与意图无关的四个基础子分，取值 [0,1]。
type BaseScores struct {
	ProblemUnderstanding float64 `json:"problemUnderstanding"`
	SolutionVision       float64 `json:"solutionVision"`
	ProjectCommitment    float64 `json:"projectCommitment"`
	EngagementQuality    float64 `json:"engagementQuality"`
}

// UnmarshalJSON 兼容模型输出的别名字段（technicalDepth/projectClarity/commitment/engagement）。
// 同时出现时以主字段为准。
func (b *BaseScores) UnmarshalJSON(data []byte) error {
	var aux struct {
		ProblemUnderstanding *float64 `json:"problemUnderstanding"`
		TechnicalDepth       *float64 `json:"technicalDepth"`
		SolutionVision       *float64 `json:"solutionVision"`
		ProjectClarity       *float64 `json:"projectClarity"`
		ProjectCommitment    *float64 `json:"projectCommitment"`
		Commitment           *float64 `json:"commitment"`
		EngagementQuality    *float64 `json:"engagementQuality"`
		Engagement           *float64 `json:"engagement"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*b = BaseScores{
		ProblemUnderstanding: firstOf(aux.ProblemUnderstanding, aux.TechnicalDepth),
		SolutionVision:       firstOf(aux.SolutionVision, aux.ProjectClarity),
		ProjectCommitment:    firstOf(aux.ProjectCommitment, aux.Commitment),
		EngagementQuality:    firstOf(aux.EngagementQuality, aux.Engagement),
	}
	return nil
}

func firstOf(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// IntentCriteria 是意图相关的子指标，值为 [0,1] 的数字或布尔（招聘类）。
type IntentCriteria map[string]any

// ScoreDetails 记录本轮评分所用的原始子分。
type ScoreDetails struct {
	BaseScores     BaseScores     `json:"baseScores"`
	IntentCriteria IntentCriteria `json:"intentCriteria,omitempty"`
}

// ConversationStatus 是每轮重新推导的派生状态，不作为独立事实持久化。
type ConversationStatus struct {
	MessageCount          int  `json:"messageCount"`
	ApproachingLimit      bool `json:"approachingLimit"`
	ShouldPromptMeeting   bool `json:"shouldPromptMeeting"`
	RequiresDirectContact bool `json:"requiresDirectContact"`
}

// ConversationContext 是模型给出的叙述性上下文。
type ConversationContext struct {
	Summary     string   `json:"summary,omitempty"`
	ProjectType string   `json:"projectType,omitempty"`
	Stage       string   `json:"stage,omitempty"`
	KeyDetails  []string `json:"keyDetails,omitempty"`
}

// RecruitmentMatch 仅在招聘意图下出现。
type RecruitmentMatch struct {
	Company    string `json:"company,omitempty"`
	RoleTitle  string `json:"roleTitle,omitempty"`
	FitSummary string `json:"fitSummary,omitempty"`
	IsMatch    bool   `json:"isMatch"`
}

// SessionState 是每个会话唯一的可变聚合，由 Orchestrator 每轮更新。
//
// 约定：
// - ValidationScore 只能由评分引擎推导，调用方传入的值会被忽略。
// - MeetingState 只能前进；BOOKED 为终态。
// - 一轮处理完成后 MessageCount == len(Messages)。
type SessionState struct {
	SessionID                 string               `json:"sessionId"`
	Messages                  []ConversationTurn   `json:"messages"`
	ValidationState           ValidationState      `json:"validationState"`
	MeetingState              MeetingState         `json:"meetingState"`
	ValidationScore           float64              `json:"validationScore"`
	MessageCount              int                  `json:"messageCount"`
	ConversationStatus        ConversationStatus   `json:"conversationStatus"`
	ConversationLimitResponse string               `json:"conversationLimitResponse,omitempty"`
	Email                     string               `json:"email,omitempty"`
	CurrentIntent             Intent               `json:"currentIntent,omitempty"`
	ConversationContext       *ConversationContext `json:"conversationContext,omitempty"`
	Insights                  []string             `json:"insights,omitempty"`
	NextSteps                 []string             `json:"nextSteps,omitempty"`
	RecruitmentMatch          *RecruitmentMatch    `json:"recruitmentMatch,omitempty"`
	ScoreDetails              *ScoreDetails        `json:"scoreDetails,omitempty"`
	AppointmentLinkShown      bool                 `json:"appointmentLinkShown"`
	AuthenticityScore         float64              `json:"authenticityScore,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone 深拷贝会话状态。一轮处理在副本上进行，提交前不影响存储中的快照。
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Messages != nil {
		out.Messages = make([]ConversationTurn, len(s.Messages))
		for i, m := range s.Messages {
			if m.QuickReplies != nil {
				m.QuickReplies = append([]QuickReply(nil), m.QuickReplies...)
			}
			out.Messages[i] = m
		}
	}
	if s.ConversationContext != nil {
		ctx := *s.ConversationContext
		ctx.KeyDetails = append([]string(nil), s.ConversationContext.KeyDetails...)
		out.ConversationContext = &ctx
	}
	if s.Insights != nil {
		out.Insights = append([]string(nil), s.Insights...)
	}
	if s.NextSteps != nil {
		out.NextSteps = append([]string(nil), s.NextSteps...)
	}
	if s.RecruitmentMatch != nil {
		rm := *s.RecruitmentMatch
		out.RecruitmentMatch = &rm
	}
	if s.ScoreDetails != nil {
		sd := *s.ScoreDetails
		if s.ScoreDetails.IntentCriteria != nil {
			sd.IntentCriteria = make(IntentCriteria, len(s.ScoreDetails.IntentCriteria))
			for k, v := range s.ScoreDetails.IntentCriteria {
				sd.IntentCriteria[k] = v
			}
		}
		out.ScoreDetails = &sd
	}
	return &out
}

// LastUserMessage 返回最近一条用户消息。
func (s *SessionState) LastUserMessage() (ConversationTurn, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return ConversationTurn{}, false
}

// Analysis 是上下文分析阶段从补全服务拿到的结构化结果。
type Analysis struct {
	Intent             Intent               `json:"intent"`
	BaseScores         BaseScores           `json:"baseScores"`
	IntentCriteria     IntentCriteria       `json:"intentCriteria"`
	Context            *ConversationContext `json:"context,omitempty"`
	Insights           []string             `json:"insights,omitempty"`
	NextSteps          []string             `json:"nextSteps,omitempty"`
	RecruitmentMatch   *RecruitmentMatch    `json:"recruitmentMatch,omitempty"`
	Reply              string               `json:"reply"`
	QuickReplies       []QuickReply         `json:"quickReplies,omitempty"`
	MeetingPriority    MeetingPriority      `json:"meetingPriority"`
	ShouldOfferMeeting bool                 `json:"shouldOfferMeeting"`
	// Authenticity 可选；模型给出时优先于启发式评估。
	Authenticity *float64 `json:"authenticity,omitempty"`

	// ScoreInputErr 记录 baseScores/intentCriteria 形状不对（数组、字符串等）的解析错误。
	// 这类输出仍算一次成功的分析，评分阶段据此改用中性子分。
	ScoreInputErr error `json:"-"`
}

// UnmarshalJSON 单独解析两组评分字段，形状错误只记在 ScoreInputErr 上而不让整体解析失败。
func (a *Analysis) UnmarshalJSON(data []byte) error {
	type plain Analysis
	aux := struct {
		*plain
		BaseScores     json.RawMessage `json:"baseScores"`
		IntentCriteria json.RawMessage `json:"intentCriteria"`
	}{plain: (*plain)(a)}

	*a = Analysis{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var errs []error
	if isPresent(aux.BaseScores) {
		if err := json.Unmarshal(aux.BaseScores, &a.BaseScores); err != nil {
			a.BaseScores = BaseScores{}
			errs = append(errs, fmt.Errorf("baseScores: %w", err))
		}
	}
	if isPresent(aux.IntentCriteria) {
		if err := json.Unmarshal(aux.IntentCriteria, &a.IntentCriteria); err != nil {
			a.IntentCriteria = nil
			errs = append(errs, fmt.Errorf("intentCriteria: %w", err))
		}
	}
	a.ScoreInputErr = errors.Join(errs...)
	return nil
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// MessageRequest 是便捷入口的请求体：只带用户本轮文本。
type MessageRequest struct {
	Content string `json:"content"`
	Email   string `json:"email,omitempty"`
}
