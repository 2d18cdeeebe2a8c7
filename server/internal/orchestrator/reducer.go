package orchestrator

import (
	"strings"

	"lead-talk/server/internal/config"
	"lead-talk/server/internal/model"
)

// 本文件只放纯函数：输入相同则输出相同，不触发外部调用，便于单测覆盖状态机。

// bookingKeywords 出现在最近一条用户消息中即视为确认已预约。
var bookingKeywords = []string{
	"booked", "scheduled", "confirmed", "set up", "appointment",
	"reserved", "selected", "picked", "chosen", "time slot",
}

// NextValidationState 根据本轮分数推导验证状态。
// 会议一旦 BOOKED，验证状态变为 VALIDATED 并保持。
func NextValidationState(current model.ValidationState, score float64, meeting model.MeetingState, q config.QualificationConfig) model.ValidationState {
	if current == model.ValidationValidated || meeting == model.MeetingBooked {
		return model.ValidationValidated
	}
	switch {
	case score >= q.MeetingQualificationScore:
		return model.ValidationReady
	case score >= q.MinConfidence:
		return model.ValidationAnalyzing
	default:
		return model.ValidationInsufficient
	}
}

// ShouldPromptMeeting 判断本轮是否应当主动提出约见。
func ShouldPromptMeeting(score, authenticity float64, a model.Analysis, q config.QualificationConfig) bool {
	return score >= q.MeetingQualificationScore &&
		authenticity >= q.AuthenticityFloor &&
		(a.ShouldOfferMeeting || a.MeetingPriority == model.PriorityHigh)
}

// NextMeetingState 推进会议棘轮，每轮最多前进一步。
// 返回新状态以及本轮回复是否展示了预约链接。
func NextMeetingState(current model.MeetingState, reply, lastUser, schedulingURL string) (model.MeetingState, bool) {
	linkShown := schedulingURL != "" && strings.Contains(reply, schedulingURL)
	switch current {
	case model.MeetingBooked:
		return model.MeetingBooked, linkShown
	case model.MeetingReadyForBooking:
		if ContainsBookingConfirmation(lastUser) {
			return model.MeetingBooked, linkShown
		}
		return model.MeetingReadyForBooking, linkShown
	default:
		if linkShown {
			return model.MeetingReadyForBooking, true
		}
		return model.MeetingNotStarted, false
	}
}

// ContainsBookingConfirmation 判断文本是否包含预约确认用语（大小写不敏感）。
func ContainsBookingConfirmation(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range bookingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DeriveStatus 重新推导对话派生状态。messageCount 是本轮结束后的消息数。
func DeriveStatus(messageCount int, shouldPromptMeeting bool, q config.QualificationConfig) model.ConversationStatus {
	return model.ConversationStatus{
		MessageCount:          messageCount,
		ApproachingLimit:      messageCount >= q.SoftWarningAt,
		ShouldPromptMeeting:   shouldPromptMeeting,
		RequiresDirectContact: messageCount >= q.MaxMessages-5,
	}
}

// LengthWarningDue 判断本轮是否追加对话长度提醒。
// 进入 approachingLimit 后每 LengthWarningEvery 轮提醒一次（每轮两条消息），而不是每轮都提醒。
func LengthWarningDue(status model.ConversationStatus, q config.QualificationConfig) bool {
	if !status.ApproachingLimit || status.ShouldPromptMeeting || q.LengthWarningEvery <= 0 {
		return false
	}
	turnsSince := (status.MessageCount - q.SoftWarningAt) / 2
	return turnsSince%q.LengthWarningEvery == 0
}

// LengthWarning 返回对话长度提醒文本。不含链接与会面措辞。
func LengthWarning(q config.QualificationConfig) string {
	msg := "Heads up: this chat is getting long and will close after a few more messages."
	if q.ContactEmail != "" {
		msg += " You can always continue by email at " + q.ContactEmail + "."
	}
	return msg
}

// MeetingOffer 返回首次达标时附加在回复后的约见邀请。
func MeetingOffer(schedulingURL string) string {
	return "Based on what you've shared, a short conversation would be the best next step. You can pick a time that works for you here: " + schedulingURL
}

// MeetingQuickReplies 是刚达到约见条件时提供的两个固定选项。
func MeetingQuickReplies() []model.QuickReply {
	return []model.QuickReply{
		{Label: "Schedule a meeting", SubmittedText: "I'd like to schedule a meeting."},
		{Label: "Continue via chat", SubmittedText: "Let's continue here in the chat for now."},
	}
}

// GreetingQuickReplies 是开场消息附带的意图选项。
func GreetingQuickReplies() []model.QuickReply {
	return []model.QuickReply{
		{Label: "Validate an idea", SubmittedText: "I have a product idea I'd like to validate."},
		{Label: "Help with a project", SubmittedText: "I need help delivering a project."},
		{Label: "Technical question", SubmittedText: "I have a technical question about my system."},
		{Label: "Hiring", SubmittedText: "I'm hiring for an AI role."},
	}
}

// FilterQuickReplies 去掉标签或提交文本为空的项，最多保留 limit 个，顺序与内容原样保留。
func FilterQuickReplies(in []model.QuickReply, limit int) []model.QuickReply {
	var out []model.QuickReply
	for _, r := range in {
		if len(out) >= limit {
			break
		}
		if strings.TrimSpace(r.Label) == "" || strings.TrimSpace(r.SubmittedText) == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
