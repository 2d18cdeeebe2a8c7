package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lead-talk/server/internal/config"
	"lead-talk/server/internal/model"
)

// TestNextValidationStateDefaults 默认常量下 MinConfidence(0.8) 高于门槛(0.75)，ANALYZING 不可达。
func TestNextValidationStateDefaults(t *testing.T) {
	q := config.DefaultQualification()
	cases := []struct {
		score float64
		want  model.ValidationState
	}{
		{0.0, model.ValidationInsufficient},
		{0.38, model.ValidationInsufficient},
		{0.7499, model.ValidationInsufficient},
		{0.75, model.ValidationReady},
		{0.79, model.ValidationReady},
		{1.0, model.ValidationReady},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NextValidationState(model.ValidationNone, c.score, model.MeetingNotStarted, q), "score=%v", c.score)
	}
}

// TestNextValidationStateAnalyzingWhenConfigured 调低 MinConfidence 后 ANALYZING 可达，且允许从 READY 回退。
func TestNextValidationStateAnalyzingWhenConfigured(t *testing.T) {
	q := config.DefaultQualification()
	q.MinConfidence = 0.5
	assert.Equal(t, model.ValidationAnalyzing, NextValidationState(model.ValidationReady, 0.6, model.MeetingReadyForBooking, q))
	assert.Equal(t, model.ValidationInsufficient, NextValidationState(model.ValidationReady, 0.4, model.MeetingNotStarted, q))
}

func TestNextValidationStateValidatedIsSticky(t *testing.T) {
	q := config.DefaultQualification()
	assert.Equal(t, model.ValidationValidated, NextValidationState(model.ValidationReady, 0.9, model.MeetingBooked, q))
	assert.Equal(t, model.ValidationValidated, NextValidationState(model.ValidationValidated, 0.1, model.MeetingBooked, q))
}

// TestShouldPromptMeeting 三个条件缺一不可；优先级 High 与 shouldOfferMeeting 任一即可。
func TestShouldPromptMeeting(t *testing.T) {
	q := config.DefaultQualification()
	high := model.Analysis{MeetingPriority: model.PriorityHigh}
	offer := model.Analysis{MeetingPriority: model.PriorityLow, ShouldOfferMeeting: true}
	neither := model.Analysis{MeetingPriority: model.PriorityMedium}

	assert.True(t, ShouldPromptMeeting(0.75, 0.7, high, q))
	assert.True(t, ShouldPromptMeeting(0.9, 0.9, offer, q))
	assert.False(t, ShouldPromptMeeting(0.9, 0.9, neither, q))
	assert.False(t, ShouldPromptMeeting(0.74, 0.9, high, q))
	assert.False(t, ShouldPromptMeeting(0.9, 0.69, high, q))
}

// TestNextMeetingStateRatchet 会议状态只前进、每轮最多一步、BOOKED 为终态。
func TestNextMeetingStateRatchet(t *testing.T) {
	link := "https://calendly.com/jane-doe/30min"
	withLink := "Pick a time: " + link

	got, shown := NextMeetingState(model.MeetingNotStarted, withLink, "hi", link)
	assert.Equal(t, model.MeetingReadyForBooking, got)
	assert.True(t, shown)

	got, shown = NextMeetingState(model.MeetingNotStarted, "no link", "I booked it", link)
	assert.Equal(t, model.MeetingNotStarted, got, "不能跳过 READY_FOR_BOOKING")
	assert.False(t, shown)

	got, _ = NextMeetingState(model.MeetingNotStarted, withLink, "I've booked a slot", link)
	assert.Equal(t, model.MeetingReadyForBooking, got, "同一轮不能连跳两步")

	got, _ = NextMeetingState(model.MeetingReadyForBooking, "great", "I've scheduled the call", link)
	assert.Equal(t, model.MeetingBooked, got)

	got, _ = NextMeetingState(model.MeetingReadyForBooking, "great", "not yet", link)
	assert.Equal(t, model.MeetingReadyForBooking, got)

	got, _ = NextMeetingState(model.MeetingBooked, "anything", "cancel it please", link)
	assert.Equal(t, model.MeetingBooked, got)

	// 性质：任意输入序列下 rank 单调不减且每步最多加一。
	replies := []string{"", withLink, "x"}
	users := []string{"", "booked", "hello", "picked a time slot"}
	for _, start := range []model.MeetingState{model.MeetingNotStarted, model.MeetingReadyForBooking, model.MeetingBooked} {
		for _, r := range replies {
			for _, u := range users {
				next, _ := NextMeetingState(start, r, u, link)
				assert.GreaterOrEqual(t, next.Rank(), start.Rank())
				assert.LessOrEqual(t, next.Rank()-start.Rank(), 1)
			}
		}
	}
}

func TestContainsBookingConfirmation(t *testing.T) {
	for _, s := range []string{"BOOKED!", "I've Scheduled it", "it's confirmed", "we set up a time", "Appointment made",
		"reserved", "selected Tuesday", "picked 3pm", "I've chosen a slot", "grabbed a time slot"} {
		assert.True(t, ContainsBookingConfirmation(s), s)
	}
	for _, s := range []string{"", "I'd like to schedule a meeting.", "Let's continue here in the chat for now.", "book?"} {
		assert.False(t, ContainsBookingConfirmation(s), s)
	}
}

func TestDeriveStatus(t *testing.T) {
	q := config.DefaultQualification()
	s := DeriveStatus(3, true, q)
	assert.Equal(t, model.ConversationStatus{MessageCount: 3, ShouldPromptMeeting: true}, s)

	s = DeriveStatus(40, false, q)
	assert.True(t, s.ApproachingLimit)
	assert.False(t, s.RequiresDirectContact)

	s = DeriveStatus(45, false, q)
	assert.True(t, s.RequiresDirectContact)
}

// TestLengthWarningDebounced 进入 approachingLimit 后每 3 轮提醒一次；提出约见的轮次不提醒。
func TestLengthWarningDebounced(t *testing.T) {
	q := config.DefaultQualification()
	var warned []int
	for count := 1; count <= 49; count += 2 {
		if LengthWarningDue(DeriveStatus(count, false, q), q) {
			warned = append(warned, count)
		}
	}
	assert.Equal(t, []int{41, 47}, warned)

	assert.False(t, LengthWarningDue(DeriveStatus(41, true, q), q))
	assert.NotContains(t, LengthWarning(q), q.SchedulingURL)
	assert.Contains(t, LengthWarning(q), q.ContactEmail)
}

func TestFilterQuickReplies(t *testing.T) {
	in := []model.QuickReply{
		{Label: "A", SubmittedText: "a"},
		{Label: " ", SubmittedText: "blank label"},
		{Label: "No payload", SubmittedText: ""},
		{Label: "B", SubmittedText: "b"},
	}
	assert.Equal(t, []model.QuickReply{{Label: "A", SubmittedText: "a"}, {Label: "B", SubmittedText: "b"}}, FilterQuickReplies(in, 5))
	assert.Len(t, FilterQuickReplies(in, 1), 1)
	assert.Nil(t, FilterQuickReplies(nil, 5))
}

func TestFixedQuickRepliesDoNotConfirmBooking(t *testing.T) {
	for _, r := range append(MeetingQuickReplies(), GreetingQuickReplies()...) {
		assert.False(t, ContainsBookingConfirmation(r.SubmittedText), r.SubmittedText)
	}
	assert.Len(t, MeetingQuickReplies(), 2)
}
