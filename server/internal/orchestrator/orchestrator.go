package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"lead-talk/server/internal/analyzer"
	"lead-talk/server/internal/apperr"
	"lead-talk/server/internal/authenticity"
	"lead-talk/server/internal/config"
	"lead-talk/server/internal/logger"
	"lead-talk/server/internal/model"
	"lead-talk/server/internal/sanitize"
	"lead-talk/server/internal/scoring"
	"lead-talk/server/internal/session"
	"lead-talk/server/internal/timeline"
)

// MaxMessageChars 是单条用户消息的长度上限（按字符计）。
const MaxMessageChars = 4000

// FailSoftReply 是补全服务不可用时的降级回复。
const FailSoftReply = "Sorry, I had trouble processing that. Could you rephrase it or add a little more detail?"

// Analyzer 是上下文分析阶段的抽象，由 analyzer.Analyzer 实现。
type Analyzer interface {
	Analyze(ctx context.Context, state *model.SessionState) (model.Analysis, analyzer.Stage, error)
}

// Orchestrator 负责单轮对话的编排。
//
// 职责与契约：
//   - 每轮在会话快照的副本上运行固定顺序的流水线：分析 -> 评分 -> 真实度 -> 约见判定
//     -> 清洗 -> 状态迁移 -> 快捷回复 -> 派生状态 -> 追加助手消息。
//   - 同一会话的轮次串行；调用方取消时不提交任何修改。
//   - 验证分只由评分引擎推导，会议状态只前进。
//   - 每轮提交后写入 Timeline，便于审计与复盘。
type Orchestrator struct {
	store     session.Store
	timeline  timeline.Store
	analyzer  Analyzer
	sanitizer *sanitize.Sanitizer
	q         config.QualificationConfig
	locks     *sessionLocks
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
}

func New(
	store session.Store,
	timelineStore timeline.Store,
	an Analyzer,
	sanitizer *sanitize.Sanitizer,
	q config.QualificationConfig,
	log *logger.Logger,
) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		store:     store,
		timeline:  timelineStore,
		analyzer:  an,
		sanitizer: sanitizer,
		q:         q,
		locks:     newSessionLocks(),
		log:       log.With("service", "Orchestrator"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// CreateSession 创建新会话，并写入开场消息。
func (o *Orchestrator) CreateSession(ctx context.Context, email string) (*model.SessionState, error) {
	now := o.now()
	id := o.newID()
	greeting := model.ConversationTurn{
		ID:           o.newID(),
		Content:      o.q.Greeting,
		Role:         model.RoleAssistant,
		CreatedAt:    now,
		SessionID:    id,
		QuickReplies: GreetingQuickReplies(),
	}
	state := &model.SessionState{
		SessionID:                 id,
		Messages:                  []model.ConversationTurn{greeting},
		ValidationState:           model.ValidationNone,
		MeetingState:              model.MeetingNotStarted,
		MessageCount:              1,
		ConversationStatus:        DeriveStatus(1, false, o.q),
		ConversationLimitResponse: o.q.ConversationLimitResponse,
		Email:                     strings.TrimSpace(email),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := o.store.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	o.appendEvents(ctx, id, []model.Event{{
		EventID:  greeting.ID,
		TurnID:   greeting.ID,
		Type:     model.EventAssistantMessage,
		Text:     greeting.Content,
		ServerTS: now,
	}})
	o.log.Info("session created", "session_id", id)
	return state, nil
}

// GetSession 读取会话快照。
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*model.SessionState, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.InvalidSession("session id is required")
	}
	state, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(id, err)
	}
	return state, nil
}

// Timeline 返回会话的审计事件。
func (o *Orchestrator) Timeline(ctx context.Context, id string, afterSeq int64) ([]model.Event, error) {
	if _, err := o.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return o.timeline.List(ctx, id, afterSeq)
}

// ProcessTurn 处理一轮对话：input 是调用方持有的完整会话状态，最后一条消息必须是本轮的用户消息。
//
// input.Messages 必须是已存储的对话再加一条新的用户消息（按 ID 比对），否则返回 InvalidInput。
// 新消息与 email 以调用方为准；历史消息、分数、验证/会议状态、链接是否展示等
// 一律以存储为准，调用方传入的值被忽略。返回提交后的会话状态。
func (o *Orchestrator) ProcessTurn(ctx context.Context, input *model.SessionState) (*model.SessionState, error) {
	if input == nil {
		return nil, apperr.InvalidInput("request body is required")
	}
	id := strings.TrimSpace(input.SessionID)
	if id == "" {
		return nil, apperr.InvalidSession("sessionId is required")
	}
	if err := validateTranscript(input.Messages); err != nil {
		return nil, err
	}

	release, err := o.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(id, err)
	}

	if err := checkAppendOnly(stored.Messages, input.Messages); err != nil {
		return nil, err
	}

	working := stored.Clone()
	working.Messages = append(working.Messages, o.normalizeUserTurn(id, input.Messages[len(input.Messages)-1]))
	working.MessageCount = len(working.Messages)
	if email := strings.TrimSpace(input.Email); email != "" {
		working.Email = email
	}
	return o.runAndCommit(ctx, stored, working)
}

// SendMessage 是便捷入口：核心替调用方追加用户消息，然后处理本轮。
func (o *Orchestrator) SendMessage(ctx context.Context, id string, req model.MessageRequest) (*model.SessionState, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.InvalidSession("session id is required")
	}
	content := strings.TrimSpace(req.Content)
	if err := validateUserContent(content); err != nil {
		return nil, err
	}

	release, err := o.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(id, err)
	}

	working := stored.Clone()
	working.Messages = append(working.Messages, model.ConversationTurn{
		ID:        o.newID(),
		Content:   content,
		Role:      model.RoleUser,
		CreatedAt: o.now(),
		SessionID: id,
	})
	working.MessageCount = len(working.Messages)
	if email := strings.TrimSpace(req.Email); email != "" {
		working.Email = email
	}
	return o.runAndCommit(ctx, stored, working)
}

// runAndCommit 运行流水线并提交。ctx 已取消时丢弃本轮结果。
func (o *Orchestrator) runAndCommit(ctx context.Context, stored, working *model.SessionState) (*model.SessionState, error) {
	id := working.SessionID
	userTurn, _ := working.LastUserMessage()

	next, runEvents, err := o.run(ctx, working)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	committed, err := o.store.Update(ctx, id, func(s *model.SessionState) error {
		*s = *next
		return nil
	})
	if err != nil {
		return nil, storeError(id, err)
	}

	// 只有提交成功的轮次才进入时间线，取消或失败的轮次不留痕迹。
	events := make([]model.Event, 0, len(runEvents)+3)
	events = append(events, model.Event{
		EventID:  userTurn.ID,
		TurnID:   userTurn.ID,
		Type:     model.EventUserMessage,
		Text:     userTurn.Content,
		ServerTS: o.now(),
	})
	events = append(events, runEvents...)
	if stored.ValidationState != committed.ValidationState {
		events = append(events, model.Event{
			Type:            model.EventValidationChanged,
			TurnID:          userTurn.ID,
			ValidationState: committed.ValidationState,
			ServerTS:        o.now(),
		})
	}
	if stored.MeetingState != committed.MeetingState {
		events = append(events, model.Event{
			Type:         model.EventMeetingChanged,
			TurnID:       userTurn.ID,
			MeetingState: committed.MeetingState,
			ServerTS:     o.now(),
		})
	}
	o.appendEvents(ctx, id, events)
	return committed, nil
}

// run 在 state 上执行一轮流水线并返回待提交的新状态与审计事件。
// state 已包含本轮用户消息，会被原地修改。
func (o *Orchestrator) run(ctx context.Context, state *model.SessionState) (*model.SessionState, []model.Event, error) {
	id := state.SessionID
	userTurn, _ := state.LastUserMessage()
	log := o.log.With("session_id", id, "turn_id", userTurn.ID)

	// 对话已达上限：不再调用补全服务，引导访客直接联系。
	if len(state.Messages) >= o.q.MaxMessages {
		reply := o.q.ConversationLimitResponse
		status := DeriveStatus(len(state.Messages)+1, false, o.q)
		status.RequiresDirectContact = true
		state.ConversationStatus = status
		state.ConversationLimitResponse = o.q.ConversationLimitResponse
		turn := o.appendAssistant(state, reply, nil)
		log.Info("conversation limit reached", "messages", len(state.Messages))
		return state, []model.Event{
			{Type: model.EventLimitReached, TurnID: userTurn.ID, ServerTS: o.now()},
			{EventID: turn.ID, TurnID: turn.ID, Type: model.EventAssistantMessage, Text: reply, ServerTS: o.now()},
		}, nil
	}

	// 1. 上下文分析
	analysis, stage, err := o.analyzer.Analyze(ctx, state)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if !apperr.IsKind(err, apperr.KindModel) {
			return nil, nil, err
		}
		// 降级：只追加一条通用回复，分数与状态保持不变。
		log.Error("analysis failed, replying fail-soft", "error", err)
		state.ConversationStatus = DeriveStatus(len(state.Messages)+1, false, o.q)
		turn := o.appendAssistant(state, FailSoftReply, nil)
		return state, []model.Event{
			{Type: model.EventModelError, TurnID: userTurn.ID, Text: err.Error(), ServerTS: o.now()},
			{EventID: turn.ID, TurnID: turn.ID, Type: model.EventAssistantMessage, Text: FailSoftReply, ServerTS: o.now()},
		}, nil
	}

	// 2. 评分与真实度
	details := model.ScoreDetails{BaseScores: analysis.BaseScores, IntentCriteria: analysis.IntentCriteria}
	if stage == analyzer.StageFallback && len(details.IntentCriteria) == 0 {
		// 备用模型常常给不出子指标；缺失不代表新信息，按中性处理，避免一次降级就把分数拉低。
		details.IntentCriteria = scoring.Neutral(analysis.Intent).IntentCriteria
	}
	var score float64
	err = analysis.ScoreInputErr
	if err == nil {
		score, err = scoring.Compute(analysis.Intent, details.BaseScores, details.IntentCriteria)
	}
	if err != nil {
		perr := apperr.Process("scoring failed, using neutral sub-scores", err)
		log.Warn(perr.Message, "code", perr.Code, "intent", analysis.Intent, "error", err)
		details = scoring.Neutral(analysis.Intent)
		score, _ = scoring.Compute(analysis.Intent, details.BaseScores, details.IntentCriteria)
	}
	auth := authenticity.Resolve(analysis.Authenticity, state.Messages)

	// 3. 约见判定
	shouldPrompt := ShouldPromptMeeting(score, auth, analysis, o.q)

	// 4. 清洗；分数达标但真实度不足时同样压下链接与会面措辞。
	threshold := o.q.MeetingQualificationScore
	reply := o.sanitizer.Sanitize(analysis.Reply, score, threshold, analysis.Intent)
	if score >= threshold && auth < o.q.AuthenticityFloor {
		reply = o.sanitizer.Suppress(reply)
	}
	if shouldPrompt && state.MeetingState == model.MeetingNotStarted && !state.AppointmentLinkShown && !o.sanitizer.ContainsLink(reply) {
		reply = joinParagraphs(reply, MeetingOffer(o.sanitizer.SchedulingURL()))
	}
	status := DeriveStatus(len(state.Messages)+1, shouldPrompt, o.q)
	if LengthWarningDue(status, o.q) {
		reply = joinParagraphs(reply, LengthWarning(o.q))
	}

	// 5/6. 会议棘轮与验证状态
	prevMeeting := state.MeetingState
	meeting, linkShown := NextMeetingState(prevMeeting, reply, userTurn.Content, o.sanitizer.SchedulingURL())
	state.MeetingState = meeting
	state.AppointmentLinkShown = state.AppointmentLinkShown || linkShown
	state.ValidationState = NextValidationState(state.ValidationState, score, meeting, o.q)

	// 7. 快捷回复
	quick := FilterQuickReplies(analysis.QuickReplies, o.q.MaxQuickReplies)
	if prevMeeting == model.MeetingNotStarted && meeting == model.MeetingReadyForBooking {
		quick = MeetingQuickReplies()
	}

	state.ValidationScore = score
	state.ScoreDetails = &details
	state.AuthenticityScore = auth
	state.CurrentIntent = analysis.Intent
	if analysis.Context != nil {
		state.ConversationContext = analysis.Context
	}
	if len(analysis.Insights) > 0 {
		state.Insights = analysis.Insights
	}
	if len(analysis.NextSteps) > 0 {
		state.NextSteps = analysis.NextSteps
	}
	if analysis.RecruitmentMatch != nil {
		state.RecruitmentMatch = analysis.RecruitmentMatch
	}

	// 8/9. 派生状态与助手消息
	state.ConversationStatus = status
	if status.RequiresDirectContact {
		state.ConversationLimitResponse = o.q.ConversationLimitResponse
	}
	turn := o.appendAssistant(state, reply, quick)

	log.Info("turn processed",
		"stage", stage,
		"intent", analysis.Intent,
		"score", score,
		"authenticity", auth,
		"validation_state", state.ValidationState,
		"meeting_state", state.MeetingState,
		"messages", state.MessageCount,
	)

	scoreVal, authVal := score, auth
	return state, []model.Event{
		{
			Type:         model.EventAnalysis,
			TurnID:       userTurn.ID,
			Text:         string(stage),
			Intent:       analysis.Intent,
			Score:        &scoreVal,
			Authenticity: &authVal,
			ServerTS:     o.now(),
		},
		{EventID: turn.ID, TurnID: turn.ID, Type: model.EventAssistantMessage, Text: reply, ServerTS: o.now()},
	}, nil
}

// appendAssistant 追加助手消息并同步 MessageCount。
func (o *Orchestrator) appendAssistant(state *model.SessionState, content string, quick []model.QuickReply) model.ConversationTurn {
	turn := model.ConversationTurn{
		ID:           o.newID(),
		Content:      content,
		Role:         model.RoleAssistant,
		CreatedAt:    o.now(),
		SessionID:    state.SessionID,
		QuickReplies: quick,
	}
	state.Messages = append(state.Messages, turn)
	state.MessageCount = len(state.Messages)
	state.ConversationStatus.MessageCount = state.MessageCount
	return turn
}

// normalizeUserTurn 给调用方追加的用户消息补齐 ID、时间并打上 sessionId。
func (o *Orchestrator) normalizeUserTurn(id string, t model.ConversationTurn) model.ConversationTurn {
	if t.ID == "" {
		t.ID = o.newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = o.now()
	}
	t.SessionID = id
	t.Content = strings.TrimSpace(t.Content)
	t.QuickReplies = nil
	return t
}

// checkAppendOnly 要求调用方的对话 = 已存储的对话 + 恰好一条新的用户消息。
// 历史按位置比对消息 ID；历史正文一律以存储为准，调用方无法改写或截断。
func checkAppendOnly(stored, incoming []model.ConversationTurn) error {
	want := len(stored) + 1
	if len(incoming) != want {
		return apperr.InvalidInput(fmt.Sprintf("messages must be the stored transcript plus one new user turn (got %d, want %d)", len(incoming), want)).
			WithDetails(map[string]any{"expectedMessages": want})
	}
	seen := make(map[string]struct{}, len(stored))
	for i, t := range stored {
		if incoming[i].ID != t.ID {
			return apperr.InvalidInput(fmt.Sprintf("messages[%d] does not match the stored transcript", i)).
				WithDetails(map[string]any{"index": i, "expectedId": t.ID})
		}
		seen[t.ID] = struct{}{}
	}
	if newID := incoming[len(stored)].ID; newID != "" {
		if _, dup := seen[newID]; dup {
			return apperr.InvalidInput("the new user turn reuses an existing message id")
		}
	}
	return nil
}

// appendEvents 写入时间线。时间线只用于审计，写入失败不影响本轮结果。
func (o *Orchestrator) appendEvents(ctx context.Context, id string, events []model.Event) {
	if o.timeline == nil {
		return
	}
	for i := range events {
		if _, err := o.timeline.Append(context.WithoutCancel(ctx), id, &events[i]); err != nil {
			o.log.Warn("timeline append failed", "session_id", id, "type", events[i].Type, "error", err)
		}
	}
}

func validateTranscript(messages []model.ConversationTurn) error {
	if len(messages) == 0 {
		return apperr.InvalidInput("messages must not be empty")
	}
	for i, m := range messages {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant, model.RoleSystem:
		default:
			return apperr.InvalidInput(fmt.Sprintf("messages[%d] has unknown role %q", i, m.Role))
		}
	}
	last := messages[len(messages)-1]
	if last.Role != model.RoleUser {
		return apperr.InvalidInput("the last message must be the user's turn")
	}
	return validateUserContent(strings.TrimSpace(last.Content))
}

func validateUserContent(content string) error {
	if content == "" {
		return apperr.InvalidInput("message content must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxMessageChars {
		return apperr.InvalidInput(fmt.Sprintf("message is too long (%d > %d characters)", n, MaxMessageChars)).
			WithDetails(map[string]any{"maxChars": MaxMessageChars})
	}
	return nil
}

func storeError(id string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return apperr.SessionNotFound(id, err)
	}
	return fmt.Errorf("session store: %w", err)
}

func joinParagraphs(body, extra string) string {
	body = strings.TrimRight(body, " \n")
	if body == "" {
		return extra
	}
	return body + "\n\n" + extra
}
