package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead-talk/server/internal/apperr"
	"lead-talk/server/internal/llm"
	"lead-talk/server/internal/logger"
	"lead-talk/server/internal/model"
)

// Stage 标识本轮分析由哪个模型给出。
type Stage string

const (
	StagePrimary  Stage = "primary"
	StageFallback Stage = "fallback"
)

// DefaultTimeout 是单次补全调用的默认上限。
const DefaultTimeout = 30 * time.Second

// Analyzer 上下文分析阶段
// 把完整对话交给补全服务，要求返回结构化 JSON 分析；
// 主模型失败（调用错误或输出无法解析）时，用精简指令降级到备用模型，只降级一次。
type Analyzer struct {
	primary  llm.Client
	fallback llm.Client
	timeout  time.Duration
	log      *logger.Logger
}

// New 创建分析器。fallback 为空时沿用 primary。
func New(primary, fallback llm.Client, timeout time.Duration, log *logger.Logger) *Analyzer {
	if fallback == nil {
		fallback = primary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Analyzer{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		log:      log.With("service", "Analyzer"),
	}
}

// Analyze 对当前对话做一次结构化分析。
//
// 调用方取消 ctx 时直接返回 ctx 的错误，不再尝试备用模型；
// 两个模型都失败时返回 apperr.KindModel 错误，由编排器走降级回复。
func (a *Analyzer) Analyze(ctx context.Context, state *model.SessionState) (model.Analysis, Stage, error) {
	transcript := buildTranscript(state.Messages)
	if len(transcript) == 0 {
		return model.Analysis{}, "", apperr.InvalidInput("transcript has no user or assistant turns")
	}

	analysis, err := a.call(ctx, a.primary, buildSystemPrompt(state), transcript, analysisSchema())
	if err == nil {
		return analysis, StagePrimary, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.Analysis{}, "", ctxErr
	}
	a.log.Warn("primary analysis failed, falling back", "session_id", state.SessionID, "error", err)

	analysis, fbErr := a.call(ctx, a.fallback, buildFallbackPrompt(), transcript, nil)
	if fbErr == nil {
		return analysis, StageFallback, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.Analysis{}, "", ctxErr
	}
	a.log.Error("fallback analysis failed", "session_id", state.SessionID, "error", fbErr)
	return model.Analysis{}, "", apperr.Model("completion service unavailable", errors.Join(err, fbErr))
}

func (a *Analyzer) call(ctx context.Context, client llm.Client, system string, transcript []llm.Message, schema *llm.JSONSchema) (model.Analysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	messages := make([]llm.Message, 0, len(transcript)+1)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, transcript...)

	start := time.Now()
	raw, err := client.Complete(callCtx, messages, schema)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("LLM complete: %w", err)
	}
	a.log.Debug("analysis completed", "latency_ms", time.Since(start).Milliseconds(), "chars", len(raw))
	return Parse(raw)
}

// Parse 解析模型输出并应用约束。语法错误或缺少回复正文视为失败。
func Parse(raw string) (model.Analysis, error) {
	body := llm.ExtractJSON(raw)
	if body == "" {
		return model.Analysis{}, errors.New("empty analysis")
	}
	var analysis model.Analysis
	if err := json.Unmarshal([]byte(body), &analysis); err != nil {
		return model.Analysis{}, fmt.Errorf("unmarshal analysis: %w", err)
	}
	analysis = applyGuardrails(analysis)
	if analysis.Reply == "" {
		return model.Analysis{}, errors.New("analysis has no reply")
	}
	return analysis, nil
}

// applyGuardrails 把模型输出规整到已知取值范围。
func applyGuardrails(a model.Analysis) model.Analysis {
	a.Intent = model.Intent(strings.ToUpper(strings.TrimSpace(string(a.Intent))))
	if !a.Intent.Valid() {
		a.Intent = model.IntentInformation
	}

	switch strings.ToLower(strings.TrimSpace(string(a.MeetingPriority))) {
	case "high":
		a.MeetingPriority = model.PriorityHigh
	case "medium":
		a.MeetingPriority = model.PriorityMedium
	default:
		a.MeetingPriority = model.PriorityLow
	}

	a.Reply = strings.TrimSpace(a.Reply)
	a.Insights = compact(a.Insights)
	a.NextSteps = compact(a.NextSteps)

	if a.Intent != model.IntentRecruitment {
		a.RecruitmentMatch = nil
	}
	return a
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// buildTranscript 把会话消息转换成补全服务的对话消息，忽略空消息和 system 消息。
func buildTranscript(turns []model.ConversationTurn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		switch t.Role {
		case model.RoleUser, model.RoleAssistant:
			out = append(out, llm.Message{Role: string(t.Role), Content: content})
		}
	}
	return out
}
