package authenticity

import (
	"math"
	"regexp"
	"strings"

	"lead-talk/server/internal/model"
)

// 启发式信号词表。匹配前统一转小写。
var (
	needPhrases = []string{
		"we need", "i need", "looking for", "we want", "our goal", "we're trying to", "we are trying to",
		"i want to build", "we have to", "our problem", "struggling with",
	}
	constraintPhrases = []string{
		"budget", "deadline", "timeline", "launch", "by the end of", "within", "weeks", "months",
		"quarter", "q1", "q2", "q3", "q4", "funding", "runway", "headcount", "salary",
	}
	outcomePhrases = []string{
		"revenue", "customers", "users", "conversion", "reduce", "increase", "improve", "save",
		"latency", "cost", "retention", "growth", "roi",
	}
	effortPhrases = []string{
		"we've built", "we have built", "i've built", "prototype", "mvp", "we tried", "i tried",
		"already", "currently using", "existing", "in production", "pilot", "interviewed", "beta",
	}
	hypotheticalPhrases = []string{
		"just curious", "hypothetically", "what if", "someday", "one day", "just wondering",
		"for fun", "not sure if", "random question", "just asking", "thinking about maybe",
	}

	numberPattern = regexp.MustCompile(`[$€£]\s?\d|\d+\s?(k|m|%|users|people|weeks|months|engineers)\b|\b\d{2,}\b`)
	wordPattern   = regexp.MustCompile(`[a-z][a-z0-9'-]{4,}`)
)

// 各信号的权重，合计 1.0。
const (
	weightSpecificity = 0.20
	weightConsistency = 0.15
	weightNeed        = 0.15
	weightConstraints = 0.15
	weightOutcomes    = 0.10
	weightEffort      = 0.15
	weightFollowUp    = 0.10

	hypotheticalPenalty = 0.15
)

// Evaluate 估算访客需求的真实程度，返回 [0,1]。
// 只看用户消息；没有用户消息时返回 0。
func Evaluate(turns []model.ConversationTurn) float64 {
	var texts []string
	for _, t := range turns {
		if t.Role == model.RoleUser && strings.TrimSpace(t.Content) != "" {
			texts = append(texts, strings.ToLower(t.Content))
		}
	}
	if len(texts) == 0 {
		return 0
	}
	all := strings.Join(texts, "\n")

	score := weightSpecificity*specificity(all) +
		weightConsistency*consistency(texts) +
		weightNeed*saturate(countPhrases(all, needPhrases), 2) +
		weightConstraints*saturate(countPhrases(all, constraintPhrases), 3) +
		weightOutcomes*saturate(countPhrases(all, outcomePhrases), 2) +
		weightEffort*saturate(countPhrases(all, effortPhrases), 2) +
		weightFollowUp*followUps(texts)

	score -= hypotheticalPenalty * saturate(countPhrases(all, hypotheticalPhrases), 2)
	return clamp01(score)
}

// Resolve 返回本轮使用的真实度：上游分析给出时优先，否则用启发式评估兜底。
func Resolve(upstream *float64, turns []model.ConversationTurn) float64 {
	if upstream != nil && !math.IsNaN(*upstream) {
		return clamp01(*upstream)
	}
	return Evaluate(turns)
}

// specificity 综合具体数字与用户发言的信息量。
func specificity(all string) float64 {
	numbers := saturate(len(numberPattern.FindAllString(all, -1)), 3)
	words := saturate(len(wordPattern.FindAllString(all, -1)), 40)
	return 0.6*numbers + 0.4*words
}

// consistency 衡量后续发言是否延续之前提到的内容。
// 只有一条用户消息时给中性值。
func consistency(texts []string) float64 {
	if len(texts) < 2 {
		return 0.5
	}
	seen := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(texts[0], -1) {
		seen[w] = struct{}{}
	}
	linked := 0
	for _, text := range texts[1:] {
		words := wordPattern.FindAllString(text, -1)
		hit := false
		for _, w := range words {
			if _, ok := seen[w]; ok {
				hit = true
			}
		}
		for _, w := range words {
			seen[w] = struct{}{}
		}
		if hit {
			linked++
		}
	}
	return float64(linked) / float64(len(texts)-1)
}

// followUps 统计首条之后带问题的用户消息比例。
func followUps(texts []string) float64 {
	if len(texts) < 2 {
		return 0
	}
	n := 0
	for _, text := range texts[1:] {
		if strings.Contains(text, "?") {
			n++
		}
	}
	return saturate(n, 2)
}

func countPhrases(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(text, p) {
			n++
		}
	}
	return n
}

func saturate(n, limit int) float64 {
	if n >= limit {
		return 1
	}
	return float64(n) / float64(limit)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
