package sanitize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"lead-talk/server/internal/model"
)

const (
	// LinkPlaceholder 替换被压下的预约链接。不得包含链接片段或任何会议短语，保证幂等。
	LinkPlaceholder = "[more project details needed first]"
	// PhraseReplacement 替换提前提出会面的措辞。
	PhraseReplacement = "let's explore more details first"
	// ClarifyHeader 是澄清问题块的开头，用于判断是否已经追加过。
	ClarifyHeader = "To point you in the right direction, could you tell me:"
)

// meetingPhrases 是需要在未达标时压下的会面措辞，大小写不敏感。
var meetingPhrases = []string{
	"schedule a meeting",
	"schedule a call",
	"schedule some time",
	"book a meeting",
	"book a call",
	"book some time",
	"set up a meeting",
	"set up a call",
	"arrange a meeting",
	"arrange a call",
	"hop on a call",
	"jump on a call",
	"get on a call",
	"have a quick call",
	"let's meet",
	"meet with you",
	"calendar link",
	"booking link",
	"scheduling link",
	"my calendar",
}

var clarifyingQuestions = map[model.Intent][]string{
	model.IntentIdeaValidation: {
		"Who is the target customer, and how have you confirmed they have this problem?",
		"How do you plan to make money from it?",
		"What time, budget and people can you commit over the next few months?",
	},
	model.IntentProjectAssistance: {
		"What is the scope of the project, and what is already built?",
		"What timeline and budget range are you working with?",
		"Which parts do you need hands-on help with?",
	},
	model.IntentTechnicalConsultation: {
		"What does your current architecture look like?",
		"What is the specific technical problem or bottleneck?",
		"What is the business impact if it stays unsolved?",
	},
	model.IntentRecruitment: {
		"What is the role, and how much of it involves AI/ML work?",
		"What is the compensation range?",
		"Is the position remote-friendly and full-time?",
	},
	model.IntentInformation: {
		"What are you working on right now?",
		"Is there a specific problem you are hoping to solve?",
		"What would a useful outcome of this chat look like for you?",
	},
}

// Sanitizer 在资质分未达标时清洗生成的回复：压下预约链接和会面措辞，必要时追加澄清问题。
// 这是基于文本匹配的兜底手段，不能替代生成侧不接触链接。
type Sanitizer struct {
	schedulingURL string
	clarifyBelow  float64

	markdownLink *regexp.Regexp
	link         *regexp.Regexp
	phrases      *regexp.Regexp
}

// New 根据预约链接构建清洗器。clarifyBelow 以下的分数会追加澄清问题。
func New(schedulingURL string, clarifyBelow float64) (*Sanitizer, error) {
	schedulingURL = strings.TrimSpace(schedulingURL)
	u, err := url.Parse(schedulingURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid scheduling url %q", schedulingURL)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	// 任何指向预约站点的链接都视为泄露，包括去掉协议、只剩路径前缀的片段。
	linkExpr := `(?i)(?:https?://)?(?:www\.)?` + regexp.QuoteMeta(host) + `(?:[/?#][^\s<>"'()\[\]]*)?`
	if path := strings.Trim(u.Path, "/"); strings.Contains(path, "/") || len(path) >= 8 {
		linkExpr += `|` + regexp.QuoteMeta(path)
	}
	link, err := regexp.Compile(linkExpr)
	if err != nil {
		return nil, fmt.Errorf("compile link pattern: %w", err)
	}
	markdownLink, err := regexp.Compile(`\[[^\]]*\]\(\s*(?:` + linkExpr + `)\s*\)`)
	if err != nil {
		return nil, fmt.Errorf("compile markdown link pattern: %w", err)
	}

	alts := make([]string, 0, len(meetingPhrases))
	for _, p := range meetingPhrases {
		q := regexp.QuoteMeta(p)
		q = strings.ReplaceAll(q, "'", `['’]`)
		q = strings.ReplaceAll(q, " ", `\s+`)
		alts = append(alts, q)
	}
	phrases := regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)

	return &Sanitizer{
		schedulingURL: schedulingURL,
		clarifyBelow:  clarifyBelow,
		markdownLink:  markdownLink,
		link:          link,
		phrases:       phrases,
	}, nil
}

// SchedulingURL 返回真实的预约链接。
func (s *Sanitizer) SchedulingURL() string { return s.schedulingURL }

// Sanitize 清洗草稿回复。
//
// score >= threshold 时原样返回；否则压下链接与会面措辞，score 低于 clarifyBelow 时
// 追加 1-3 个与意图相关的澄清问题。对同一组参数重复调用结果不变。
func (s *Sanitizer) Sanitize(draft string, score, threshold float64, intent model.Intent) string {
	if score >= threshold {
		return draft
	}
	out := s.Suppress(draft)
	if score < s.clarifyBelow {
		out = s.appendClarifying(out, intent)
	}
	return out
}

// Suppress 无条件压下链接与会面措辞。
func (s *Sanitizer) Suppress(text string) string {
	out := s.markdownLink.ReplaceAllLiteralString(text, LinkPlaceholder)
	out = s.link.ReplaceAllLiteralString(out, LinkPlaceholder)
	out = s.phrases.ReplaceAllLiteralString(out, PhraseReplacement)
	return out
}

// ContainsLink 判断文本中是否出现了完整的预约链接。
func (s *Sanitizer) ContainsLink(text string) bool {
	return strings.Contains(text, s.schedulingURL)
}

// LeaksLink 判断文本中是否出现了预约链接或其片段。
func (s *Sanitizer) LeaksLink(text string) bool {
	return s.link.MatchString(text)
}

func (s *Sanitizer) appendClarifying(text string, intent model.Intent) string {
	if strings.Contains(text, ClarifyHeader) {
		return text
	}
	questions := ClarifyingQuestions(intent)
	if len(questions) == 0 {
		return text
	}
	var sb strings.Builder
	if body := strings.TrimRight(text, " \n"); body != "" {
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	sb.WriteString(ClarifyHeader)
	for _, q := range questions {
		sb.WriteString("\n- ")
		sb.WriteString(q)
	}
	return sb.String()
}

// ClarifyingQuestions 返回意图对应的澄清问题（最多 3 个）；未知意图使用 INFORMATION 的问题集。
func ClarifyingQuestions(intent model.Intent) []string {
	qs, ok := clarifyingQuestions[intent]
	if !ok {
		qs = clarifyingQuestions[model.IntentInformation]
	}
	if len(qs) > 3 {
		qs = qs[:3]
	}
	return qs
}
