package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"lead-talk/server/internal/model"
)

const (
	// BaseWeight 基础分占总分的比例。
	BaseWeight = 0.4
	// IntentWeight 意图分占总分的比例。
	IntentWeight = 0.6
	// DefaultIntentPortion 是 INFORMATION/未知意图的意图部分，已是最终贡献值，不再乘 IntentWeight。
	DefaultIntentPortion = 0.3
	// NeutralSubScore 是评分失败时使用的中性子分。
	NeutralSubScore = 0.5
)

// Criterion 是一个带权重的意图子指标。
type Criterion struct {
	Name   string
	Weight float64
}

// Flag 是招聘意图下的布尔子指标，真/假各对应固定分值。
type Flag struct {
	Name    string
	IfTrue  float64
	IfFalse float64
}

// 各意图的子指标，权重和为 1.0。
var weightedCriteria = map[model.Intent][]Criterion{
	model.IntentIdeaValidation: {
		{Name: "hasBusinessModel", Weight: 0.25},
		{Name: "marketResearch", Weight: 0.20},
		{Name: "technicalFeasibility", Weight: 0.25},
		{Name: "resourcePlanning", Weight: 0.15},
		{Name: "implementationTimeline", Weight: 0.15},
	},
	model.IntentProjectAssistance: {
		{Name: "projectScope", Weight: 0.25},
		{Name: "technicalRequirements", Weight: 0.25},
		{Name: "timeline", Weight: 0.20},
		{Name: "budget", Weight: 0.15},
		{Name: "teamResources", Weight: 0.15},
	},
	model.IntentTechnicalConsultation: {
		{Name: "problemComplexity", Weight: 0.30},
		{Name: "currentArchitecture", Weight: 0.25},
		{Name: "scalabilityNeeds", Weight: 0.20},
		{Name: "businessImpact", Weight: 0.25},
	},
}

// 招聘意图的布尔子指标，全部为真时合计 1.0。
var recruitmentFlags = []Flag{
	{Name: "isAIRole", IfTrue: 0.3, IfFalse: 0.1},
	{Name: "meetsSalary", IfTrue: 0.2},
	{Name: "isRemoteFriendly", IfTrue: 0.1},
	{Name: "isSeniorLevel", IfTrue: 0.1},
	{Name: "hasTechnicalLeadership", IfTrue: 0.1},
	{Name: "isFullTime", IfTrue: 0.1},
	{Name: "hasClearScope", IfTrue: 0.1},
}

// CriteriaFor 返回意图对应的数值型子指标；招聘与 INFORMATION 返回 nil。
func CriteriaFor(intent model.Intent) []Criterion {
	return weightedCriteria[intent]
}

// RecruitmentFlags 返回招聘意图的布尔子指标。
func RecruitmentFlags() []Flag {
	return recruitmentFlags
}

// Breakdown 是一次评分的分项结果。
type Breakdown struct {
	Base   float64
	Intent float64
	Total  float64
}

// Compute 计算 [0,1] 的资质分。纯函数：相同输入总得到相同输出。
// intentCriteria 中出现无法解释的值（字符串、NaN 等）时返回错误，调用方应改用 Neutral。
func Compute(intent model.Intent, base model.BaseScores, criteria model.IntentCriteria) (float64, error) {
	b, err := Explain(intent, base, criteria)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

// Explain 与 Compute 相同，但返回分项。
func Explain(intent model.Intent, base model.BaseScores, criteria model.IntentCriteria) (Breakdown, error) {
	baseTotal, err := BaseTotal(base)
	if err != nil {
		return Breakdown{}, err
	}
	intentTotal, err := IntentTotal(intent, criteria)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{
		Base:   baseTotal,
		Intent: intentTotal,
		Total:  clamp01(baseTotal + intentTotal),
	}, nil
}

// BaseTotal 计算基础分贡献：加权和 (0.3, 0.3, 0.2, 0.2) 再乘 0.4。
func BaseTotal(base model.BaseScores) (float64, error) {
	vals := []float64{base.ProblemUnderstanding, base.SolutionVision, base.EngagementQuality, base.ProjectCommitment}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("base score is not a finite number: %v", v)
		}
	}
	sum := 0.3*clamp01(base.ProblemUnderstanding) +
		0.3*clamp01(base.SolutionVision) +
		0.2*clamp01(base.EngagementQuality) +
		0.2*clamp01(base.ProjectCommitment)
	return sum * BaseWeight, nil
}

// IntentTotal 计算意图部分的贡献。
//
// 子指标不全时只对出现的指标求加权平均（加权和 / 出现个数）再乘 0.6。
// 这会改变相对权重，但能避免因模型漏字段而把分数清零；行为保持不变。
func IntentTotal(intent model.Intent, criteria model.IntentCriteria) (float64, error) {
	if intent == model.IntentRecruitment {
		return recruitmentTotal(criteria)
	}

	set, ok := weightedCriteria[intent]
	if !ok {
		return DefaultIntentPortion, nil
	}

	sum := 0.0
	present := 0
	for _, c := range set {
		raw, ok := criteria[c.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := asFloat(raw)
		if err != nil {
			return 0, fmt.Errorf("criterion %s: %w", c.Name, err)
		}
		sum += c.Weight * clamp01(v)
		present++
	}

	switch {
	case present == len(set):
		return sum * IntentWeight, nil
	case present == 0:
		return 0, nil
	default:
		return sum / float64(present) * IntentWeight, nil
	}
}

func recruitmentTotal(criteria model.IntentCriteria) (float64, error) {
	sum := 0.0
	for _, f := range recruitmentFlags {
		v, err := asBool(criteria[f.Name])
		if err != nil {
			return 0, fmt.Errorf("criterion %s: %w", f.Name, err)
		}
		if v {
			sum += f.IfTrue
		} else {
			sum += f.IfFalse
		}
	}
	return sum * IntentWeight, nil
}

// Neutral 返回评分失败时使用的中性子分。
func Neutral(intent model.Intent) model.ScoreDetails {
	details := model.ScoreDetails{
		BaseScores: model.BaseScores{
			ProblemUnderstanding: NeutralSubScore,
			SolutionVision:       NeutralSubScore,
			ProjectCommitment:    NeutralSubScore,
			EngagementQuality:    NeutralSubScore,
		},
	}
	if set, ok := weightedCriteria[intent]; ok {
		details.IntentCriteria = make(model.IntentCriteria, len(set))
		for _, c := range set {
			details.IntentCriteria[c.Name] = NeutralSubScore
		}
	}
	if intent == model.IntentRecruitment {
		details.IntentCriteria = neutralRecruitmentFlags()
	}
	return details
}

// neutralRecruitmentFlags 选取合计正好为 NeutralSubScore 的一组标志，
// 使招聘意图的中性意图分与加权意图一致（0.5 × IntentWeight）。
func neutralRecruitmentFlags() model.IntentCriteria {
	out := make(model.IntentCriteria, len(recruitmentFlags))
	for _, f := range recruitmentFlags {
		out[f.Name] = false
	}
	out["isAIRole"] = true
	out["meetsSalary"] = true
	return out
}

func asFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value is not a finite number")
	}
	return f, nil
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes":
			return true, nil
		case "false", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("unsupported value %q", x)
	default:
		f, err := asFloat(v)
		if err != nil {
			return false, err
		}
		return f >= 0.5, nil
	}
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
