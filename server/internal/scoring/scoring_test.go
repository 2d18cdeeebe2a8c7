package scoring

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-talk/server/internal/model"
)

func uniformBase(v float64) model.BaseScores {
	return model.BaseScores{ProblemUnderstanding: v, SolutionVision: v, ProjectCommitment: v, EngagementQuality: v}
}

// TestComputeIdeaValidationFullCriteria 场景 A：所有子分 0.9，总分约 0.9。
func TestComputeIdeaValidationFullCriteria(t *testing.T) {
	criteria := model.IntentCriteria{
		"hasBusinessModel":       0.9,
		"marketResearch":         0.9,
		"technicalFeasibility":   0.9,
		"resourcePlanning":       0.9,
		"implementationTimeline": 0.9,
	}
	score, err := Compute(model.IntentIdeaValidation, uniformBase(0.9), criteria)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, score, 1e-9)
}

// TestComputeInformationUsesFlatDefault 场景 B：INFORMATION 意图部分固定 0.3。
func TestComputeInformationUsesFlatDefault(t *testing.T) {
	score, err := Compute(model.IntentInformation, uniformBase(0.2), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.38, score, 1e-9)
}

// TestComputeRecruitmentBooleans 场景 C：只有 isAIRole 为真时意图部分为 0.18。
func TestComputeRecruitmentBooleans(t *testing.T) {
	criteria := model.IntentCriteria{
		"isAIRole":               true,
		"meetsSalary":            false,
		"isRemoteFriendly":       false,
		"isSeniorLevel":          false,
		"hasTechnicalLeadership": false,
		"isFullTime":             false,
		"hasClearScope":          false,
	}
	intentPart, err := IntentTotal(model.IntentRecruitment, criteria)
	require.NoError(t, err)
	assert.InDelta(t, 0.18, intentPart, 1e-9)

	score, err := Compute(model.IntentRecruitment, uniformBase(0.2), criteria)
	require.NoError(t, err)
	assert.InDelta(t, 0.26, score, 1e-9)
}

func TestRecruitmentAllTrueIsMaximal(t *testing.T) {
	criteria := model.IntentCriteria{}
	for _, f := range RecruitmentFlags() {
		criteria[f.Name] = true
	}
	intentPart, err := IntentTotal(model.IntentRecruitment, criteria)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, intentPart, 1e-9)

	// 缺失的布尔按 false 处理：isAIRole=false 仍有 0.1。
	empty, err := IntentTotal(model.IntentRecruitment, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.06, empty, 1e-9)
}

// TestPartialCriteriaAveragesOverPresent 验证子指标不全时按出现个数求平均。
func TestPartialCriteriaAveragesOverPresent(t *testing.T) {
	criteria := model.IntentCriteria{
		"hasBusinessModel": 0.8,
		"marketResearch":   0.5,
	}
	got, err := IntentTotal(model.IntentIdeaValidation, criteria)
	require.NoError(t, err)
	want := (0.25*0.8 + 0.20*0.5) / 2 * 0.6
	assert.InDelta(t, want, got, 1e-9)

	none, err := IntentTotal(model.IntentIdeaValidation, model.IntentCriteria{"unrelated": 1.0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, none)
}

func TestBaseWeights(t *testing.T) {
	got, err := BaseTotal(model.BaseScores{ProblemUnderstanding: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.12, got, 1e-9)

	got, err = BaseTotal(model.BaseScores{EngagementQuality: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.08, got, 1e-9)
}

// TestComputeRejectsMalformedCriteria 验证非法子指标返回错误，由调用方降级到中性分。
func TestComputeRejectsMalformedCriteria(t *testing.T) {
	_, err := Compute(model.IntentProjectAssistance, uniformBase(0.5), model.IntentCriteria{"budget": "a lot"})
	assert.Error(t, err)

	_, err = Compute(model.IntentProjectAssistance, model.BaseScores{SolutionVision: math.NaN()}, nil)
	assert.Error(t, err)

	_, err = Compute(model.IntentRecruitment, uniformBase(0.5), model.IntentCriteria{"isAIRole": "maybe"})
	assert.Error(t, err)
}

func TestNeutralScoresToHalf(t *testing.T) {
	for _, intent := range []model.Intent{
		model.IntentIdeaValidation, model.IntentProjectAssistance, model.IntentTechnicalConsultation, model.IntentRecruitment,
	} {
		n := Neutral(intent)
		score, err := Compute(intent, n.BaseScores, n.IntentCriteria)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, score, 1e-9, string(intent))
	}
}

// TestNeutralRecruitmentMatchesWeightedIntents 招聘意图的中性意图分与其它意图相同，而不是全部标志为假。
func TestNeutralRecruitmentMatchesWeightedIntents(t *testing.T) {
	n := Neutral(model.IntentRecruitment)
	require.Len(t, n.IntentCriteria, len(RecruitmentFlags()))
	got, err := IntentTotal(model.IntentRecruitment, n.IntentCriteria)
	require.NoError(t, err)
	assert.InDelta(t, NeutralSubScore*IntentWeight, got, 1e-9)
}

// TestComputeAcceptsJSONDecodedCriteria 验证经 JSON 解码（float64/json.Number）的子指标可直接评分。
func TestComputeAcceptsJSONDecodedCriteria(t *testing.T) {
	var criteria model.IntentCriteria
	require.NoError(t, json.Unmarshal([]byte(`{"problemComplexity":1,"currentArchitecture":1,"scalabilityNeeds":1,"businessImpact":1}`), &criteria))
	score, err := Compute(model.IntentTechnicalConsultation, uniformBase(1), criteria)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	got, err := asFloat(json.Number("0.25"))
	require.NoError(t, err)
	assert.Equal(t, 0.25, got)
}

// TestComputeRangeAndDeterminism 性质：任意合法输入结果在 [0,1] 且可重复。
func TestComputeRangeAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	intents := []model.Intent{
		model.IntentIdeaValidation, model.IntentProjectAssistance, model.IntentTechnicalConsultation,
		model.IntentInformation, model.IntentRecruitment, model.Intent("UNKNOWN"),
	}
	for i := 0; i < 500; i++ {
		intent := intents[rng.Intn(len(intents))]
		base := model.BaseScores{
			ProblemUnderstanding: rng.Float64(),
			SolutionVision:       rng.Float64(),
			ProjectCommitment:    rng.Float64(),
			EngagementQuality:    rng.Float64(),
		}
		criteria := model.IntentCriteria{}
		for _, c := range CriteriaFor(intent) {
			if rng.Intn(4) > 0 {
				criteria[c.Name] = rng.Float64()
			}
		}
		if intent == model.IntentRecruitment {
			for _, f := range RecruitmentFlags() {
				criteria[f.Name] = rng.Intn(2) == 1
			}
		}

		first, err := Compute(intent, base, criteria)
		require.NoError(t, err)
		second, err := Compute(intent, base, criteria)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, first, 0.0)
		assert.LessOrEqual(t, first, 1.0)
		assert.Equal(t, first, second)
	}
}
