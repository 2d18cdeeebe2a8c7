package analyzer

import "lead-talk/server/internal/llm"

// analysisSchema 是主模型结构化输出的 JSON Schema。
// intentCriteria 的键随意图变化，无法满足 strict 模式，因此不开启 Strict。
func analysisSchema() *llm.JSONSchema {
	unit := func(desc string) map[string]any {
		return map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": desc}
	}
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": str}

	return &llm.JSONSchema{
		Name: "conversation_analysis",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent": map[string]any{
					"type": "string",
					"enum": []string{"IDEA_VALIDATION", "PROJECT_ASSISTANCE", "TECHNICAL_CONSULTATION", "RECRUITMENT", "INFORMATION"},
				},
				"baseScores": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"problemUnderstanding": unit("how clearly the visitor understands the problem"),
						"solutionVision":       unit("how concrete the envisioned solution is"),
						"projectCommitment":    unit("evidence of budget, time, people or prior effort"),
						"engagementQuality":    unit("depth and specificity of the answers"),
					},
					"required": []string{"problemUnderstanding", "solutionVision", "projectCommitment", "engagementQuality"},
				},
				"intentCriteria": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": []string{"number", "boolean"}},
				},
				"context": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"summary":     str,
						"projectType": str,
						"stage":       str,
						"keyDetails":  strList,
					},
				},
				"insights":  strList,
				"nextSteps": strList,
				"recruitmentMatch": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"company":    str,
						"roleTitle":  str,
						"fitSummary": str,
						"isMatch":    map[string]any{"type": "boolean"},
					},
				},
				"reply": str,
				"quickReplies": map[string]any{
					"type":     "array",
					"maxItems": 5,
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"label":         str,
							"submittedText": str,
						},
						"required": []string{"label", "submittedText"},
					},
				},
				"meetingPriority":    map[string]any{"type": "string", "enum": []string{"Low", "Medium", "High"}},
				"shouldOfferMeeting": map[string]any{"type": "boolean"},
				"authenticity":       unit("how genuine and concrete the need is"),
			},
			"required": []string{"intent", "baseScores", "intentCriteria", "reply", "meetingPriority", "shouldOfferMeeting"},
		},
	}
}
