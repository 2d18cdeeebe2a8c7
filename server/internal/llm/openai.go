package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"lead-talk/server/internal/config"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultHTTPTimeout   = 30 * time.Second
)

// OpenAIClient 基于 openai-go 的 Chat Completions 客户端。
// 兼容任意 OpenAI 协议的网关（通过 APIURL 指定）。
type OpenAIClient struct {
	config config.LLMProviderConfig
	client openaigo.Client
}

// NewOpenAIClient 创建 OpenAI 客户端。
// 不在 SDK 内部重试：失败后由上层降级到备用模型，只降级一次。
func NewOpenAIClient(cfg config.LLMProviderConfig) *OpenAIClient {
	return NewOpenAIClientWithHTTP(cfg, &http.Client{Timeout: defaultHTTPTimeout})
}

// NewOpenAIClientWithHTTP 使用指定的 http.Client 创建客户端。
func NewOpenAIClientWithHTTP(cfg config.LLMProviderConfig, httpClient *http.Client) *OpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		config: cfg,
		client: openaigo.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
	}
}

// Complete 完成文本生成（OpenAI）
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(c.config.Model),
		Messages: toOpenAIMessages(messages),
	}
	if c.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.config.MaxTokens))
	}

	// gpt-5 / o 系列推理模型不接受 temperature，且 token 预算容易被 reasoning 耗尽，
	// 这里把 reasoning effort 降到 low，确保能稳定产出可解析的内容。
	if isOpenAIReasoningModel(c.config.Model) {
		params.ReasoningEffort = shared.ReasoningEffortLow
	} else {
		params.Temperature = param.NewOpt(c.config.Temperature)
	}

	if schema != nil {
		params.ResponseFormat = openaigo.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schema.Name,
					Schema: schema.Schema,
					Strict: param.NewOpt(schema.Strict),
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	return content, nil
}

func toOpenAIMessages(messages []Message) []openaigo.ChatCompletionMessageParamUnion {
	out := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openaigo.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openaigo.AssistantMessage(m.Content))
		default:
			out = append(out, openaigo.UserMessage(m.Content))
		}
	}
	return out
}

func isOpenAIReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "gpt-5") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}
