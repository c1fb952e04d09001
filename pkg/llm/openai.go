package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var openAIModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"}

// Gemini is served through Google's OpenAI-compatible endpoint.
var googleModels = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"}

// openAICompatible serves any vendor that speaks the OpenAI chat completions API.
type openAICompatible struct {
	info       ProviderInfo
	baseURL    string
	defaultKey string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewOpenAIProvider creates the openai provider.
func NewOpenAIProvider(baseURL, defaultKey string, timeout time.Duration, logger *zap.Logger) Provider {
	return &openAICompatible{
		info: ProviderInfo{
			Name:         "openai",
			DisplayName:  "OpenAI",
			Models:       openAIModels,
			DefaultModel: "gpt-4o-mini",
		},
		baseURL:    baseURL,
		defaultKey: defaultKey,
		timeout:    timeout,
		logger:     logger.Named("llm.openai"),
	}
}

// NewGoogleProvider creates the google provider.
func NewGoogleProvider(baseURL, defaultKey string, timeout time.Duration, logger *zap.Logger) Provider {
	return &openAICompatible{
		info: ProviderInfo{
			Name:         "google",
			DisplayName:  "Google Gemini",
			Models:       googleModels,
			DefaultModel: "gemini-2.5-flash",
		},
		baseURL:    baseURL,
		defaultKey: defaultKey,
		timeout:    timeout,
		logger:     logger.Named("llm.google"),
	}
}

func (p *openAICompatible) Info() ProviderInfo {
	return p.info
}

func (p *openAICompatible) NewClient(apiKey, model string) (ChatClient, error) {
	if apiKey == "" {
		apiKey = p.defaultKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", p.info.Name, ErrMissingAPIKey)
	}
	if model == "" {
		model = p.info.DefaultModel
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(p.baseURL, "/")
	if p.timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: p.timeout}
	}

	return &openAIClient{
		client:   openai.NewClientWithConfig(cfg),
		provider: p.info.Name,
		model:    model,
		logger:   p.logger,
	}, nil
}

type openAIClient struct {
	client   *openai.Client
	provider string
	model    string
	logger   *zap.Logger
}

func (c *openAIClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	completion := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens(req),
	}
	if req.Temperature != nil {
		completion.Temperature = float32(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, completion)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyWithContext(err, c.model)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Info("LLM request completed",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		Content:          resp.Choices[0].Message.Content,
		Model:            c.model,
		Provider:         c.provider,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
