package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

var anthropicModels = []string{"claude-sonnet-4-5", "claude-opus-4-1", "claude-3-5-haiku-latest"}

type anthropicProvider struct {
	baseURL    string
	defaultKey string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewAnthropicProvider creates the anthropic provider.
func NewAnthropicProvider(baseURL, defaultKey string, timeout time.Duration, logger *zap.Logger) Provider {
	return &anthropicProvider{
		baseURL:    baseURL,
		defaultKey: defaultKey,
		timeout:    timeout,
		logger:     logger.Named("llm.anthropic"),
	}
}

func (p *anthropicProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:         "anthropic",
		DisplayName:  "Anthropic",
		Models:       anthropicModels,
		DefaultModel: "claude-sonnet-4-5",
	}
}

func (p *anthropicProvider) NewClient(apiKey, model string) (ChatClient, error) {
	if apiKey == "" {
		apiKey = p.defaultKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if model == "" {
		model = p.Info().DefaultModel
	}

	opts := []anthropic.ClientOption{}
	if p.baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(p.baseURL, "/")))
	}
	if p.timeout > 0 {
		opts = append(opts, anthropic.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}

	return &anthropicClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
		logger: p.logger,
	}, nil
}

type anthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

func (c *anthropicClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	system := req.System
	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// The messages API takes system text separately.
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
		default:
			messages = append(messages, anthropic.NewUserTextMessage(m.Content))
		}
	}

	request := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    system,
		Messages:  messages,
		MaxTokens: maxTokens(req),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		request.Temperature = &t
	}

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, request)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyWithContext(err, c.model)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	c.logger.Info("LLM request completed",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		Content:          text.String(),
		Model:            c.model,
		Provider:         "anthropic",
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}
