// Package llm proxies chat requests to third-party model providers.
package llm

import (
	"context"
	"errors"
)

// Message roles accepted in chat requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxTokens bounds completions when the caller does not.
const DefaultMaxTokens = 1024

var (
	// ErrUnknownProvider is returned for a provider name that was never registered.
	ErrUnknownProvider = errors.New("unknown llm provider")
	// ErrMissingAPIKey is returned when neither the configuration nor the server supplies a key.
	ErrMissingAPIKey = errors.New("no api key configured for provider")
	// ErrEmptyResponse is returned when the provider answers without content.
	ErrEmptyResponse = errors.New("provider returned no content")
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral chat call.
type Request struct {
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// Response is a provider-neutral chat answer.
type Response struct {
	Content          string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
}

// ChatClient sends chat requests to one model of one provider.
type ChatClient interface {
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// ProviderInfo describes a provider to API clients.
type ProviderInfo struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
}

// Provider builds chat clients for a vendor.
type Provider interface {
	Info() ProviderInfo
	// NewClient returns a client for model. An empty apiKey falls back to the
	// server-level key; ErrMissingAPIKey when neither is set.
	NewClient(apiKey, model string) (ChatClient, error)
}

func maxTokens(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
