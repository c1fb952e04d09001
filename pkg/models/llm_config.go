package models

import (
	"time"

	"github.com/google/uuid"
)

// LLMConfig is a user's saved provider/model pairing. APIKey is encrypted at
// rest and never serialized.
type LLMConfig struct {
	ID        int64          `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Name      string         `json:"name"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	APIKey    string         `json:"-"`
	HasAPIKey bool           `json:"has_api_key"`
	Config    map[string]any `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LLMConfigUpdate carries the mutable fields of an LLM configuration.
type LLMConfigUpdate struct {
	Name   *string
	Model  *string
	APIKey *string
	Config map[string]any
}

// ChatMessage is one turn of a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat call against a saved LLM configuration.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Template    string        `json:"template,omitempty"`
}

// ChatResponse is the provider's answer.
type ChatResponse struct {
	Content          string `json:"content"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}
