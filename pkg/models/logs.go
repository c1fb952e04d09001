package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity actions.
const (
	ActionRegister        = "register"
	ActionLogin           = "login"
	ActionGoogleRegister  = "google_register"
	ActionGoogleLogin     = "google_login"
	ActionConnectorCreate = "connector_create"
	ActionConnectorDelete = "connector_delete"
	ActionConnectorWrite  = "connector_write"
	ActionDatasetCreate   = "dataset_create"
	ActionDatasetDelete   = "dataset_delete"
	ActionLLMConfigCreate = "llm_config_create"
	ActionLLMConfigDelete = "llm_config_delete"
)

// ActivityLog records a user-visible action.
type ActivityLog struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// RequestLog records one served API request.
type RequestLog struct {
	ID         int64     `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	UserEmail  string    `json:"user_email,omitempty"`
	ClientIP   string    `json:"client_ip"`
	UserAgent  string    `json:"user_agent"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
