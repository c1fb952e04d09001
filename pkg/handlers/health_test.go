package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/config"
)

type mockPinger struct {
	err   error
	calls int
}

func (m *mockPinger) Ping(context.Context) error {
	m.calls++
	return m.err
}

func TestHealthHandler_Health(t *testing.T) {
	handler := NewHealthHandler(&config.Config{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{Version: "1.2.3", Env: "test"}
	db := &mockPinger{}
	handler := NewHealthHandler(cfg, db, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	handler.Ping(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", response.Status)
	}
	if response.Service != "datasaki-engine" {
		t.Errorf("expected service 'datasaki-engine', got %q", response.Service)
	}
	if response.Version != "1.2.3" || response.Environment != "test" {
		t.Errorf("unexpected version/env: %q/%q", response.Version, response.Environment)
	}
	if response.Database != "ok" {
		t.Errorf("expected database 'ok', got %q", response.Database)
	}
	if db.calls != 1 {
		t.Errorf("expected 1 ping, got %d", db.calls)
	}
}

func TestHealthHandler_Ping_DatabaseDown(t *testing.T) {
	handler := NewHealthHandler(&config.Config{}, &mockPinger{err: errors.New("connection refused")}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	handler.Ping(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "degraded" || response.Database != "unreachable" {
		t.Errorf("unexpected response: %+v", response)
	}
}

func TestHealthHandler_RegisterRoutes(t *testing.T) {
	handler := NewHealthHandler(&config.Config{}, nil, zap.NewNop())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	for _, path := range []string{"/health", "/ping"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
