package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/turnloop/internal/config"
	"github.com/satriahrh/turnloop/internal/websocket"
)

func setupTestEcho(t *testing.T) *echo.Echo {
	logger := zaptest.NewLogger(t)
	hub := websocket.NewHub(nil, config.Default().Session, nil, logger)

	e := echo.New()
	InitRoutes(e, hub, logger)
	return e
}

func TestHealth(t *testing.T) {
	e := setupTestEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.Service != serviceName || resp.ActiveSessions != 0 {
		t.Errorf("Unexpected health response %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := setupTestEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	e := setupTestEcho(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{"unknown route", "/nope", http.StatusNotFound},
		{"bad session query", "/ws?threshold_db=12", http.StatusBadRequest},
		{"bad silence", "/ws?silence_ms=-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to unmarshal %s: %v", rec.Body.String(), err)
			}
			if resp.Error != http.StatusText(tt.wantCode) || resp.Message == "" {
				t.Errorf("Unexpected error response %+v", resp)
			}
		})
	}
}
