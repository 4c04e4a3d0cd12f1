package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthChecker(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		mode       string
		setup      func(*HealthChecker)
		wantStatus int
		validate   func(*testing.T, HealthResponse)
	}{
		{
			name:       "basic mode skips checks",
			setup:      func(h *HealthChecker) { h.Register("database", down) },
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, resp HealthResponse) {
				if resp.Status != "healthy" || resp.Checks != nil {
					t.Errorf("unexpected response %+v", resp)
				}
			},
		},
		{
			name: "extended all healthy",
			mode: "extended",
			setup: func(h *HealthChecker) {
				h.Register("database", ok)
				h.RegisterOptional("redis", ok)
				h.RegisterOptional("rabbitmq", nil)
			},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, resp HealthResponse) {
				if resp.Status != "healthy" {
					t.Errorf("status = %s", resp.Status)
				}
				if resp.Checks["database"] != "healthy" || resp.Checks["rabbitmq"] != "not configured" {
					t.Errorf("checks = %v", resp.Checks)
				}
			},
		},
		{
			name: "optional failure degrades",
			mode: "extended",
			setup: func(h *HealthChecker) {
				h.Register("database", ok)
				h.RegisterOptional("blob_store", down)
			},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, resp HealthResponse) {
				if resp.Status != "degraded" || resp.Checks["blob_store"] != "unhealthy: connection refused" {
					t.Errorf("unexpected response %+v", resp)
				}
			},
		},
		{
			name: "required failure is unhealthy",
			mode: "extended",
			setup: func(h *HealthChecker) {
				h.Register("database", down)
				h.RegisterOptional("redis", ok)
			},
			wantStatus: http.StatusServiceUnavailable,
			validate: func(t *testing.T, resp HealthResponse) {
				if resp.Status != "unhealthy" {
					t.Errorf("status = %s", resp.Status)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHealthChecker(VersionInfo{Version: "test"})
			tt.setup(h)

			target := "/healthz"
			if tt.mode != "" {
				target += "?mode=" + tt.mode
			}
			w := httptest.NewRecorder()
			h.HealthCheck(w, httptest.NewRequest(http.MethodGet, target, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			tt.validate(t, resp)
		})
	}
}

func TestHealthChecker_Version(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(VersionInfo{Version: "1.2.3", Commit: "abc123"})
	w := httptest.NewRecorder()
	h.Version(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	var body struct {
		Success bool        `json:"success"`
		Data    VersionInfo `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || body.Data.Version != "1.2.3" || body.Data.Commit != "abc123" {
		t.Errorf("unexpected body %+v", body)
	}
}
