package middleware

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
	}{
		{"GET without header", http.MethodGet, "", http.StatusOK},
		{"POST json", http.MethodPost, "application/json", http.StatusOK},
		{"POST json with charset", http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{"POST missing header", http.MethodPost, "", http.StatusBadRequest},
		{"POST multipart", http.MethodPost, "multipart/form-data; boundary=x", http.StatusUnsupportedMediaType},
		{"POST json prefix trick", http.MethodPost, "application/jsonp", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := ContentType(zap.NewNop())(okHandler())
			req := httptest.NewRequest(tt.method, "/api/v1/analyze", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestMaxRequestSize(t *testing.T) {
	t.Parallel()

	var readErr error
	h := MaxRequestSize(8, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("declared oversize body: status %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	req.ContentLength = -1
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var maxErr *http.MaxBytesError
	if !errors.As(readErr, &maxErr) {
		t.Errorf("streamed oversize body: read error %v", readErr)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	ctxErr := make(chan error, 1)
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		ctxErr <- r.Context().Err()
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "timeout_error") {
		t.Errorf("body = %s", w.Body.String())
	}
	if err := <-ctxErr; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("handler context error = %v", err)
	}
	if AnalyzeRequestTimeout <= config.MaxAITimeout {
		t.Errorf("AnalyzeRequestTimeout = %v, must exceed config.MaxAITimeout %v", AnalyzeRequestTimeout, config.MaxAITimeout)
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hsts     bool
		tls      bool
		wantHSTS bool
	}{
		{"plain http", true, false, false},
		{"tls with hsts", true, true, true},
		{"tls without hsts", false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			w := httptest.NewRecorder()
			SecurityHeaders(tt.hsts)(okHandler()).ServeHTTP(w, req)

			if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("missing baseline headers: %v", w.Header())
			}
			if got := w.Header().Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", got, tt.wantHSTS)
			}
		})
	}
}

func TestAudit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		withUser  bool
		wantEvent string
	}{
		{"ok is not audited", http.StatusOK, false, ""},
		{"unauthorized", http.StatusUnauthorized, false, "security_event"},
		{"rate limited user", http.StatusTooManyRequests, true, "rate_limit_violation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zap.WarnLevel)
			h := Audit(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
			if tt.withUser {
				req = req.WithContext(SetUserInContext(req.Context(), &models.User{ID: uuid.New()}))
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if tt.wantEvent == "" {
				if logs.Len() != 0 {
					t.Errorf("unexpected audit logs: %v", logs.All())
				}
				return
			}
			entries := logs.FilterMessage(tt.wantEvent).All()
			if len(entries) != 1 {
				t.Fatalf("expected %s log, got %v", tt.wantEvent, logs.All())
			}
			_, hasUser := entries[0].ContextMap()["user_id"]
			if hasUser != tt.withUser {
				t.Errorf("user_id present = %v", hasUser)
			}
		})
	}
}

type stubCorsSource struct {
	cfg *models.CorsConfig
	err error
}

func (s *stubCorsSource) Get(context.Context) (*models.CorsConfig, error) { return s.cfg, s.err }

func TestCORSReloader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		source    *stubCorsSource
		fallback  string
		origin    string
		wantAllow string
	}{
		{
			name:      "configured origin",
			source:    &stubCorsSource{cfg: &models.CorsConfig{AllowedOrigins: "https://app.example.com/", AllowCredentials: true, MaxAge: 600}},
			origin:    "https://app.example.com",
			wantAllow: "https://app.example.com",
		},
		{
			name:   "unlisted origin",
			source: &stubCorsSource{cfg: &models.CorsConfig{AllowedOrigins: "https://app.example.com"}},
			origin: "https://evil.example.com",
		},
		{
			name:      "store error uses FRONTEND_URL",
			source:    &stubCorsSource{err: errors.New("db down")},
			fallback:  "https://web.example.com",
			origin:    "https://web.example.com",
			wantAllow: "https://web.example.com",
		},
		{
			name:      "nothing configured allows localhost",
			source:    &stubCorsSource{},
			origin:    "http://localhost:3000",
			wantAllow: "http://localhost:3000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewCORSReloader(tt.source, tt.fallback, zap.NewNop(), 0).Middleware()(okHandler())

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "authorization,x-session-id")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}
