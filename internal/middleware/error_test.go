package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benvon/glowlens/internal/request"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		validate func(*testing.T, *httptest.ResponseRecorder, *observer.ObservedLogs)
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("OK"))
			},
			validate: func(t *testing.T, w *httptest.ResponseRecorder, logs *observer.ObservedLogs) {
				if w.Code != http.StatusOK || w.Body.String() != "OK" {
					t.Errorf("got %d %q", w.Code, w.Body.String())
				}
				if logs.Len() != 0 {
					t.Errorf("unexpected logs: %v", logs.All())
				}
			},
		},
		{
			name: "panic recovered",
			handler: func(http.ResponseWriter, *http.Request) {
				panic("test panic")
			},
			validate: func(t *testing.T, w *httptest.ResponseRecorder, logs *observer.ObservedLogs) {
				if w.Code != http.StatusInternalServerError {
					t.Fatalf("Expected status 500, got %d", w.Code)
				}
				var body ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if body.Success || body.Error != "unknown_error" || body.Path != "/test" || body.RequestID != "req-7" {
					t.Errorf("unexpected body %+v", body)
				}
				if logs.FilterMessage("panic_recovered").Len() != 1 {
					t.Error("expected panic_recovered log")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zap.InfoLevel)
			h := ErrorHandler(zap.New(core))(tt.handler)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req = req.WithContext(request.WithRequestID(req.Context(), "req-7"))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			tt.validate(t, w, logs)
		})
	}
}

func TestErrorHandler_AbortHandlerPropagates(t *testing.T) {
	t.Parallel()

	h := ErrorHandler(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
}
