package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benvon/glowlens/internal/request"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		method        string
		path          string
		incomingID    string
		handlerStatus int
		validate      func(*testing.T, *httptest.ResponseRecorder, string, *observer.ObservedLogs)
	}{
		{
			name:          "GET request gets a generated id",
			method:        http.MethodGet,
			path:          "/api/v1/quota",
			handlerStatus: http.StatusOK,
			validate: func(t *testing.T, w *httptest.ResponseRecorder, seen string, logs *observer.ObservedLogs) {
				id := w.Header().Get(request.RequestIDHeader)
				if id == "" || id != seen {
					t.Errorf("header id %q, context id %q", id, seen)
				}
				entries := logs.FilterMessage("http_request").All()
				if len(entries) != 1 {
					t.Fatalf("expected one http_request log, got %d", len(entries))
				}
				fields := entries[0].ContextMap()
				if fields["status_code"] != int64(http.StatusOK) || fields["request_id"] != id {
					t.Errorf("fields = %v", fields)
				}
			},
		},
		{
			name:          "caller id is propagated",
			method:        http.MethodPost,
			path:          "/api/v1/analyze",
			incomingID:    "client-abc",
			handlerStatus: http.StatusUnprocessableEntity,
			validate: func(t *testing.T, w *httptest.ResponseRecorder, seen string, logs *observer.ObservedLogs) {
				if seen != "client-abc" || w.Header().Get(request.RequestIDHeader) != "client-abc" {
					t.Errorf("id not propagated: %q", seen)
				}
				fields := logs.FilterMessage("http_request").All()[0].ContextMap()
				if fields["status_code"] != int64(http.StatusUnprocessableEntity) {
					t.Errorf("status_code = %v", fields["status_code"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zap.InfoLevel)

			var seen string
			h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = request.RequestID(r.Context())
				w.WriteHeader(tt.handlerStatus)
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.incomingID != "" {
				req.Header.Set(request.RequestIDHeader, tt.incomingID)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			tt.validate(t, w, seen, logs)
		})
	}
}
