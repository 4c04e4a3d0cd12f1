package middleware

import (
	"context"
	"net/http"
	"time"
)

const (
	// DefaultRequestTimeout bounds ordinary API requests.
	DefaultRequestTimeout = 30 * time.Second
	// AnalyzeRequestTimeout bounds the analyze route. It must exceed the AI
	// gateway timeout so gateway timeouts reach the handler as timeout_error.
	AnalyzeRequestTimeout = 90 * time.Second
)

const timeoutBody = `{"success":false,"error":"timeout_error","message":"The request took too long. Please try again."}`

// Timeout creates a middleware that enforces a timeout on request handlers
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		th := http.TimeoutHandler(next, timeout, timeoutBody)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			th.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
