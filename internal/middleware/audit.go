package middleware

import (
	"net/http"

	logpkg "github.com/benvon/glowlens/internal/logger"
	"github.com/benvon/glowlens/internal/request"
	"go.uber.org/zap"
)

// Audit logs rejected requests: failed authentication, rate limiting and
// quota exhaustion all surface as 401/403/429.
func Audit(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			var event string
			switch wrapped.statusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				event = "security_event"
			case http.StatusTooManyRequests:
				event = "rate_limit_violation"
			default:
				return
			}

			fields := []zap.Field{
				zap.Int("status_code", wrapped.statusCode),
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.String("ip", logpkg.SanitizeString(request.ClientIP(r), logpkg.MaxGeneralStringLength)),
			}
			if u := request.UserFromContext(r); u != nil {
				fields = append(fields, zap.String("user_id", u.ID.String()))
			}
			logger.Warn(event, fields...)
		})
	}
}
