package middleware

import (
	"mime"
	"net/http"

	"go.uber.org/zap"
)

// ContentType rejects request bodies that are not JSON. Every write endpoint
// takes JSON, including images, which travel base64-encoded.
func ContentType(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}

			raw := r.Header.Get("Content-Type")
			if raw == "" {
				respondErrorJSON(w, r, http.StatusBadRequest, "validation_error", "Content-Type header is required", logger)
				return
			}
			mediaType, _, err := mime.ParseMediaType(raw)
			if err != nil || mediaType != "application/json" {
				respondErrorJSON(w, r, http.StatusUnsupportedMediaType, "validation_error", "Content-Type must be application/json", logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
