package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/request"
	"github.com/benvon/glowlens/internal/services/oidc"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserFromContext extracts the user from the request context
func UserFromContext(r *http.Request) *models.User {
	return request.UserFromContext(r)
}

// Auth verifies the bearer token and attaches the caller to the request context.
// Profiles are created lazily by the quota ledger, so no user lookup happens here.
func Auth(verifier oidc.TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondErrorJSON(w, r, http.StatusUnauthorized, "unauthorized", "Missing or malformed Authorization header", logger)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, oidc.ErrInvalidToken) {
					logger.Debug("token_rejected", zap.Error(err))
					respondErrorJSON(w, r, http.StatusUnauthorized, "unauthorized", "Invalid or expired token", logger)
					return
				}
				logger.Error("token_verification_failed", zap.Error(err))
				respondErrorJSON(w, r, http.StatusServiceUnavailable, "configuration_error", "Token verification is unavailable", logger)
				return
			}

			id, err := uuid.Parse(claims.Sub)
			if err != nil {
				respondErrorJSON(w, r, http.StatusUnauthorized, "unauthorized", "Invalid token subject", logger)
				return
			}

			user := &models.User{ID: id, Email: claims.Email, Name: claims.Name}
			next.ServeHTTP(w, r.WithContext(request.WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
