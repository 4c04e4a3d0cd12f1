package middleware

import (
	"context"

	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/request"
)

// SetUserInContext sets user in context. Exported so handler tests can
// bypass token verification.
func SetUserInContext(ctx context.Context, user *models.User) context.Context {
	return request.WithUser(ctx, user)
}
