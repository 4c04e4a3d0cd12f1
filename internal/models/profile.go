package models

import (
	"time"

	"github.com/google/uuid"
)

// UserProfile is the per-user quota row.
type UserProfile struct {
	ID           uuid.UUID `json:"id"`
	UsageCount   int64     `json:"usage_count"`
	LastReset    time.Time `json:"last_reset"`
	TokenBalance int64     `json:"token_balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
