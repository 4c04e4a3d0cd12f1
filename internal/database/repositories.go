package database

import (
	"context"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
)

// ProfileRepositoryInterface is the profile store used by the quota ledger.
type ProfileRepositoryInterface interface {
	Get(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
	CreateIfAbsent(ctx context.Context, id uuid.UUID, initialTokens int64, now time.Time) error
	ResetIfBefore(ctx context.Context, id uuid.UUID, dayStart, now time.Time) (bool, error)
	IncrementUsage(ctx context.Context, id uuid.UUID, n int64) error
	DecrementTokens(ctx context.Context, id uuid.UUID, amount int64) error
}

// AnalysisRepositoryInterface is the history store used by the archiver.
type AnalysisRepositoryInterface interface {
	Insert(ctx context.Context, rec *models.AnalysisRecord) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnalysisRecord, error)
}

// Ensure concrete types implement the interfaces
var (
	_ ProfileRepositoryInterface  = (*ProfileRepository)(nil)
	_ AnalysisRepositoryInterface = (*AnalysisRepository)(nil)
)
