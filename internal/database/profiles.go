package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
)

// ProfileRepository handles the per-user quota rows. Counter changes are single
// UPDATE statements so concurrent requests never lose an update.
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, usage_count, last_reset, token_balance, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	err := row.Scan(&p.ID, &p.UsageCount, &p.LastReset, &p.TokenBalance, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the profile, or nil when the user has none yet.
func (r *ProfileRepository) Get(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", classify(err))
	}
	return p, nil
}

// CreateIfAbsent inserts a fresh profile. An existing row is left untouched.
func (r *ProfileRepository) CreateIfAbsent(ctx context.Context, id uuid.UUID, initialTokens int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, usage_count, last_reset, token_balance, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, now, initialTokens)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", classify(err))
	}
	return nil
}

// ResetIfBefore zeroes usage when last_reset is still earlier than dayStart.
// It reports whether this call performed the reset.
func (r *ProfileRepository) ResetIfBefore(ctx context.Context, id uuid.UUID, dayStart, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET usage_count = 0, last_reset = $2, updated_at = $2
		WHERE id = $1 AND last_reset < $3
	`, id, now, dayStart)
	if err != nil {
		return false, fmt.Errorf("failed to reset daily usage: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reset daily usage: %w", err)
	}
	return n > 0, nil
}

// IncrementUsage adds n to the daily usage counter.
func (r *ProfileRepository) IncrementUsage(ctx context.Context, id uuid.UUID, n int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET usage_count = usage_count + $2, updated_at = now()
		WHERE id = $1
	`, id, n)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", classify(err))
	}
	return nil
}

// DecrementTokens subtracts amount from the balance. The balance may go negative.
func (r *ProfileRepository) DecrementTokens(ctx context.Context, id uuid.UUID, amount int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET token_balance = token_balance - $2, updated_at = now()
		WHERE id = $1
	`, id, amount)
	if err != nil {
		return fmt.Errorf("failed to decrement token balance: %w", classify(err))
	}
	return nil
}

// GrantTokens tops up a balance and returns the updated profile.
func (r *ProfileRepository) GrantTokens(ctx context.Context, id uuid.UUID, amount int64) (*models.UserProfile, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET token_balance = token_balance + $2, updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns, id, amount)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to grant tokens: %w", classify(err))
	}
	return p, nil
}

// ResetUsage zeroes today's usage unconditionally.
func (r *ProfileRepository) ResetUsage(ctx context.Context, id uuid.UUID, now time.Time) (*models.UserProfile, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET usage_count = 0, last_reset = $2, updated_at = $2
		WHERE id = $1
		RETURNING `+profileColumns, id, now)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset usage: %w", classify(err))
	}
	return p, nil
}
