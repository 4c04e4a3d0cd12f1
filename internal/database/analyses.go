package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
)

// MaxHistoryLimit caps a single history page.
const MaxHistoryLimit = 100

// AnalysisRepository stores archived analyses.
type AnalysisRepository struct {
	db *DB
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Insert stores rec and fills in its generated ID.
func (r *AnalysisRepository) Insert(ctx context.Context, rec *models.AnalysisRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	features, err := json.Marshal(nonNil(rec.FeatureAnalysis))
	if err != nil {
		return fmt.Errorf("failed to marshal feature analysis: %w", err)
	}
	suggestions, err := json.Marshal(nonNil(rec.Suggestions))
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO analysis_history (user_id, harmony_score, feature_analysis, suggestions, image_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, rec.UserID, rec.HarmonyScore, features, suggestions, rec.ImagePath, rec.CreatedAt).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", classify(err))
	}
	return nil
}

// ListByUser returns a user's analyses, newest first.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnalysisRecord, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, harmony_score, feature_analysis, suggestions, image_path, created_at
		FROM analysis_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	records := make([]models.AnalysisRecord, 0)
	for rows.Next() {
		var (
			rec         models.AnalysisRecord
			features    []byte
			suggestions []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.HarmonyScore, &features, &suggestions, &rec.ImagePath, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		if err := unmarshalJSONB(features, &rec.FeatureAnalysis); err != nil {
			return nil, fmt.Errorf("failed to decode feature analysis: %w", err)
		}
		if err := unmarshalJSONB(suggestions, &rec.Suggestions); err != nil {
			return nil, fmt.Errorf("failed to decode suggestions: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analyses: %w", err)
	}
	return records, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func unmarshalJSONB(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
