package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisRepository_Insert(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewAnalysisRepository(db)

	score := 8.0
	created := time.UnixMilli(1719820800000).UTC()
	rec := &models.AnalysisRecord{
		UserID:          uuid.New(),
		HarmonyScore:    &score,
		FeatureAnalysis: []models.FeatureNote{{Feature: "eyes", Analysis: "balanced"}},
		ImagePath:       "u/1719820800000.jpeg",
		CreatedAt:       created,
	}
	newID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO analysis_history`)).
		WithArgs(rec.UserID, rec.HarmonyScore, []byte(`[{"feature":"eyes","analysis":"balanced"}]`), []byte(`[]`), rec.ImagePath, created).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(newID.String(), created))

	require.NoError(t, repo.Insert(context.Background(), rec))
	assert.Equal(t, newID, rec.ID)
}

func TestAnalysisRepository_ListByUser(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewAnalysisRepository(db)
	userID := uuid.New()
	newer := time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	columns := []string{"id", "user_id", "harmony_score", "feature_analysis", "suggestions", "image_path", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC LIMIT $2`)).
		WithArgs(userID, 20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.NewString(), userID.String(), 7.5, []byte(`[{"feature":"lips","analysis":"full"}]`), []byte(`["hydrate"]`), "a.jpeg", newer).
			AddRow(uuid.NewString(), userID.String(), nil, []byte(`[]`), []byte(`[]`), "b.jpeg", older))

	records, err := repo.ListByUser(context.Background(), userID, 20)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.jpeg", records[0].ImagePath)
	require.NotNil(t, records[0].HarmonyScore)
	assert.InDelta(t, 7.5, *records[0].HarmonyScore, 0.0001)
	assert.Equal(t, []string{"hydrate"}, records[0].Suggestions)
	assert.Equal(t, "lips", records[0].FeatureAnalysis[0].Feature)
	assert.Nil(t, records[1].HarmonyScore)
}

func TestAnalysisRepository_ListByUserClampsLimit(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewAnalysisRepository(db)
	userID := uuid.New()

	columns := []string{"id", "user_id", "harmony_score", "feature_analysis", "suggestions", "image_path", "created_at"}
	for _, limit := range []int{0, -3, 5000} {
		mock.ExpectQuery(`FROM analysis_history`).
			WithArgs(userID, MaxHistoryLimit).
			WillReturnRows(sqlmock.NewRows(columns))
		records, err := repo.ListByUser(context.Background(), userID, limit)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NotNil(t, records)
	}
}
