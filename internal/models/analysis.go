package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceAnalysis is the single-face result. When IsValidFace is false only
// ErrorMessage is meaningful.
type FaceAnalysis struct {
	IsValidFace     bool          `json:"isValidFace"`
	ErrorMessage    *string       `json:"errorMessage"`
	HarmonyScore    *float64      `json:"harmonyScore" validate:"omitempty,gte=1,lte=10"`
	FeatureAnalysis []FeatureNote `json:"featureAnalysis" validate:"dive"`
	Suggestions     []string      `json:"suggestions"`
}

// FeatureNote is one entry of a feature breakdown.
type FeatureNote struct {
	Feature  string `json:"feature" validate:"required"`
	Analysis string `json:"analysis" validate:"required"`
}

// Comparison holds two independent face analyses.
type Comparison struct {
	First  FaceAnalysis `json:"first"`
	Second FaceAnalysis `json:"second"`
}

// MorphSuggestions describes how to move the source face toward the target look.
type MorphSuggestions struct {
	IsValid      bool              `json:"isValid"`
	ErrorMessage *string           `json:"errorMessage"`
	Summary      string            `json:"summary"`
	Suggestions  []MorphSuggestion `json:"suggestions" validate:"dive"`
}

type MorphSuggestion struct {
	Feature    string `json:"feature" validate:"required"`
	Suggestion string `json:"suggestion" validate:"required"`
}

// ColorHarmony is a set of recommended palettes for a face.
type ColorHarmony struct {
	IsValidFace  bool      `json:"isValidFace"`
	ErrorMessage *string   `json:"errorMessage"`
	Summary      string    `json:"summary"`
	Palettes     []Palette `json:"palettes" validate:"dive"`
}

type Palette struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Colors      []string `json:"colors" validate:"len=5,dive,hexcolor"`
}

// Venue is a salon or beauty venue returned by a location search.
type Venue struct {
	Name    string  `json:"name" validate:"required"`
	Address string  `json:"address"`
	Phone   string  `json:"phone"`
	Rating  float64 `json:"rating" validate:"gte=0"`
}

// AnalysisRecord is an archived single-face analysis.
type AnalysisRecord struct {
	ID              uuid.UUID     `json:"id"`
	UserID          uuid.UUID     `json:"user_id"`
	HarmonyScore    *float64      `json:"harmony_score"`
	FeatureAnalysis []FeatureNote `json:"feature_analysis"`
	Suggestions     []string      `json:"suggestions"`
	ImagePath       string        `json:"image_path"`
	CreatedAt       time.Time     `json:"created_at"`
}

// HistoryItem is an AnalysisRecord with its image path resolved to a fetchable URL.
type HistoryItem struct {
	AnalysisRecord
	ImageURL string `json:"image_url"`
}

// Warning is a non-blocking problem reported next to a successful result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
