package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/benvon/glowlens/internal/models"
	"github.com/go-playground/validator/v10"
)

// MaxVenues caps venue search results.
const MaxVenues = 10

// PaletteCount is the number of palettes a valid color harmony result carries.
const PaletteCount = 3

var (
	fencePattern = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)\\s*```")
	validate     = validator.New(validator.WithRequiredStructEnabled())
)

// StripFences returns the body of the first markdown code fence in s, or s
// trimmed when there is none. A body that is already valid JSON is returned
// as is, even when a string value inside it contains backticks.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return s
	}
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func decodeJSON(action Action, content string, v any) error {
	body := StripFences(content)
	if body == "" || body == "null" {
		return formatError(action, "empty response", nil)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(v); err != nil {
		return formatError(action, "response is not valid JSON", err)
	}
	if dec.More() {
		return formatError(action, "trailing data after JSON value", nil)
	}
	return nil
}

func checkStruct(action Action, v any) error {
	if err := validate.Struct(v); err != nil {
		return formatError(action, "response does not match schema", err)
	}
	return nil
}

func parseFaceAnalysis(action Action, content string) (*models.FaceAnalysis, error) {
	var out models.FaceAnalysis
	if err := decodeJSON(action, content, &out); err != nil {
		return nil, err
	}
	if err := checkStruct(action, &out); err != nil {
		return nil, err
	}
	if out.IsValidFace && out.HarmonyScore == nil {
		return nil, formatError(action, "harmonyScore missing for a valid face", nil)
	}
	return &out, nil
}

func parseMorph(action Action, content string) (*models.MorphSuggestions, error) {
	var out models.MorphSuggestions
	if err := decodeJSON(action, content, &out); err != nil {
		return nil, err
	}
	if err := checkStruct(action, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func parseColorHarmony(action Action, content string) (*models.ColorHarmony, error) {
	var out models.ColorHarmony
	if err := decodeJSON(action, content, &out); err != nil {
		return nil, err
	}
	if err := checkStruct(action, &out); err != nil {
		return nil, err
	}
	if out.IsValidFace && len(out.Palettes) != PaletteCount {
		return nil, formatError(action, fmt.Sprintf("expected %d palettes, got %d", PaletteCount, len(out.Palettes)), nil)
	}
	return &out, nil
}

// parseVenues accepts a bare array or an object wrapping it under "venues",
// then orders by rating and caps the list. Model ordering is not trusted.
func parseVenues(action Action, content string) ([]models.Venue, error) {
	body := StripFences(content)
	var venues []models.Venue
	if strings.HasPrefix(body, "[") {
		if err := decodeJSON(action, body, &venues); err != nil {
			return nil, err
		}
	} else {
		var wrapped struct {
			Venues *[]models.Venue `json:"venues"`
			Salons *[]models.Venue `json:"salons"`
		}
		if err := decodeJSON(action, body, &wrapped); err != nil {
			return nil, err
		}
		switch {
		case wrapped.Venues != nil:
			venues = *wrapped.Venues
		case wrapped.Salons != nil:
			venues = *wrapped.Salons
		default:
			return nil, formatError(action, "venue list missing", nil)
		}
	}

	for i := range venues {
		if err := checkStruct(action, &venues[i]); err != nil {
			return nil, err
		}
	}
	return SortVenues(venues), nil
}

// SortVenues orders venues by rating, highest first, keeping the model's order
// for ties, and truncates to MaxVenues.
func SortVenues(venues []models.Venue) []models.Venue {
	out := make([]models.Venue, len(venues))
	copy(out, venues)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	if len(out) > MaxVenues {
		out = out[:MaxVenues]
	}
	return out
}
