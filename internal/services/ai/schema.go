package ai

import "sort"

// Output schemas sent with json_schema structured output. They follow the strict
// subset: every property is required and nullable fields use a type union.

func object(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

var (
	stringType         = map[string]any{"type": "string"}
	nullableStringType = map[string]any{"type": []string{"string", "null"}}
	booleanType        = map[string]any{"type": "boolean"}
	numberType         = map[string]any{"type": "number"}
)

func faceAnalysisSchema() map[string]any {
	return object(map[string]any{
		"isValidFace":  booleanType,
		"errorMessage": nullableStringType,
		"harmonyScore": map[string]any{"type": []string{"number", "null"}, "minimum": 1, "maximum": 10},
		"featureAnalysis": arrayOf(object(map[string]any{
			"feature":  stringType,
			"analysis": stringType,
		})),
		"suggestions": arrayOf(stringType),
	})
}

func morphSchema() map[string]any {
	return object(map[string]any{
		"isValid":      booleanType,
		"errorMessage": nullableStringType,
		"summary":      stringType,
		"suggestions": arrayOf(object(map[string]any{
			"feature":    stringType,
			"suggestion": stringType,
		})),
	})
}

func colorHarmonySchema() map[string]any {
	palette := object(map[string]any{
		"name":        stringType,
		"description": stringType,
		"colors": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string", "pattern": "^#[0-9A-Fa-f]{6}$"},
			"minItems": 5,
			"maxItems": 5,
		},
	})
	return object(map[string]any{
		"isValidFace":  booleanType,
		"errorMessage": nullableStringType,
		"summary":      stringType,
		"palettes": map[string]any{
			"type":     "array",
			"items":    palette,
			"minItems": 3,
			"maxItems": 3,
		},
	})
}

// Structured output requires an object at the root, so the venue list is wrapped.
func venueSchema() map[string]any {
	return object(map[string]any{
		"venues": map[string]any{
			"type": "array",
			"items": object(map[string]any{
				"name":    stringType,
				"address": stringType,
				"phone":   stringType,
				"rating":  numberType,
			}),
			"maxItems": MaxVenues,
		},
	})
}
