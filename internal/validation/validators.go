// Package validation holds the shared request validator and text sanitizers.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/glowlens/internal/services/ai"
	"github.com/benvon/glowlens/internal/session"
	"github.com/go-playground/validator/v10"
)

// MaxLocationQueryLength bounds the venue search query after sanitizing.
const MaxLocationQueryLength = 200

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New(validator.WithRequiredStructEnabled())

	if err := Validate.RegisterValidation("analysis_action", validateAnalysisAction); err != nil {
		panic(fmt.Sprintf("failed to register analysis_action validator: %v", err))
	}
	if err := Validate.RegisterValidation("session_id", validateSessionID); err != nil {
		panic(fmt.Sprintf("failed to register session_id validator: %v", err))
	}
}

func validateAnalysisAction(fl validator.FieldLevel) bool {
	_, err := ai.ParseAction(fl.Field().String())
	return err == nil
}

func validateSessionID(fl validator.FieldLevel) bool {
	return session.ValidID(fl.Field().String())
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}
	return sanitized.String()
}

// SanitizeLocationQuery flattens a venue search query to one line and bounds its length.
func SanitizeLocationQuery(q string) string {
	q = strings.Join(strings.Fields(SanitizeText(q)), " ")
	if r := []rune(q); len(r) > MaxLocationQueryLength {
		q = string(r[:MaxLocationQueryLength])
	}
	return q
}

// ValidateAction validates an action wire name
func ValidateAction(value string) error {
	if _, err := ai.ParseAction(value); err != nil {
		names := make([]string, 0, len(ai.Actions))
		for _, a := range ai.Actions {
			names = append(names, a.String())
		}
		return fmt.Errorf("invalid action: %q (must be one of %s)", value, strings.Join(names, ", "))
	}
	return nil
}

// Describe turns validator errors into one user-facing sentence.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "analysis_action":
			parts = append(parts, fe.Field()+" is not a supported action")
		case "session_id":
			parts = append(parts, fe.Field()+" is not a valid session id")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
