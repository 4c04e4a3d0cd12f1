package handlers

import (
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"
)

const maxErrorMessageLength = 300

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sanitizeErrorMessage bounds messages that may echo user input.
func sanitizeErrorMessage(message string) string {
	if utf8.RuneCountInString(message) <= maxErrorMessageLength {
		return message
	}
	return string([]rune(message)[:maxErrorMessageLength]) + "..."
}

// respondJSONError sends an error JSON response with sanitized error messages
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	respondJSONErrorDetails(w, status, errorType, message, nil)
}

// respondJSONErrorDetails is respondJSONError with a machine-readable details object.
func respondJSONErrorDetails(w http.ResponseWriter, status int, errorType, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   sanitizeErrorMessage(message),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if details != nil {
		response["details"] = details
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
