package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/benvon/glowlens/internal/analysis"
	"github.com/benvon/glowlens/internal/imaging"
	"github.com/benvon/glowlens/internal/middleware"
	"github.com/benvon/glowlens/internal/request"
	"github.com/benvon/glowlens/internal/services/ai"
	"github.com/benvon/glowlens/internal/session"
	"github.com/benvon/glowlens/internal/validation"
	"go.uber.org/zap"
)

// Runner executes one analysis.
type Runner interface {
	Run(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// AnalysisHandler serves the analyze and image-normalize endpoints.
type AnalysisHandler struct {
	runner     Runner
	normalizer *imaging.Normalizer
	logger     *zap.Logger
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(runner Runner, normalizer *imaging.Normalizer, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{runner: runner, normalizer: normalizer, logger: logger}
}

// AnalyzeRequest is the wire contract of POST /analyze.
type AnalyzeRequest struct {
	Action string        `json:"action" validate:"required,analysis_action"`
	Params AnalyzeParams `json:"params"`
}

// AnalyzeParams carries the inputs; which fields are needed depends on the action.
type AnalyzeParams struct {
	Base64Image       string `json:"base64Image,omitempty"`
	SourceImageBase64 string `json:"sourceImageBase64,omitempty"`
	TargetImageBase64 string `json:"targetImageBase64,omitempty"`
	LocationQuery     string `json:"locationQuery,omitempty"`
}

// inputs picks the images and query for action and checks nothing required is missing.
func (p AnalyzeParams) inputs(action ai.Action) ([]string, string, error) {
	missing := func(field string) error {
		return fmt.Errorf("%w: params.%s is required for %s", ai.ErrInvalidRequest, field, action)
	}
	switch action {
	case ai.ActionSingleAnalysis, ai.ActionColorHarmony:
		if strings.TrimSpace(p.Base64Image) == "" {
			return nil, "", missing("base64Image")
		}
		return []string{p.Base64Image}, "", nil
	case ai.ActionComparisonPair, ai.ActionMoodMorph:
		if strings.TrimSpace(p.SourceImageBase64) == "" {
			return nil, "", missing("sourceImageBase64")
		}
		if strings.TrimSpace(p.TargetImageBase64) == "" {
			return nil, "", missing("targetImageBase64")
		}
		return []string{p.SourceImageBase64, p.TargetImageBase64}, "", nil
	case ai.ActionVenueSearch:
		q := validation.SanitizeLocationQuery(p.LocationQuery)
		if q == "" {
			return nil, "", missing("locationQuery")
		}
		return nil, q, nil
	default:
		return nil, "", fmt.Errorf("%w: unsupported action", ai.ErrInvalidRequest)
	}
}

// Analyze runs one analysis for the authenticated user.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, ErrTypeUnauthorized, "User not found in context")
		return
	}

	var req AnalyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.Validate.Struct(req); err != nil {
		respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, validation.Describe(err))
		return
	}
	action, err := ai.ParseAction(req.Action)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		return
	}
	images, query, err := req.Params.inputs(action)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		return
	}

	sessionID, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}

	ctx := ai.WithRequestID(r.Context(), request.RequestID(r.Context()))
	result, err := h.runner.Run(ctx, analysis.Request{
		UserID:        user.ID,
		SessionID:     sessionID,
		Action:        action,
		Images:        images,
		LocationQuery: query,
	})
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// NormalizeRequest is the body of POST /images/normalize.
type NormalizeRequest struct {
	Image string `json:"image" validate:"required"`
}

// NormalizeResponse is the prepared image returned to the client.
type NormalizeResponse struct {
	Payload      string `json:"payload"`
	Preview      string `json:"preview"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	SourceFormat string `json:"sourceFormat"`
	Bytes        int    `json:"bytes"`
}

// Normalize downsizes and re-encodes an uploaded image without running any
// analysis. It costs no quota.
func (h *AnalysisHandler) Normalize(w http.ResponseWriter, r *http.Request) {
	var req NormalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.Validate.Struct(req); err != nil {
		respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, validation.Describe(err))
		return
	}

	raw, err := imaging.DecodePayload(req.Image)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	n, err := h.normalizer.Normalize(raw)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	respondJSON(w, http.StatusOK, NormalizeResponse{
		Payload:      n.Payload,
		Preview:      n.Preview,
		Width:        n.Width,
		Height:       n.Height,
		SourceFormat: n.SourceFormat,
		Bytes:        len(n.Bytes),
	})
}

// decodeJSON decodes the body into v, answering 400/413 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondJSONError(w, http.StatusRequestEntityTooLarge, ErrTypeValidation, "Request body is too large")
			return false
		}
		respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, "Invalid JSON body")
		return false
	}
	return true
}

// sessionIDFrom reads the optional session header, rejecting malformed ids.
func sessionIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(session.HeaderName))
	if id == "" {
		return "", true
	}
	if !session.ValidID(id) {
		respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, session.ErrInvalidSessionID.Error())
		return "", false
	}
	return id, true
}
