package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/benvon/glowlens/internal/middleware"
	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/quota"
	"github.com/benvon/glowlens/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultHistoryLimit is used when the limit query parameter is absent.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps the limit query parameter.
	MaxHistoryLimit = 100
)

// QuotaChecker reads a user's current quota.
type QuotaChecker interface {
	CheckStatus(ctx context.Context, userID uuid.UUID) (*quota.Status, error)
}

// HistoryLister lists a user's archived analyses.
type HistoryLister interface {
	List(ctx context.Context, userID uuid.UUID, limit int) ([]models.HistoryItem, error)
}

// AccountHandler serves per-user read endpoints: quota, history and session usage.
type AccountHandler struct {
	quota   QuotaChecker
	history HistoryLister
	meter   session.Meter
	logger  *zap.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(q QuotaChecker, history HistoryLister, meter session.Meter, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{quota: q, history: history, meter: meter, logger: logger}
}

// Quota returns the caller's quota, applying the daily reset if due.
func (h *AccountHandler) Quota(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, ErrTypeUnauthorized, "User not found in context")
		return
	}

	status, err := h.quota.CheckStatus(r.Context(), user.ID)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Items []models.HistoryItem `json:"items"`
	Limit int                  `json:"limit"`
}

// History lists the caller's archived analyses, newest first.
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, ErrTypeUnauthorized, "User not found in context")
		return
	}
	if h.history == nil {
		respondJSONError(w, http.StatusServiceUnavailable, ErrTypeConfiguration, "History is not enabled")
		return
	}

	limit := DefaultHistoryLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, "limit must be a positive integer")
			return
		}
		limit = min(parsed, MaxHistoryLimit)
	}

	items, err := h.history.List(r.Context(), user.ID, limit)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Items: items, Limit: limit})
}

// SessionUsageResponse is the body of GET /session/usage.
type SessionUsageResponse struct {
	SessionID  string `json:"sessionId"`
	TokensUsed int64  `json:"tokensUsed"`
}

// SessionUsage returns the tokens consumed in the caller's X-Session-ID session.
func (h *AccountHandler) SessionUsage(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, ErrTypeUnauthorized, "User not found in context")
		return
	}

	id, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}
	if id == "" {
		respondJSONError(w, http.StatusBadRequest, ErrTypeValidation, session.HeaderName+" header is required")
		return
	}

	total, err := h.meter.Total(r.Context(), user.ID.String(), id)
	if err != nil {
		h.logger.Warn("session_meter_read_failed",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusServiceUnavailable, ErrTypeStorage, message(ErrTypeStorage, preferredLang(r)))
		return
	}
	respondJSON(w, http.StatusOK, SessionUsageResponse{SessionID: id, TokensUsed: total})
}
