// Package quota enforces the per-user daily analysis limit and token balance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/database"
	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultDailyLimit is the number of analyses a user may run per day.
	DefaultDailyLimit = 15
	// DefaultInitialTokenBalance is granted to every new profile.
	DefaultInitialTokenBalance int64 = 10000

	ReasonDailyLimitReached     = "daily_limit_reached"
	ReasonTokenBalanceExhausted = "token_balance_exhausted"

	settleTimeout = 5 * time.Second
)

var (
	// ErrQuotaExceeded matches every *ExceededError.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrStore means the profile store could not be read or written.
	ErrStore = errors.New("quota store unavailable")
	// ErrSchemaMissing means the profile table or one of its columns does not exist.
	ErrSchemaMissing = database.ErrSchemaMissing
)

// Store is the persistence the ledger needs. Counter updates must be atomic in
// the store; the ledger never does read-modify-write.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
	CreateIfAbsent(ctx context.Context, id uuid.UUID, initialTokens int64, now time.Time) error
	ResetIfBefore(ctx context.Context, id uuid.UUID, dayStart, now time.Time) (bool, error)
	IncrementUsage(ctx context.Context, id uuid.UUID, n int64) error
	DecrementTokens(ctx context.Context, id uuid.UUID, amount int64) error
}

// Status is a user's quota as of one check.
type Status struct {
	CanProceed     bool      `json:"canProceed"`
	Reason         string    `json:"reason,omitempty"`
	UsageCount     int64     `json:"usageCount"`
	UsageRemaining int64     `json:"usageRemaining"`
	DailyLimit     int       `json:"dailyLimit"`
	TokenBalance   int64     `json:"tokenBalance"`
	ResetsAt       time.Time `json:"resetsAt"`
}

// ExceededError is returned by Require when the user may not run another analysis.
type ExceededError struct {
	Status Status
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s (usage %d/%d, balance %d)",
		e.Status.Reason, e.Status.UsageCount, e.Status.DailyLimit, e.Status.TokenBalance)
}

// Is makes errors.Is(err, ErrQuotaExceeded) true.
func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Ledger checks and settles quota against a Store.
type Ledger struct {
	store         Store
	dailyLimit    int
	initialTokens int64
	location      *time.Location
	now           func() time.Time
	logger        *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDailyLimit overrides DefaultDailyLimit.
func WithDailyLimit(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.dailyLimit = n
		}
	}
}

// WithInitialTokens overrides DefaultInitialTokenBalance for new profiles.
func WithInitialTokens(n int64) Option {
	return func(l *Ledger) { l.initialTokens = n }
}

// WithLocation sets the time zone whose calendar day bounds usage. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.location = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger used for best-effort settlement failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		dailyLimit:    DefaultDailyLimit,
		initialTokens: DefaultInitialTokenBalance,
		location:      time.UTC,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DailyLimit returns the configured limit.
func (l *Ledger) DailyLimit() int { return l.dailyLimit }

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CheckStatus loads (or creates) the profile, applies the daily reset and
// evaluates both limits. The reset is persisted before evaluation.
func (l *Ledger) CheckStatus(ctx context.Context, userID uuid.UUID) (*Status, error) {
	now := l.now()

	p, err := l.store.Get(ctx, userID)
	if err != nil {
		return nil, storeError("load profile", err)
	}
	if p == nil {
		if err := l.store.CreateIfAbsent(ctx, userID, l.initialTokens, now); err != nil {
			return nil, storeError("create profile", err)
		}
		if p, err = l.store.Get(ctx, userID); err != nil {
			return nil, storeError("load profile", err)
		}
		if p == nil {
			return nil, fmt.Errorf("%w: profile %s missing after create", ErrStore, userID)
		}
	}

	dayStart := StartOfDay(now, l.location)
	if p.LastReset.Before(dayStart) {
		reset, err := l.store.ResetIfBefore(ctx, userID, dayStart, now)
		if err != nil {
			return nil, storeError("reset daily usage", err)
		}
		if reset {
			p.UsageCount = 0
			p.LastReset = now
			l.logger.Debug("quota_daily_reset",
				zap.String("user_id", userID.String()),
				zap.Time("day_start", dayStart),
			)
		} else {
			// Another request reset first; reload its row.
			if p, err = l.store.Get(ctx, userID); err != nil {
				return nil, storeError("load profile", err)
			}
			if p == nil {
				return nil, fmt.Errorf("%w: profile %s disappeared during reset", ErrStore, userID)
			}
		}
	}

	return l.evaluate(p, dayStart), nil
}

func (l *Ledger) evaluate(p *models.UserProfile, dayStart time.Time) *Status {
	s := &Status{
		CanProceed:   true,
		UsageCount:   p.UsageCount,
		DailyLimit:   l.dailyLimit,
		TokenBalance: p.TokenBalance,
		ResetsAt:     dayStart.AddDate(0, 0, 1),
	}
	if remaining := int64(l.dailyLimit) - p.UsageCount; remaining > 0 {
		s.UsageRemaining = remaining
	}
	switch {
	case p.UsageCount >= int64(l.dailyLimit):
		s.CanProceed = false
		s.Reason = ReasonDailyLimitReached
	case p.TokenBalance <= 0:
		s.CanProceed = false
		s.Reason = ReasonTokenBalanceExhausted
	}
	return s
}

// Require returns the status when the user may proceed and an *ExceededError
// when not.
func (l *Ledger) Require(ctx context.Context, userID uuid.UUID) (*Status, error) {
	s, err := l.CheckStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.CanProceed {
		return s, &ExceededError{Status: *s}
	}
	return s, nil
}

// DebitTokens subtracts amount from the balance. Non-positive amounts are ignored.
func (l *Ledger) DebitTokens(ctx context.Context, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := l.store.DecrementTokens(ctx, userID, amount); err != nil {
		return storeError("debit tokens", err)
	}
	return nil
}

// IncrementUsage adds n analyses to today's usage.
func (l *Ledger) IncrementUsage(ctx context.Context, userID uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	if err := l.store.IncrementUsage(ctx, userID, int64(n)); err != nil {
		return storeError("increment usage", err)
	}
	return nil
}

// Settle records a successful gateway call. Failures are logged and dropped:
// the user already has their result.
func (l *Ledger) Settle(ctx context.Context, userID uuid.UUID, tokens int64, analyses int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := l.DebitTokens(ctx, userID, tokens); err != nil {
		l.logger.Error("quota_debit_failed",
			zap.String("user_id", userID.String()),
			zap.Int64("tokens", tokens),
			zap.Error(err),
		)
	}
	if err := l.IncrementUsage(ctx, userID, analyses); err != nil {
		l.logger.Error("quota_increment_failed",
			zap.String("user_id", userID.String()),
			zap.Int("analyses", analyses),
			zap.Error(err),
		)
	}
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStore, op, err)
}
