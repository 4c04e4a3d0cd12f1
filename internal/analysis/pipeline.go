// Package analysis runs one user-initiated analysis end to end: quota check,
// image normalization, gateway call, settlement, archive and session metering.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/archive"
	"github.com/benvon/glowlens/internal/imaging"
	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/queue"
	"github.com/benvon/glowlens/internal/quota"
	"github.com/benvon/glowlens/internal/services/ai"
	"github.com/benvon/glowlens/internal/session"
	"github.com/benvon/glowlens/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const archiveTimeout = 15 * time.Second

// Ledger is the subset of *quota.Ledger the pipeline uses.
type Ledger interface {
	Require(ctx context.Context, userID uuid.UUID) (*quota.Status, error)
	CheckStatus(ctx context.Context, userID uuid.UUID) (*quota.Status, error)
	Settle(ctx context.Context, userID uuid.UUID, tokens int64, analyses int)
}

// Archiver is the subset of *archive.Archiver the pipeline uses.
type Archiver interface {
	Save(ctx context.Context, userID uuid.UUID, result *models.FaceAnalysis, image []byte) (*models.AnalysisRecord, error)
}

// Request is one analysis run. Images may be bare base64 or data URLs in any
// supported format; they are normalized before reaching the gateway.
type Request struct {
	UserID        uuid.UUID
	SessionID     string
	Action        ai.Action
	Images        []string
	LocationQuery string
}

// Result is what the caller sees after a successful run.
type Result struct {
	Action     ai.Action        `json:"action"`
	Result     any              `json:"result"`
	TokensUsed int64            `json:"tokensUsed"`
	Warnings   []models.Warning `json:"warnings"`
	Quota      *quota.Status    `json:"quota"`
}

// Pipeline wires the quota ledger, gateway and archiver together.
type Pipeline struct {
	normalizer *imaging.Normalizer
	gateway    ai.Gateway
	ledger     Ledger
	archiver   Archiver
	publisher  queue.Publisher
	meter      session.Meter
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchiveQueue archives through the job queue instead of inline.
func WithArchiveQueue(p queue.Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithSessionMeter enables per-session token totals.
func WithSessionMeter(m session.Meter) Option {
	return func(pl *Pipeline) { pl.meter = m }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(pl *Pipeline) {
		if l != nil {
			pl.logger = l
		}
	}
}

// New creates a pipeline. archiver may be nil when history is disabled.
func New(normalizer *imaging.Normalizer, gateway ai.Gateway, ledger Ledger, archiver Archiver, opts ...Option) *Pipeline {
	p := &Pipeline{
		normalizer: normalizer,
		gateway:    gateway,
		ledger:     ledger,
		archiver:   archiver,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes req. Quota is only settled after the gateway succeeds; any
// failure before that leaves usage and balance untouched. Archive and meter
// failures never fail the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "analysis.run",
		attribute.String("analysis.action", req.Action.String()),
		attribute.Int("analysis.images", len(req.Images)),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.Int64("analysis.tokens_used", res.TokensUsed))
		}
		telemetry.EndSpan(span, err)
	}()

	return p.run(ctx, req)
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	if want := req.Action.ImagesRequired(); len(req.Images) != want {
		return nil, fmt.Errorf("%w: %s requires %d image(s), got %d", ai.ErrInvalidRequest, req.Action, want, len(req.Images))
	}

	status, err := p.ledger.Require(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	normalized := make([]*imaging.Normalized, 0, len(req.Images))
	payloads := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		raw, err := imaging.DecodePayload(img)
		if err != nil {
			return nil, err
		}
		n, err := p.normalizer.Normalize(raw)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
		payloads = append(payloads, n.Payload)
	}

	ctx = ai.WithUserID(ctx, req.UserID.String())
	resp, err := p.gateway.Invoke(ctx, ai.Request{
		Action:        req.Action,
		Images:        payloads,
		LocationQuery: req.LocationQuery,
	})
	if err != nil {
		p.logger.Warn("analysis_failed",
			zap.String("action", req.Action.String()),
			zap.String("user_id", req.UserID.String()),
			zap.String("request_id", ai.ExtractRequestID(ctx)),
			zap.Error(err),
		)
		return nil, err
	}

	analyses := req.Action.Analyses()
	p.ledger.Settle(ctx, req.UserID, resp.TokensUsed, analyses)

	result := &Result{
		Action:     req.Action,
		Result:     resp.Result(),
		TokensUsed: resp.TokensUsed,
		Warnings:   []models.Warning{},
	}

	if req.Action.Archivable() && resp.Face != nil && resp.Face.IsValidFace {
		if w := p.archive(ctx, req.UserID, resp.Face, normalized[0]); w != nil {
			result.Warnings = append(result.Warnings, *w)
		}
	}

	if p.meter != nil && req.SessionID != "" {
		if _, err := p.meter.Add(ctx, req.UserID.String(), req.SessionID, resp.TokensUsed); err != nil {
			p.logger.Warn("session_meter_failed",
				zap.String("user_id", req.UserID.String()),
				zap.Error(err),
			)
		}
	}

	result.Quota = p.snapshot(ctx, req.UserID, status, resp.TokensUsed, analyses)

	p.logger.Info("analysis_completed",
		zap.String("action", req.Action.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("request_id", ai.ExtractRequestID(ctx)),
		zap.String("model", resp.Model),
		zap.Int64("tokens_used", resp.TokensUsed),
		zap.Int64("latency_ms", resp.Latency.Milliseconds()),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// archive stores the result inline or hands it to the queue. A failed enqueue
// falls back to an inline save.
func (p *Pipeline) archive(ctx context.Context, userID uuid.UUID, face *models.FaceAnalysis, img *imaging.Normalized) *models.Warning {
	if p.archiver == nil && p.publisher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if p.publisher != nil {
		job, err := queue.NewArchiveJob(userID, *face, img.Payload)
		if err == nil {
			err = p.publisher.Enqueue(ctx, job)
		}
		if err == nil {
			return nil
		}
		p.logger.Warn("archive_enqueue_failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		if p.archiver == nil {
			return archive.WarningFor(fmt.Errorf("%w: %w", archive.ErrStorage, err))
		}
	}

	_, err := p.archiver.Save(ctx, userID, face, img.Bytes)
	return archive.WarningFor(err)
}

// snapshot re-reads quota after settlement. When the store cannot be read the
// pre-call status is adjusted locally instead.
func (p *Pipeline) snapshot(ctx context.Context, userID uuid.UUID, before *quota.Status, tokens int64, analyses int) *quota.Status {
	current, err := p.ledger.CheckStatus(ctx, userID)
	if err == nil {
		return current
	}
	p.logger.Warn("quota_snapshot_failed",
		zap.String("user_id", userID.String()),
		zap.Error(err),
	)

	s := *before
	s.UsageCount += int64(analyses)
	if tokens > 0 {
		s.TokenBalance -= tokens
	}
	s.UsageRemaining = max(int64(s.DailyLimit)-s.UsageCount, 0)
	switch {
	case s.UsageCount >= int64(s.DailyLimit):
		s.CanProceed, s.Reason = false, quota.ReasonDailyLimitReached
	case s.TokenBalance <= 0:
		s.CanProceed, s.Reason = false, quota.ReasonTokenBalanceExhausted
	}
	return &s
}
