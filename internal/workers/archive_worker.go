package workers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPoisonJob marks a job that can never succeed and goes straight to the DLQ.
var ErrPoisonJob = errors.New("job cannot be processed")

// Archiver stores one single-face result and its image.
type Archiver interface {
	Save(ctx context.Context, userID uuid.UUID, result *models.FaceAnalysis, image []byte) (*models.AnalysisRecord, error)
}

// ArchiveWorker processes archive jobs published by the analysis pipeline.
type ArchiveWorker struct {
	archiver  Archiver
	publisher queue.Publisher // for re-enqueueing jobs with a delay
	logger    *zap.Logger
	now       func() time.Time
}

// NewArchiveWorker creates a new archive worker
func NewArchiveWorker(archiver Archiver, publisher queue.Publisher, logger *zap.Logger) *ArchiveWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveWorker{
		archiver:  archiver,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessArchiveJob decodes the payload and saves it.
func (w *ArchiveWorker) ProcessArchiveJob(ctx context.Context, job *queue.Job) error {
	payload, err := job.ArchivePayload()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPoisonJob, err)
	}
	if !payload.Result.IsValidFace {
		return fmt.Errorf("%w: job %s carries an invalid face", ErrPoisonJob, job.ID)
	}
	image, err := base64.StdEncoding.DecodeString(payload.ImageBase64)
	if err != nil {
		return fmt.Errorf("%w: failed to decode image: %w", ErrPoisonJob, err)
	}

	rec, err := w.archiver.Save(ctx, job.UserID, &payload.Result, image)
	if err != nil {
		return err
	}
	w.logger.Info("archive_job_completed",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", job.UserID.String()),
		zap.String("record_id", rec.ID.String()),
	)
	return nil
}

// ProcessJob processes a message based on its job type and settles it with the broker.
func (w *ArchiveWorker) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()

	switch job.Type {
	case queue.JobTypeArchiveAnalysis:
		if err := w.ProcessArchiveJob(ctx, job); err != nil {
			return w.handleJobError(ctx, msg, job, err)
		}
		if err := msg.Ack(); err != nil {
			return fmt.Errorf("failed to ack job: %w", err)
		}
		return nil

	default:
		if err := msg.Nack(false); err != nil {
			w.logger.Warn("job_nack_failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// handleJobError re-enqueues retryable failures with backoff and dead-letters the rest.
func (w *ArchiveWorker) handleJobError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, err error) error {
	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", job.UserID.String()),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(err),
	}

	if !errors.Is(err, ErrPoisonJob) && job.CanRetry() && w.publisher != nil {
		retry := *job
		retry.ScheduleRetry(w.now())
		enqueueErr := w.publisher.Enqueue(ctx, &retry)
		if enqueueErr == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				w.logger.Warn("job_ack_failed", append(fields, zap.NamedError("ack_error", ackErr))...)
			}
			w.logger.Warn("archive_job_retry_scheduled", append(fields, zap.Timep("not_before", retry.NotBefore))...)
			return fmt.Errorf("archive job failed (retry scheduled): %w", err)
		}
		fields = append(fields, zap.NamedError("enqueue_error", enqueueErr))
	}

	w.logger.Error("archive_job_dead_lettered", fields...)
	if nackErr := msg.Nack(false); nackErr != nil {
		w.logger.Warn("job_nack_failed", zap.String("job_id", job.ID.String()), zap.Error(nackErr))
	}
	return fmt.Errorf("archive job failed: %w", err)
}

// Run processes messages until ctx is cancelled or msgs is closed.
func (w *ArchiveWorker) Run(ctx context.Context, msgs <-chan queue.MessageInterface, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Error("queue_error", zap.Error(err))
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Info("message_channel_closed")
				return
			}
			if err := w.ProcessJob(ctx, msg); err != nil {
				w.logger.Debug("job_processing_failed",
					zap.String("job_id", msg.GetJob().ID.String()),
					zap.String("job_type", string(msg.GetJob().Type)),
					zap.Error(err),
				)
			}
		}
	}
}
