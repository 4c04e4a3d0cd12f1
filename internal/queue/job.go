package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeArchiveAnalysis stores a finished face analysis and its image.
	JobTypeArchiveAnalysis JobType = "archive_analysis"

	// DefaultMaxRetries is how many times a failed job is retried before it is dead-lettered.
	DefaultMaxRetries = 5

	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// Job represents a job in the queue
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Type       JobType         `json:"type"`
	UserID     uuid.UUID       `json:"user_id"`
	Payload    json.RawMessage `json:"payload"`
	NotBefore  *time.Time      `json:"not_before,omitempty"` // nil = immediate
	NotAfter   *time.Time      `json:"not_after,omitempty"`  // nil = no expiration
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}

// ArchivePayload is the body of a JobTypeArchiveAnalysis job.
type ArchivePayload struct {
	Result      models.FaceAnalysis `json:"result"`
	ImageBase64 string              `json:"image_base64"`
}

// NewArchiveJob creates an archive job for a single-face result.
func NewArchiveJob(userID uuid.UUID, result models.FaceAnalysis, imageBase64 string) (*Job, error) {
	payload, err := json.Marshal(ArchivePayload{Result: result, ImageBase64: imageBase64})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal archive payload: %w", err)
	}
	return &Job{
		ID:         uuid.New(),
		Type:       JobTypeArchiveAnalysis,
		UserID:     userID,
		Payload:    payload,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}, nil
}

// ArchivePayload decodes the job payload.
func (j *Job) ArchivePayload() (*ArchivePayload, error) {
	if j.Type != JobTypeArchiveAnalysis {
		return nil, fmt.Errorf("job %s has type %q, not %q", j.ID, j.Type, JobTypeArchiveAnalysis)
	}
	var p ArchivePayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode archive payload: %w", err)
	}
	if p.ImageBase64 == "" {
		return nil, fmt.Errorf("archive payload for job %s has no image", j.ID)
	}
	return &p, nil
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	now := time.Now()
	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}
	return !j.IsExpired()
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	return j.NotAfter != nil && time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// ScheduleRetry bumps the retry count and delays the job with exponential backoff.
func (j *Job) ScheduleRetry(now time.Time) {
	j.RetryCount++
	at := now.Add(RetryDelay(j.RetryCount))
	j.NotBefore = &at
}

// RetryDelay is the backoff before attempt number retry (1-based).
func RetryDelay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := baseRetryDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}
