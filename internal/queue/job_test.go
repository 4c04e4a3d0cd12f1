package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/google/uuid"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestNewArchiveJob(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	score := 7.0
	result := models.FaceAnalysis{IsValidFace: true, HarmonyScore: &score, Suggestions: []string{"sleep"}}

	job, err := NewArchiveJob(userID, result, "aGVsbG8=")
	if err != nil {
		t.Fatalf("NewArchiveJob() error = %v", err)
	}
	if job.ID == uuid.Nil {
		t.Error("Expected job ID to be set")
	}
	if job.Type != JobTypeArchiveAnalysis {
		t.Errorf("Expected job type to be %s, got %s", JobTypeArchiveAnalysis, job.Type)
	}
	if job.UserID != userID {
		t.Errorf("Expected user ID to be %s, got %s", userID, job.UserID)
	}
	if job.RetryCount != 0 || job.MaxRetries != DefaultMaxRetries {
		t.Errorf("unexpected retry settings %d/%d", job.RetryCount, job.MaxRetries)
	}

	// Survives the wire format.
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Job
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	p, err := decoded.ArchivePayload()
	if err != nil {
		t.Fatalf("ArchivePayload() error = %v", err)
	}
	if p.ImageBase64 != "aGVsbG8=" || p.Result.HarmonyScore == nil || *p.Result.HarmonyScore != 7 {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestJob_ArchivePayloadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		job  *Job
	}{
		{name: "wrong type", job: &Job{Type: "reprocess", Payload: json.RawMessage(`{}`)}},
		{name: "bad json", job: &Job{Type: JobTypeArchiveAnalysis, Payload: json.RawMessage(`{`)}},
		{name: "no image", job: &Job{Type: JobTypeArchiveAnalysis, Payload: json.RawMessage(`{"result":{"isValidFace":true}}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tt.job.ArchivePayload(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestJob_ShouldProcess(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name string
		job  *Job
		want bool
	}{
		{name: "no time constraints", job: &Job{}, want: true},
		{name: "not before in past", job: &Job{NotBefore: timePtr(now.Add(-time.Hour))}, want: true},
		{name: "not before in future", job: &Job{NotBefore: timePtr(now.Add(time.Hour))}, want: false},
		{name: "expired", job: &Job{NotAfter: timePtr(now.Add(-time.Minute))}, want: false},
		{name: "within window", job: &Job{NotBefore: timePtr(now.Add(-time.Hour)), NotAfter: timePtr(now.Add(time.Hour))}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.job.ShouldProcess(); got != tt.want {
				t.Errorf("ShouldProcess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_ScheduleRetry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	job := &Job{MaxRetries: 2}

	if !job.CanRetry() {
		t.Fatal("fresh job should be retryable")
	}
	job.ScheduleRetry(now)
	if job.RetryCount != 1 || !job.NotBefore.Equal(now.Add(5*time.Second)) {
		t.Errorf("first retry: count=%d not_before=%v", job.RetryCount, job.NotBefore)
	}
	job.ScheduleRetry(now)
	if job.RetryCount != 2 || !job.NotBefore.Equal(now.Add(10*time.Second)) {
		t.Errorf("second retry: count=%d not_before=%v", job.RetryCount, job.NotBefore)
	}
	if job.CanRetry() {
		t.Error("job should be exhausted after MaxRetries")
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{20, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.retry); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestBuildPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	newQueue := func(delayed bool) *RabbitMQQueue {
		return &RabbitMQQueue{
			exchangeName:        DefaultExchangeName,
			delayedExchangeName: DefaultDelayedExchangeName,
			delayedAvailable:    delayed,
		}
	}

	t.Run("immediate", func(t *testing.T) {
		t.Parallel()
		job := &Job{ID: uuid.New(), Type: JobTypeArchiveAnalysis}
		exchange, p, err := newQueue(true).buildPublishing(job, now)
		if err != nil {
			t.Fatal(err)
		}
		if exchange != DefaultExchangeName || p.Headers != nil {
			t.Errorf("exchange=%s headers=%v", exchange, p.Headers)
		}
		if p.MessageId != job.ID.String() || p.Type != string(JobTypeArchiveAnalysis) {
			t.Errorf("unexpected properties %+v", p)
		}
	})

	t.Run("delayed with plugin", func(t *testing.T) {
		t.Parallel()
		job := &Job{ID: uuid.New(), NotBefore: timePtr(now.Add(10 * time.Second))}
		exchange, p, err := newQueue(true).buildPublishing(job, now)
		if err != nil {
			t.Fatal(err)
		}
		if exchange != DefaultDelayedExchangeName || p.Headers["x-delay"] != int64(10000) {
			t.Errorf("exchange=%s headers=%v", exchange, p.Headers)
		}
	})

	t.Run("delayed without plugin", func(t *testing.T) {
		t.Parallel()
		job := &Job{ID: uuid.New(), NotBefore: timePtr(now.Add(10 * time.Second))}
		exchange, _, err := newQueue(false).buildPublishing(job, now)
		if err != nil {
			t.Fatal(err)
		}
		if exchange != DefaultExchangeName {
			t.Errorf("exchange = %s, want %s", exchange, DefaultExchangeName)
		}
	})

	t.Run("expiration", func(t *testing.T) {
		t.Parallel()
		job := &Job{ID: uuid.New(), NotAfter: timePtr(now.Add(90 * time.Second))}
		_, p, err := newQueue(false).buildPublishing(job, now)
		if err != nil {
			t.Fatal(err)
		}
		if p.Expiration != "90000" {
			t.Errorf("Expiration = %q, want 90000", p.Expiration)
		}
	})
}
