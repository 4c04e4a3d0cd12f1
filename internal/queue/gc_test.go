package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockDLQPurger struct {
	calls     atomic.Int32
	purgeFunc func(ctx context.Context, retention time.Duration) (int, error)
}

func (m *mockDLQPurger) PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	m.calls.Add(1)
	if m.purgeFunc != nil {
		return m.purgeFunc(ctx, retention)
	}
	return 0, nil
}

func TestGarbageCollector_Collect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		purger    *mockDLQPurger
		retention time.Duration
		wantErr   bool
		wantCalls int32
		wantLog   string
	}{
		{
			name:      "nil purger is a no-op",
			retention: 24 * time.Hour,
		},
		{
			name: "purges archive jobs past retention",
			purger: &mockDLQPurger{purgeFunc: func(_ context.Context, retention time.Duration) (int, error) {
				if retention != 24*time.Hour {
					return 0, errors.New("unexpected retention")
				}
				return 3, nil
			}},
			retention: 24 * time.Hour,
			wantCalls: 1,
			wantLog:   "dlq_gc_purged",
		},
		{
			name:      "nothing to purge logs nothing",
			purger:    &mockDLQPurger{},
			retention: time.Hour,
			wantCalls: 1,
		},
		{
			name: "purge error",
			purger: &mockDLQPurger{purgeFunc: func(context.Context, time.Duration) (int, error) {
				return 0, errors.New("channel closed")
			}},
			retention: time.Hour,
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zap.InfoLevel)
			var purger DLQPurger
			if tt.purger != nil {
				purger = tt.purger
			}
			gc := NewGarbageCollector(purger, time.Minute, tt.retention, zap.New(core))

			err := gc.collect(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("collect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.purger != nil && tt.purger.calls.Load() != tt.wantCalls {
				t.Errorf("PurgeOlderThan called %d times, want %d", tt.purger.calls.Load(), tt.wantCalls)
			}
			if tt.wantLog != "" && logs.FilterMessage(tt.wantLog).Len() != 1 {
				t.Errorf("expected %s log, got %v", tt.wantLog, logs.All())
			}
			if tt.wantLog == "" && logs.Len() != 0 {
				t.Errorf("unexpected logs: %v", logs.All())
			}
		})
	}
}

func TestGarbageCollector_Start(t *testing.T) {
	t.Parallel()

	t.Run("stops on cancel", func(t *testing.T) {
		t.Parallel()
		gc := NewGarbageCollector(&mockDLQPurger{}, 24*time.Hour, time.Hour, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := gc.Start(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Start() = %v, want context.Canceled", err)
		}
	})

	t.Run("purges on every tick and survives failures", func(t *testing.T) {
		t.Parallel()
		purger := &mockDLQPurger{purgeFunc: func(context.Context, time.Duration) (int, error) {
			return 0, errors.New("broker unavailable")
		}}
		gc := NewGarbageCollector(purger, 5*time.Millisecond, time.Hour, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- gc.Start(ctx) }()

		deadline := time.After(2 * time.Second)
		for purger.calls.Load() < 2 {
			select {
			case <-deadline:
				cancel()
				t.Fatalf("expected at least 2 purges, got %d", purger.calls.Load())
			case <-time.After(time.Millisecond):
			}
		}
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Start() = %v, want context.Canceled", err)
		}
	})
}
