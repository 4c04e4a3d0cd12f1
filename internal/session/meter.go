// Package session aggregates token usage per client session.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeaderName carries the client-chosen session identifier.
const HeaderName = "X-Session-ID"

// DefaultTTL is how long an idle session total is kept.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "glowlens:session:"

// ErrInvalidSessionID is returned for identifiers outside [A-Za-z0-9_-]{8,128}.
var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// ValidID reports whether id is an acceptable session identifier.
func ValidID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Meter accumulates tokens per (user, session).
type Meter interface {
	Add(ctx context.Context, userID, sessionID string, tokens int64) (int64, error)
	Total(ctx context.Context, userID, sessionID string) (int64, error)
}

// RedisMeter keeps totals in Redis with a sliding TTL.
type RedisMeter struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Meter = (*RedisMeter)(nil)

// NewRedisMeter creates a meter. ttl <= 0 uses DefaultTTL.
func NewRedisMeter(client *redis.Client, ttl time.Duration) *RedisMeter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisMeter{client: client, ttl: ttl}
}

func key(userID, sessionID string) string {
	return keyPrefix + userID + ":" + sessionID
}

// Add increments the session total and refreshes its TTL.
func (m *RedisMeter) Add(ctx context.Context, userID, sessionID string, tokens int64) (int64, error) {
	if !ValidID(sessionID) {
		return 0, ErrInvalidSessionID
	}
	k := key(userID, sessionID)
	pipe := m.client.TxPipeline()
	incr := pipe.IncrBy(ctx, k, tokens)
	pipe.Expire(ctx, k, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record session tokens: %w", err)
	}
	return incr.Val(), nil
}

// Total returns the session total, zero for unknown sessions.
func (m *RedisMeter) Total(ctx context.Context, userID, sessionID string) (int64, error) {
	if !ValidID(sessionID) {
		return 0, ErrInvalidSessionID
	}
	n, err := m.client.Get(ctx, key(userID, sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read session tokens: %w", err)
	}
	return n, nil
}

// MemoryMeter is an in-process Meter for tests and single-process tools.
// Totals never expire.
type MemoryMeter struct {
	mu     sync.Mutex
	totals map[string]int64
}

var _ Meter = (*MemoryMeter)(nil)

// NewMemoryMeter creates an empty in-process meter.
func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{totals: make(map[string]int64)}
}

func (m *MemoryMeter) Add(_ context.Context, userID, sessionID string, tokens int64) (int64, error) {
	if !ValidID(sessionID) {
		return 0, ErrInvalidSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(userID, sessionID)
	m.totals[k] += tokens
	return m.totals[k], nil
}

func (m *MemoryMeter) Total(_ context.Context, userID, sessionID string) (int64, error) {
	if !ValidID(sessionID) {
		return 0, ErrInvalidSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[key(userID, sessionID)], nil
}
