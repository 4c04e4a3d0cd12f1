package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 5 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthChecker handles health check requests
type HealthChecker struct {
	checks   map[string]Check
	optional map[string]bool
	version  VersionInfo
}

// VersionInfo is reported by /version and stamped at build time.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version VersionInfo) *HealthChecker {
	return &HealthChecker{
		checks:   make(map[string]Check),
		optional: make(map[string]bool),
		version:  version,
	}
}

// Register adds a required dependency check. A nil check reports "not configured".
func (h *HealthChecker) Register(name string, check Check) {
	h.checks[name] = check
}

// RegisterOptional adds a check whose failure degrades but does not fail health.
func (h *HealthChecker) RegisterOptional(name string, check Check) {
	h.checks[name] = check
	h.optional[name] = true
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles the /healthz endpoint. ?mode=extended probes every
// registered dependency.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	statusCode := http.StatusOK
	if r.URL.Query().Get("mode") == "extended" {
		response.Checks, response.Status = h.run(r.Context())
		if response.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func (h *HealthChecker) run(ctx context.Context) (map[string]string, string) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(names))
		failed  = make(map[string]bool)
		eg      errgroup.Group
	)
	for _, name := range names {
		check := h.checks[name]
		if check == nil {
			results[name] = "not configured"
			continue
		}
		eg.Go(func() error {
			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = "unhealthy: " + err.Error()
				failed[name] = true
			} else {
				results[name] = "healthy"
			}
			return nil
		})
	}
	_ = eg.Wait()

	status := "healthy"
	for name := range failed {
		if !h.optional[name] {
			return results, "unhealthy"
		}
		status = "degraded"
	}
	return results, status
}

// Version handles the /version endpoint
func (h *HealthChecker) Version(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.version)
}
