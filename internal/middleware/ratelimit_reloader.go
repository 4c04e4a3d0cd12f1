package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

const (
	// DefaultRate applies to every API route.
	DefaultRate = "100-M"
	// DefaultAnalyzeRate additionally applies to the analyze route.
	DefaultAnalyzeRate = "10-M"

	rateLimitKeyPrefix = "glowlens:ratelimit:"
)

// RatelimitConfigStore is the settings table the reloader reads and seeds.
type RatelimitConfigStore interface {
	Get(ctx context.Context, key string) (*models.RatelimitConfig, error)
	Set(ctx context.Context, c *models.RatelimitConfig) error
}

// RateLimitReloader wraps ulule/limiter for one named rate and periodically
// reloads that rate from the database. Each route group gets its own reloader.
type RateLimitReloader struct {
	next        http.Handler
	store       limiter.Store
	repo        RatelimitConfigStore
	configKey   string
	defaultRate string
	log         *zap.Logger
	interval    time.Duration
	mu          sync.RWMutex
	current     http.Handler
}

// NewRateLimitReloader creates a rate limit middleware for configKey. Counters
// for different keys never share Redis entries.
func NewRateLimitReloader(redisClient *redis.Client, repo RatelimitConfigStore, configKey, defaultRate string, log *zap.Logger, reloadInterval time.Duration) (*RateLimitReloader, error) {
	if configKey == "" {
		configKey = models.RatelimitKeyDefault
	}
	if defaultRate == "" {
		defaultRate = DefaultRate
	}
	store, err := redisstore.NewStoreWithOptions(redisClient, limiter.StoreOptions{
		Prefix: rateLimitKeyPrefix + configKey,
	})
	if err != nil {
		return nil, err
	}
	return &RateLimitReloader{
		store:       store,
		repo:        repo,
		configKey:   configKey,
		defaultRate: defaultRate,
		log:         log,
		interval:    reloadInterval,
	}, nil
}

// Middleware returns a middleware that wraps next with rate limiting and hot-reload.
func (r *RateLimitReloader) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		r.next = next
		r.load(context.Background())
		return r
	}
}

// Start runs the reload loop until ctx is cancelled. Call after Middleware() is applied.
func (r *RateLimitReloader) Start(ctx context.Context) {
	runReloadLoop(ctx, r.interval, r.load)
}

// rateFor reads the configured rate, seeding the default when the row is absent.
func (r *RateLimitReloader) rateFor(ctx context.Context) string {
	cfg, err := r.repo.Get(ctx, r.configKey)
	switch {
	case err != nil:
		r.log.Warn("ratelimit_config_load_failed_using_default",
			zap.String("config_key", r.configKey),
			zap.String("default_rate", r.defaultRate),
			zap.Error(err),
		)
	case cfg != nil && cfg.Rate != "":
		return cfg.Rate
	default:
		if err := r.repo.Set(ctx, &models.RatelimitConfig{ConfigKey: r.configKey, Rate: r.defaultRate}); err != nil {
			r.log.Error("ratelimit_default_save_failed",
				zap.String("config_key", r.configKey),
				zap.Error(err),
			)
		}
	}
	return r.defaultRate
}

func (r *RateLimitReloader) load(ctx context.Context) {
	if r.next == nil {
		return
	}
	rateStr := r.rateFor(ctx)
	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		r.log.Error("ratelimit_parse_failed_using_default",
			zap.String("config_key", r.configKey),
			zap.String("rate", rateStr),
			zap.Error(err),
		)
		if rate, err = limiter.NewRateFromFormatted(r.defaultRate); err != nil {
			r.log.Error("ratelimit_default_parse_failed", zap.String("default_rate", r.defaultRate), zap.Error(err))
			return
		}
	}

	instance := limiter.New(r.store, rate)
	mw := stdlibmw.NewMiddleware(instance,
		stdlibmw.WithKeyGetter(rateLimitKey),
		stdlibmw.WithLimitReachedHandler(r.limitReached),
	)
	h := mw.Handler(r.next)

	r.mu.Lock()
	r.current = h
	r.mu.Unlock()
}

func (r *RateLimitReloader) limitReached(w http.ResponseWriter, req *http.Request) {
	if reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if wait := time.Until(time.Unix(reset, 0)); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}
	respondErrorJSON(w, req, http.StatusTooManyRequests, "rate_limited", "Too many requests, please slow down", r.log)
}

// rateLimitKey buckets authenticated callers by account and everyone else by IP.
func rateLimitKey(req *http.Request) string {
	if u := request.UserFromContext(req); u != nil {
		return "user:" + u.ID.String()
	}
	return "ip:" + request.ClientIP(req)
}

// ServeHTTP implements http.Handler.
func (r *RateLimitReloader) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	serveCurrent(&r.mu, &r.current, r.next, w, req)
}
