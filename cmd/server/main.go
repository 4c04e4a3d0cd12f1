package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/glowlens/internal/analysis"
	"github.com/benvon/glowlens/internal/archive"
	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/database"
	"github.com/benvon/glowlens/internal/handlers"
	"github.com/benvon/glowlens/internal/imaging"
	"github.com/benvon/glowlens/internal/logger"
	"github.com/benvon/glowlens/internal/middleware"
	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/queue"
	"github.com/benvon/glowlens/internal/quota"
	"github.com/benvon/glowlens/internal/services/ai"
	"github.com/benvon/glowlens/internal/services/oidc"
	"github.com/benvon/glowlens/internal/session"
	"github.com/benvon/glowlens/internal/storage"
	"github.com/benvon/glowlens/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Set with -ldflags "-X main.version=..."
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const (
	serviceName    = "glowlens-api"
	reloadInterval = time.Minute
	jwksCacheTTL   = 10 * time.Minute
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug mode for LLM API logging")
	migrateFlag := flag.Bool("migrate", true, "Apply pending database migrations on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateAuth(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(serviceName, debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync(zapLogger) }()

	zapLogger.Info("starting_server",
		zap.String("version", version),
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("ai_model", cfg.AI.Model),
		zap.String("archive_mode", cfg.ArchiveMode),
		zap.String("quota_timezone", cfg.Quota.Location.String()),
		zap.Int("quota_daily_limit", cfg.Quota.DailyLimit),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	tracerProvider := initTracing(cfg, zapLogger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx, tracerProvider); err != nil {
			zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
		}
	}()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_database")

	if *migrateFlag {
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			zapLogger.Fatal("failed_to_apply_migrations", zap.Error(err))
		}
		zapLogger.Info("database_migrations_applied")
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	var jobQueue queue.JobQueue
	if cfg.ArchiveMode == config.ArchiveModeQueue {
		jobQueue = connectQueue(cfg.RabbitMQURL, zapLogger)
		defer func() {
			if err := jobQueue.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
	}

	// Repositories
	profileRepo := database.NewProfileRepository(db)
	analysisRepo := database.NewAnalysisRepository(db)
	corsConfigRepo := database.NewCorsConfigRepository(db)
	ratelimitConfigRepo := database.NewRatelimitConfigRepository(db)

	ledger := quota.NewLedger(profileRepo,
		quota.WithDailyLimit(cfg.Quota.DailyLimit),
		quota.WithInitialTokens(cfg.Quota.InitialTokens),
		quota.WithLocation(cfg.Quota.Location),
		quota.WithLogger(zapLogger.Named("quota")),
	)

	var (
		blobStore *storage.MinioStore
		archiver  *archive.Archiver
	)
	if err := cfg.ValidateStorage(); err != nil {
		zapLogger.Warn("blob_storage_not_configured_archiving_disabled", zap.Error(err))
	} else {
		blobStore, err = storage.NewMinioStore(storage.Config{
			Endpoint:      cfg.Storage.Endpoint,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			UseSSL:        cfg.Storage.UseSSL,
			Region:        cfg.Storage.Region,
			Bucket:        cfg.Storage.Bucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			zapLogger.Fatal("failed_to_create_blob_store", zap.Error(err))
		}
		archiver = archive.NewArchiver(blobStore, analysisRepo, zapLogger.Named("archive"))
	}

	gateway, err := ai.NewProviderRegistry().GetProvider(cfg.AI.Provider, ai.ProviderConfig{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		Timeout:        cfg.AI.Timeout,
		ResponseFormat: cfg.AI.ResponseFormat,
		Temperature:    cfg.AI.Temperature,
		Language:       cfg.AI.Language,
		Logger:         zapLogger.Named("ai"),
		DebugMode:      debugMode,
	})
	if err != nil {
		zapLogger.Fatal("failed_to_create_ai_gateway", zap.Error(err))
	}
	if !ai.IsConfigured(gateway) {
		zapLogger.Warn("ai_gateway_not_configured_analysis_disabled")
	}

	normalizer := imaging.NewNormalizer()
	meter := session.NewRedisMeter(redisClient, session.DefaultTTL)

	pipelineOpts := []analysis.Option{
		analysis.WithSessionMeter(meter),
		analysis.WithLogger(zapLogger.Named("analysis")),
	}
	if jobQueue != nil {
		pipelineOpts = append(pipelineOpts, analysis.WithArchiveQueue(jobQueue))
	}
	var pipelineArchiver analysis.Archiver
	if archiver != nil {
		pipelineArchiver = archiver
	}
	pipeline := analysis.New(normalizer, gateway, ledger, pipelineArchiver, pipelineOpts...)

	verifier, err := oidc.NewVerifier(oidc.VerifierConfig{
		Secret:   cfg.Auth.JWTSecret,
		JWKSURL:  cfg.Auth.JWKSURL,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}, oidc.NewJWKSManager(&http.Client{Timeout: 10 * time.Second}, jwksCacheTTL))
	if err != nil {
		zapLogger.Fatal("failed_to_create_token_verifier", zap.Error(err))
	}

	// Handlers
	analysisHandler := handlers.NewAnalysisHandler(pipeline, normalizer, zapLogger)
	var history handlers.HistoryLister
	if archiver != nil {
		history = archiver
	}
	accountHandler := handlers.NewAccountHandler(ledger, history, meter, zapLogger)

	healthChecker := handlers.NewHealthChecker(handlers.VersionInfo{Version: version, Commit: commit, BuildDate: buildDate})
	healthChecker.Register("database", db.HealthCheck)
	healthChecker.Register("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	if jobQueue != nil {
		healthChecker.Register("rabbitmq", jobQueue.HealthCheck)
	} else {
		healthChecker.RegisterOptional("rabbitmq", nil)
	}
	if blobStore != nil {
		healthChecker.RegisterOptional("blob_store", blobStore.HealthCheck)
	} else {
		healthChecker.RegisterOptional("blob_store", nil)
	}

	// Rate limits: one reloader per named rate
	defaultLimiter, err := middleware.NewRateLimitReloader(redisClient, ratelimitConfigRepo,
		models.RatelimitKeyDefault, middleware.DefaultRate, zapLogger, reloadInterval)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limit_reloader", zap.Error(err))
	}
	analyzeLimiter, err := middleware.NewRateLimitReloader(redisClient, ratelimitConfigRepo,
		models.RatelimitKeyAnalyze, middleware.DefaultAnalyzeRate, zapLogger, reloadInterval)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limit_reloader", zap.Error(err))
	}
	corsReloader := middleware.NewCORSReloader(corsConfigRepo, cfg.FrontendURL, zapLogger, reloadInterval)

	r := mux.NewRouter()

	// In gorilla/mux the middleware registered first is the outermost.
	if tracerProvider != nil {
		r.Use(otelmux.Middleware(serviceName))
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(corsReloader.Middleware())
	r.Use(middleware.Logging(zapLogger))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", healthChecker.Version).Methods(http.MethodGet)
	handlers.NewOpenAPIHandler().RegisterRoutes(r)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(verifier, zapLogger))
	api.Use(defaultLimiter.Middleware())
	api.Use(middleware.ContentType(zapLogger))

	// Image routes carry large bodies and wait on the model provider.
	imageRoutes := api.NewRoute().Subrouter()
	imageRoutes.Use(middleware.MaxRequestSize(middleware.MaxImageRequestSize, zapLogger))
	imageRoutes.Use(middleware.Timeout(middleware.AnalyzeRequestTimeout))

	analyzeRoute := imageRoutes.NewRoute().Subrouter()
	analyzeRoute.Use(analyzeLimiter.Middleware())
	analyzeRoute.HandleFunc("/analyze", analysisHandler.Analyze).Methods(http.MethodPost)
	imageRoutes.HandleFunc("/images/normalize", analysisHandler.Normalize).Methods(http.MethodPost)

	accountRoutes := api.NewRoute().Subrouter()
	accountRoutes.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize, zapLogger))
	accountRoutes.Use(middleware.Timeout(middleware.DefaultRequestTimeout))
	accountRoutes.HandleFunc("/quota", accountHandler.Quota).Methods(http.MethodGet)
	accountRoutes.HandleFunc("/history", accountHandler.History).Methods(http.MethodGet)
	accountRoutes.HandleFunc("/session/usage", accountHandler.SessionUsage).Methods(http.MethodGet)

	// Preflight requests are answered by the CORS middleware before reaching here.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      middleware.AnalyzeRequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	reloadCtx, reloadCancel := context.WithCancel(context.Background())
	defer reloadCancel()
	go corsReloader.Start(reloadCtx)
	go defaultLimiter.Start(reloadCtx)
	go analyzeLimiter.Start(reloadCtx)

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	reloadCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

func initTracing(cfg *config.Config, zapLogger *zap.Logger) *sdktrace.TracerProvider {
	if !cfg.OTELEnabled {
		return nil
	}
	if cfg.OTELEndpoint == "" {
		zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		return nil
	}
	tp, err := telemetry.InitTracer(context.Background(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		SampleRatio:    cfg.OTELSampleRatio,
	})
	if err != nil {
		zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		return nil
	}
	zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
	return tp
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// connectQueue retries with exponential backoff to ride out broker startup.
func connectQueue(amqpURL string, zapLogger *zap.Logger) queue.JobQueue {
	const (
		maxRetries   = 10
		initialDelay = 2 * time.Second
		maxDelay     = 30 * time.Second
	)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		q, err := queue.NewRabbitMQQueue(amqpURL, zapLogger.Named("queue"))
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			return q
		}
		lastErr = err

		delay := min(initialDelay*time.Duration(1<<uint(attempt)), maxDelay)
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)
		time.Sleep(delay)
	}

	zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
		zap.Int("max_retries", maxRetries),
		zap.Error(lastErr),
	)
	return nil
}
