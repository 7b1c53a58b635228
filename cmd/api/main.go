// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/nearby/internal/api"
	"github.com/onnwee/nearby/internal/auth"
	"github.com/onnwee/nearby/internal/cache"
	"github.com/onnwee/nearby/internal/config"
	"github.com/onnwee/nearby/internal/feed"
	"github.com/onnwee/nearby/internal/health"
	"github.com/onnwee/nearby/internal/middleware"
	"github.com/onnwee/nearby/internal/pipeline"
	"github.com/onnwee/nearby/internal/ranking"
	"github.com/onnwee/nearby/internal/search"
	"github.com/onnwee/nearby/internal/store"
	"github.com/onnwee/nearby/internal/tracing"
)

const (
	serviceName     = "nearby-api"
	serviceVersion  = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if *help {
		fmt.Println("Nearby API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, errs := config.Load(*configPath)
	env := config.DefaultEnv
	if cfg != nil {
		env = cfg.Env
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx, stop := signalContext()
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		logger.Error("failed to listen", "port", cfg.Port, "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger, ln); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// run wires the service, serves on ln and shuts down gracefully when ctx
// is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, ln net.Listener) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer app.close()

	server := &http.Server{
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// app is the wired service with the resources it must release.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSamplingRate,
		InsecureMode:   cfg.TracingInsecure,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	})

	var (
		docs      store.DocumentStore
		dbChecker health.Checker
	)
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		pg := store.NewPostgresStore(db, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		docs = pg
		dbChecker = health.NewDBChecker(db)
		logger.Info("using postgres document store")
	} else {
		mem, err := store.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		docs = mem
		logger.Info("using in-memory document store", "seed_file", cfg.SeedFile)
	}

	var (
		redisClient  *redis.Client
		redisChecker health.Checker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		redisChecker = health.NewRedisChecker(redisClient)
	}

	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		// Defaults are returned alongside the error.
		logger.Warn("ranking calibration unavailable, using defaults", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	pipelineMetrics := pipeline.NewMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register http metrics: %w", err)
	}
	if err := pipelineMetrics.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}

	blocks := store.NewDocumentBlockLookup(docs)
	media := feed.MediaResolver{
		BaseURL:        cfg.MediaBaseURL,
		CanonicalHost:  cfg.MediaCanonicalHost,
		AlternateHosts: cfg.MediaAlternateHosts,
	}
	normalizer := feed.NewNormalizer(media, weights, logger, pipelineMetrics)
	people := feed.NewPeopleSuggester(docs, normalizer, weights, cfg.PeopleGroupSize, cfg.EnrichmentConcurrency, logger)

	feedSvc := feed.NewService(docs, blocks, normalizer, people, feed.Config{
		FetchTimeout: cfg.FetchTimeout,
		Overfetch:    cfg.SourceOverfetch,
	}, pipelineMetrics, logger)

	searchCfg := search.DefaultConfig()
	searchCfg.FetchTimeout = cfg.FetchTimeout
	searchSvc := search.NewService(docs, blocks, normalizer, search.NewScorer(weights), searchCfg, pipelineMetrics, logger)

	var (
		responseCache  *cache.ResponseCache
		rateLimitStore middleware.RateLimitStore = middleware.NewInMemoryRateLimitStore()
	)
	if redisClient != nil {
		responseCache = cache.New(redisClient, cfg.CacheTTL, pipelineMetrics, logger)
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	} else {
		mem := rateLimitStore.(*middleware.InMemoryRateLimitStore)
		stopCleanup := startCleanup(mem, 5*time.Minute)
		a.closers = append(a.closers, stopCleanup)
	}

	var jwtSvc *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtSvc = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		logger.Warn("JWT_SECRET not set, all requests are anonymous")
	}

	a.handler = api.NewRouter(api.RouterConfig{
		Feed:           api.NewFeedHandlers(feedSvc, responseCache, pipelineMetrics, logger, cfg.RequestTimeout),
		Search:         api.NewSearchHandlers(searchSvc, responseCache, pipelineMetrics, logger, cfg.RequestTimeout),
		Health:         api.NewHealthHandlers(api.HealthHandlersConfig{DBChecker: dbChecker, RedisChecker: redisChecker, Logger: logger}),
		Logger:         logger,
		ServiceName:    serviceName,
		TracingEnabled: tp.IsEnabled(),
		Metrics:        httpMetrics,
		Gatherer:       reg,
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins, MaxAge: 600},
		Resolver:       auth.NewTokenResolver(jwtSvc, logger),
		RateLimitStore: rateLimitStore,
		GlobalLimit:    middleware.DefaultGlobalLimit(),
		SearchLimit:    middleware.RateLimitConfig{RequestsPerWindow: cfg.SearchRateLimit, WindowDuration: time.Minute},
	})
	return a, nil
}

// startCleanup evicts expired in-memory rate limit buckets until the
// returned stop function is called.
func startCleanup(s *middleware.InMemoryRateLimitStore, every time.Duration) func() {
	ticker := time.NewTicker(every)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
