package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sorapixel/internal/adapter/repo"
	"sorapixel/internal/compositor"
	"sorapixel/internal/domain"
	"sorapixel/internal/fit"
	"sorapixel/internal/http/handlers"
	httpapi "sorapixel/internal/http/httpapi"
	"sorapixel/internal/infra"
	"sorapixel/internal/infra/geoip"
	"sorapixel/internal/ledger"
	"sorapixel/internal/middleware"
	"sorapixel/internal/pipeline"
	"sorapixel/internal/providers/genai"
	"sorapixel/internal/storage"
	"sorapixel/internal/usage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	var (
		accounts domain.AccountStore
		jobs     domain.UsageStore
	)
	switch cfg.LedgerBackend {
	case "memory":
		logger.Warn().Msg("ledger backend is in-memory; balances are lost on restart")
		accounts = ledger.NewMemoryStore()
		jobs = usage.NewMemoryStore()
	default:
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		runner := infra.NewSQLRunner(dbpool, logger)
		accounts = repo.NewAccountRepository(runner)
		jobs = repo.NewUsageRepository(runner)
	}

	var cache ledger.BalanceCache = ledger.NewMemoryCache(cfg.BalanceCacheTTL)
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		cache = ledger.NewRedisCache(rdb, cfg.BalanceCacheTTL, logger)
	}

	led := ledger.New(accounts, ledger.Options{
		FreeLimit:         cfg.FreeStudioLimit,
		DailyRewardTokens: cfg.DailyRewardTokens,
		Cache:             cache,
		Metrics:           metrics,
		Logger:            &logger,
	})

	gen, err := genai.NewClient(genai.Options{
		APIKey:            cfg.GeminiAPIKey,
		BaseURL:           cfg.GeminiBaseURL,
		ImageModel:        cfg.GeminiImageModel,
		TextModel:         cfg.GeminiTextModel,
		Retry:             genai.RetryPolicy{MaxRetries: cfg.GeneratorMaxRetries, BaseDelay: cfg.GeneratorBaseDelay, MaxDelay: 30 * time.Second},
		RequestsPerSecond: cfg.GeneratorRPS,
		Metrics:           metrics,
		Logger:            &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build generator client")
	}
	if gen.Offline() {
		logger.Warn().Msg("GEMINI_API_KEY not set; generator runs offline and echoes inputs")
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to initialize artifact storage")
	}
	recorder := usage.NewRecorder(jobs, storage.NewArtifactUploader(objects), usage.Options{
		Metrics: metrics,
		Logger:  &logger,
	})

	orchestrator := pipeline.New(
		led,
		gen,
		fit.NewEngine(fit.NewGeneratorOutpainter(gen), &logger),
		compositor.New(cfg.WatermarkText),
		recorder,
		pipeline.Options{
			SubtaskTimeout: cfg.SubtaskTimeout,
			RequestTimeout: cfg.PipelineTimeout,
			Metrics:        metrics,
			Logger:         &logger,
		},
	)

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		countryLookup = resolver.CountryCode
	}

	app := handlers.NewApp(led, orchestrator, reg, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		AdminToken:      cfg.AdminToken,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   countryLookup,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Usage writes are detached from requests; let in-flight ones land.
	if err := recorder.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("usage writes still pending at shutdown")
	}
	logger.Info().Msg("server stopped")
}

func newObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.StorageDriver == "s3" {
		s3store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3store, nil
	}
	fs, err := storage.NewFileStore(cfg.StorageBasePath)
	if err != nil {
		return nil, err
	}
	return fs, nil
}
