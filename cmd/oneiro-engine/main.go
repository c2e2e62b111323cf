package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oneiroscope/oneiro-engine/internal/api"
	"github.com/oneiroscope/oneiro-engine/internal/cache"
	"github.com/oneiroscope/oneiro-engine/internal/config"
	"github.com/oneiroscope/oneiro-engine/internal/engine"
	"github.com/oneiroscope/oneiro-engine/internal/extractors"
	"github.com/oneiroscope/oneiro-engine/internal/knowledge"
	"github.com/oneiroscope/oneiro-engine/internal/metrics"
	"github.com/oneiroscope/oneiro-engine/internal/patterns"
	"github.com/oneiroscope/oneiro-engine/internal/ratelimit"
	"github.com/oneiroscope/oneiro-engine/internal/repo"
	"github.com/oneiroscope/oneiro-engine/internal/services"
	"github.com/oneiroscope/oneiro-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting oneiro-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		if cfg.Cache.Addr != "" {
			provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
				Addr:         cfg.Cache.Addr,
				Username:     cfg.Cache.Username,
				Password:     cfg.Cache.Password,
				DB:           cfg.Cache.DB,
				DialTimeout:  cfg.Cache.DialTimeout,
				ReadTimeout:  cfg.Cache.ReadTimeout,
				WriteTimeout: cfg.Cache.WriteTimeout,
				MaxRetries:   cfg.Cache.MaxRetries,
				TLS:          cfg.Cache.TLS,
			})
			if err != nil {
				logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
				cacheProvider = newMemoryCache(ctx)
			} else {
				cacheProvider = provider
			}
		} else {
			cacheProvider = newMemoryCache(ctx)
		}
	}
	defer cacheProvider.Close()

	base, err := knowledge.Load(cfg.Symbols.Path)
	if err != nil {
		logger.Error("failed to load symbol pack", slog.Any("error", err))
		os.Exit(1)
	}
	matcher, err := extractors.NewMatcher(base, logger)
	if err != nil {
		logger.Error("failed to build symbol matcher", slog.Any("error", err))
		os.Exit(1)
	}
	validator, err := extractors.NewValidator(base, logger)
	if err != nil {
		logger.Error("failed to build symbol validator", slog.Any("error", err))
		os.Exit(1)
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerClient:   cfg.RateLimit.PerClient,
		Global:      cfg.RateLimit.Global,
		Window:      cfg.RateLimit.Window,
		IdleWindows: cfg.RateLimit.IdleWindows,
	})
	go sweepLoop(ctx, limiter, cfg.RateLimit.Window)

	settings := make([]repo.ProviderSettings, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		settings = append(settings, repo.ProviderSettings{
			ID:          p.ID,
			Endpoint:    p.Endpoint,
			APIKey:      p.APIKey,
			Model:       p.Model,
			CostTier:    p.CostTier,
			Timeout:     p.Timeout,
			RetryBudget: p.RetryBudget,
			MaxOutput:   p.MaxOutput,
		})
	}
	descriptors, gateway := repo.NewProviderGateway(logger, settings)

	archive := repo.NewArchiveRepo(
		cfg.Archive.Endpoint,
		cfg.Archive.APIKey,
		cfg.Archive.Timeout,
		cacheProvider,
		cfg.Cache.SimilarCasesTTL,
		cfg.Cache.PatternsTTL,
	)

	cascade := engine.NewCascade(logger, gateway, descriptors, cfg.Engine.BreakerThreshold, cfg.Engine.BreakerCooldown)
	orchestrator, err := engine.NewOrchestrator(
		logger,
		limiter,
		matcher,
		validator,
		engine.NewToneEngine(logger),
		cascade,
		engine.NewFallbackComposer(logger),
		engine.NewQualityGate(logger, cfg.Engine.ReviewThreshold),
		archive,
		cfg.Engine.RequestDeadline,
	)
	if err != nil {
		logger.Error("failed to assemble pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	service, err := services.NewInterpretService(services.Deps{
		Logger:      logger,
		Pipeline:    orchestrator,
		Matcher:     matcher,
		Validator:   validator,
		Admitter:    limiter,
		Quota:       limiter,
		PatternRepo: archive,
		Miner:       patterns.NewMiner(logger, archive),
		Cache:       cacheProvider,
		ResultTTL:   cfg.Cache.ResultTTL,
		Providers:   descriptors,
	})
	if err != nil {
		logger.Error("failed to build interpret service", slog.Any("error", err))
		os.Exit(1)
	}

	server, err := api.NewServer(cfg.Server, service)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("http server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("oneiro-engine stopped")
}

// newMemoryCache starts the in-process provider with a background purge so
// expired entries do not accumulate between reads.
func newMemoryCache(ctx context.Context) *cache.MemoryProvider {
	provider := cache.NewMemoryProvider()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				provider.Purge()
			}
		}
	}()
	return provider
}

// sweepLoop drops idle rate-limit entries so per-client state stays bounded.
func sweepLoop(ctx context.Context, limiter *ratelimit.Limiter, window time.Duration) {
	if window <= 0 {
		window = time.Minute
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
