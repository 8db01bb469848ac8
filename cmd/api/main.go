package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/ciro-tutor/cmd/mainconfig"
	"github.com/wolfman30/ciro-tutor/internal/api/router"
	"github.com/wolfman30/ciro-tutor/internal/app/bootstrap"
	"github.com/wolfman30/ciro-tutor/internal/chat"
	appconfig "github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/observability/metrics"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting ciro API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := setup(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setup builds the full HTTP handler. The returned cleanup closes pools and
// clients opened along the way.
func setup(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, func(), error) {
	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		awsCfg = &loaded
	}

	metricsHandler, routingMetrics := setupMetrics()

	needsRedis := cfg.SessionStore == "redis" || cfg.SessionLock == "redis"
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, needsRedis)

	sinks, err := bootstrap.BuildTurnSinks(ctx, cfg, awsCfg, routingMetrics, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		sinks.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}

	facade, err := bootstrap.BuildFacade(ctx, cfg, bootstrap.Deps{
		Redis:   redisClient,
		AWS:     awsCfg,
		Metrics: routingMetrics,
		Sinks:   sinks.List,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	chatHandler := chat.NewHandler(facade, facade.Registry().Names(), logger)
	return router.New(&router.Config{
		Logger:             logger,
		ChatHandler:        chatHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatRateLimit:      cfg.ChatRateLimit,
		ChatRateBurst:      cfg.ChatRateBurst,
		Context:            ctx,
	}), cleanup, nil
}

func setupMetrics() (http.Handler, *metrics.RoutingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewRoutingMetrics(reg)
}
