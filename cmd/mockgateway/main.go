package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/cashier/internal/infrastructure/config"
	"github.com/cassiomorais/cashier/internal/infrastructure/observability"
	"github.com/cassiomorais/cashier/internal/mockgateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger = observability.Component(logger, "mockgateway")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer("cashier-mockgateway", os.Stderr)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			defer observability.Shutdown(context.Background(), tp)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("mockgateway", reg)

	gw := mockgateway.New(
		mockgateway.WithPendingPolls(cfg.MockGateway.PendingPolls),
		mockgateway.WithRateLimit(cfg.MockGateway.RateLimit),
		mockgateway.WithAuthSecret(cfg.MockGateway.AuthSecret),
		mockgateway.WithLogger(logger),
		mockgateway.WithMetrics(metrics),
	)

	if cfg.MockGateway.AuthSecret != "" {
		token, err := mockgateway.IssueToken(cfg.MockGateway.AuthSecret, "demo-merchant", 24*time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to issue demo token")
		}
		logger.Info().Str("token", token).Msg("Demo merchant token, set CASHIER_GATEWAY_AUTH_TOKEN to use it")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", gw.Router())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MockGateway.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("Starting mock gateway")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("Server exited")
}
