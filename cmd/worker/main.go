// Package main provides the entrypoint for the Routewise background worker.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/api/handler"
	"github.com/routewise/routewise/internal/api/models"
	"github.com/routewise/routewise/internal/api/response"
	"github.com/routewise/routewise/internal/app"
	"github.com/routewise/routewise/internal/config"
	"github.com/routewise/routewise/internal/telemetry"
	"github.com/routewise/routewise/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "routewise-worker"

	configPath := flag.String("config", os.Getenv("ROUTEWISE_CONFIG"), "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Str("service", serviceName).Logger()
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	zerolog.SetGlobalLevel(cfg.Log.ZerologLevel())
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
	if cfg.Log.Pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Routewise worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceName = serviceName
	telemetryCfg.ServiceVersion = Version
	tp, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	components, err := app.Build(ctx, *cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build services")
		return
	}
	defer components.Close()

	processorCfg := worker.ProcessorConfig{
		Plans:      components.Plans,
		Distance:   components.Distance,
		JobTimeout: cfg.PubSub.JobTimeout,
		Logger:     log,
	}
	if components.Purger != nil {
		processorCfg.Purger = components.Purger
	}

	var warm *worker.WarmJob
	if components.Cached != nil {
		warm = worker.NewWarmJob(worker.WarmJobConfig{
			Config:  worker.DefaultWarmConfig(),
			Service: components.Cached,
			Logger:  log,
		})
		processorCfg.Warm = warm
	}
	processor := worker.NewProcessor(processorCfg)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.PubSub.HealthPort),
		Handler:      healthRouter(components, warm),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.PubSub.ProjectID != "" {
		subscriber, err := worker.NewPubSubSubscriber(ctx, worker.PubSubConfig{
			ProjectID:              cfg.PubSub.ProjectID,
			SubscriptionName:       cfg.PubSub.SubscriptionID,
			MaxOutstandingMessages: cfg.PubSub.MaxOutstandingMessages,
			NumGoroutines:          cfg.PubSub.NumGoroutines,
			Processor:              processor,
			Logger:                 log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub subscriber")
			return
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := subscriber.Start(ctx); err != nil {
				log.Error().Err(err).Msg("pubsub subscriber stopped")
			}
		}()
	} else {
		log.Warn().Msg("pubsub project not configured, worker is idle")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

func healthRouter(components *app.Components, warm *worker.WarmJob) http.Handler {
	ops := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Registry:  components.Registry,
		Flags:     components.Flags,
		Checks:    components.Checks,
	})

	r := chi.NewRouter()
	r.Get("/health", ops.HealthCheck)
	r.Get("/ready", ops.ReadinessCheck)
	r.Get("/status", ops.SystemStatus)
	r.Get("/jobs/warm", func(w http.ResponseWriter, r *http.Request) {
		if warm == nil {
			response.Problem(w, r, models.KindNotFound, "distance cache warm-up not configured")
			return
		}
		response.JSON(w, r, http.StatusOK, warm.MetricsSnapshot())
	})
	return r
}
