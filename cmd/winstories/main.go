// Command winstories serves the win-story API.
//
// It reads the story field of CRM records from PostgreSQL (cached in Redis),
// keeps one refresh coordinator per requested record, starts story generation
// through Kafka or an HTTP endpoint, and listens on the record change topic so
// regenerated stories reach the API without polling.
//
// Usage:
//
//	go run ./cmd/winstories [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/api/handler"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/api/router"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/diagnostics"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/recordsource"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/trigger"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/coordinator"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/registry"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting winstories service",
		"port", cfg.Server.Port,
		"trigger_mode", cfg.Trigger.Mode,
		"field", cfg.WinStory.Field,
	)

	if err := run(cfg); err != nil {
		slog.Error("winstories service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("winstories service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	// PostgreSQL is the record store; retry while it comes up.
	var db *postgres.Client
	err := resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: time.Second},
		func(context.Context) error {
			var err error
			db, err = postgres.New(cfg.Postgres)
			return err
		})
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to postgres")

	// Redis is optional; without it every read goes to Postgres.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, record cache disabled", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
			slog.Info("connected to redis")
		}
	}

	store := recordsource.NewPostgresStore(db, cfg.WinStory.Table, cfg.WinStory.Field)
	cache := recordsource.NewCache(rdb, store, cfg.Redis.CacheTTL, m)
	source := recordsource.NewSource(cache)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, false))
	if rdb != nil {
		checker.Register("redis", health.PingCheck(rdb.Ping, true))
	}

	// Trigger.
	var trig coordinator.Trigger
	switch cfg.Trigger.Mode {
	case config.TriggerModeHTTP:
		breaker := resilience.NewCircuitBreaker("generation-trigger", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Trigger.FailureThreshold,
			ResetTimeout:     cfg.Trigger.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		m.CircuitBreakerState.WithLabelValues(breaker.Name()).Set(float64(resilience.StateClosed))
		trig = trigger.NewHTTPTrigger(trigger.HTTPOptions{
			URL:     cfg.Trigger.URL,
			APIKey:  cfg.Trigger.APIKey,
			Timeout: cfg.Trigger.Timeout,
			Client:  &http.Client{Timeout: cfg.Trigger.Timeout + time.Second},
			Breaker: breaker,
		})
		checker.Register("trigger", func(context.Context) health.ComponentHealth {
			if state := breaker.GetState(); state != resilience.StateClosed {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + state.String()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	default:
		requests := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.GenerationRequests)
		defer requests.Close()
		trig = trigger.NewKafkaTrigger(requests)
	}

	// Diagnostics go to the log, Prometheus, and a Kafka topic.
	diagProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Diagnostics)
	defer diagProducer.Close()
	collector := diagnostics.NewBatchCollector(diagProducer, 100, 5*time.Second)
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		collector.Close()
	}()

	reg := registry.New(coordinator.Deps{
		Trigger: trig,
		Source:  source,
		Field:   cfg.WinStory.Field,
		Observer: diagnostics.Multi{
			diagnostics.NewLogObserver(slog.Default()),
			diagnostics.NewMetricsObserver(m),
			collector,
		},
	}, registry.WithPrimeTimeout(cfg.WinStory.OpTimeout))
	defer reg.Close()

	// Change feed.
	feed := recordsource.NewChangeFeed(source, cache, cfg.WinStory.Field)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecordChanges, feed.Handle)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil {
			slog.Error("change feed consumer stopped", "error", err)
		}
	}()
	defer func() {
		wg.Wait()
		consumer.Close()
	}()

	h := handler.New(reg, handler.Config{
		MaxStories: cfg.WinStory.MaxStories,
		OpTimeout:  cfg.WinStory.OpTimeout,
	})
	opts := router.Options{Metrics: m, Timeout: cfg.Server.WriteTimeout}
	if cfg.WinStory.RefreshPerMinute > 0 {
		opts.RefreshLimiter = ratelimit.New(cfg.WinStory.RefreshPerMinute, time.Minute)
		defer opts.RefreshLimiter.Stop()
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, checker, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("winstories service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		return err
	}
	return nil
}
