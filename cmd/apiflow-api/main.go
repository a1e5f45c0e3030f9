// apiflow API — HTTP API для редактора и CLI.
//
// API:
//   - CRUD workflows, валидация, экспорт/импорт опубликованной конфигурации
//   - Синхронные runs и постановка асинхронных runs в RabbitMQ
//   - Websocket /api/v1/stream со статусами узлов в реальном времени
//   - /healthz и /metrics
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/apiflow/internal/api"
	"github.com/shaiso/apiflow/internal/config"
	"github.com/shaiso/apiflow/internal/mq"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
	"github.com/shaiso/apiflow/internal/steps"
	"github.com/shaiso/apiflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting apiflow-api")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	observers := orchestrator.Observers{metrics}

	// RabbitMQ: без брокера API работает, но ?async=true недоступен
	var queue api.RunQueue
	mqConn, err := mq.Connect(ctx, cfg.RabbitMQ.URL, logger, 5)
	if err != nil {
		logger.Warn("RabbitMQ not available, async runs disabled", "error", err)
	} else {
		defer mqConn.Close()

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher := mq.NewPublisher(mqConn, logger)
		queue = publisher
		observers = append(observers, mq.NewEventPublisher(publisher, logger))
		logger.Info("RabbitMQ connected")
	}

	orch := orchestrator.New(orchestrator.Config{
		Registry:    newRegistry(cfg, logger),
		Observers:   observers,
		MaxParallel: cfg.Engine.MaxParallel,
		VarPrefix:   cfg.Engine.VarPrefix,
		Logger:      logger,
	})

	handler := api.NewHandler(api.Config{
		Workflows:      repo.NewWorkflowRepo(pool),
		Runs:           repo.NewRunRepo(pool),
		Orchestrator:   orch,
		Queue:          queue,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// События runs из worker'ов попадают в тот же hub, что и синхронные runs
	var events *mq.Consumer
	if mqConn != nil {
		events = mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Declare: func(ctx context.Context) (mq.Queue, error) {
				return mq.DeclareEventQueue(ctx, mqConn, mq.RoutingKeyAllEvents)
			},
			Handler:  mq.EventHandler(handler.Hub()),
			Prefetch: 50,
		})
		go func() {
			if err := events.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer error", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORS.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           cors(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if events != nil {
		events.Stop()
	}

	logger.Info("stopped")
}

// newRegistry собирает исполнители узлов. Симуляция включается только
// явным simulation.enabled.
func newRegistry(cfg *config.Config, logger *slog.Logger) *steps.Registry {
	var transport steps.Transport
	if cfg.Simulation.Enabled {
		logger.Warn("simulation mode: external calls are not sent",
			"failure_rate", cfg.Simulation.FailureRate,
			"latency_ms", cfg.Simulation.LatencyMs,
		)
		transport = steps.NewSimulatedTransport(cfg.Simulation.FailureRate, cfg.Simulation.Latency(), cfg.Simulation.Seed)
	}
	return steps.DefaultRegistry(steps.Deps{
		Transport:      transport,
		DefaultTimeout: cfg.Engine.DefaultTimeout(),
	})
}
