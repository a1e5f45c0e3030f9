// apiflow Worker — выполняет асинхронные runs.
//
// Worker:
//   - Получает run.requested из RabbitMQ
//   - Подхватывает PENDING runs из БД (polling fallback)
//   - Выполняет workflow и сохраняет отчёт
//   - Публикует статусы узлов в apiflow.events
//
// Workers масштабируются горизонтально.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/apiflow/internal/config"
	"github.com/shaiso/apiflow/internal/mq"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
	"github.com/shaiso/apiflow/internal/steps"
	"github.com/shaiso/apiflow/internal/telemetry"
	"github.com/shaiso/apiflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting apiflow-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
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
	logger.Info("database connected")

	observers := orchestrator.Observers{telemetry.NewMetrics(prometheus.DefaultRegisterer)}

	// RabbitMQ
	mqConn, err := mq.Connect(ctx, cfg.RabbitMQ.URL, logger, 5)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		observers = append(observers, mq.NewEventPublisher(mq.NewPublisher(mqConn, logger), logger))
	}

	orch := orchestrator.New(orchestrator.Config{
		Registry:    newRegistry(cfg, logger),
		Observers:   observers,
		MaxParallel: cfg.Engine.MaxParallel,
		VarPrefix:   cfg.Engine.VarPrefix,
		Logger:      logger,
	})

	// Создаём worker
	w := worker.New(worker.Config{
		Workflows:    repo.NewWorkflowRepo(pool),
		Runs:         repo.NewRunRepo(pool),
		Orchestrator: orch,
		Conn:         mqConn,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Без брокера worker работает на polling, но при потере связи сообщаем
		if mqConn != nil && !mqConn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("rabbitmq disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}
	server := &http.Server{Addr: port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("listening", "addr", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем worker: выполняющийся run сохраняется как CANCELLED
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("apiflow-worker stopped")
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
