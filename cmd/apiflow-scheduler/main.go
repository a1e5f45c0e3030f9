// apiflow Scheduler — запускает workflows по cron-расписанию.
//
// Экземпляров может быть несколько: тики выполняет только лидер,
// удерживающий pg advisory lock. Созданные runs уходят worker'ам через
// RabbitMQ; без брокера их подхватит polling worker'ов.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/apiflow/internal/config"
	"github.com/shaiso/apiflow/internal/mq"
	"github.com/shaiso/apiflow/internal/repo"
	"github.com/shaiso/apiflow/internal/scheduler"
	"github.com/shaiso/apiflow/internal/telemetry"
)

const (
	schedLockKey int64 = 424242
	tickInterval       = time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting apiflow-scheduler")

	if !cfg.Scheduler.Enabled {
		logger.Info("scheduler disabled by config")
		return
	}

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

	var queue scheduler.RunQueue
	mqConn, err := mq.Connect(ctx, cfg.RabbitMQ.URL, logger, 5)
	if err != nil {
		logger.Warn("RabbitMQ not available, runs are left for worker polling", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		queue = mq.NewPublisher(mqConn, logger)
		logger.Info("RabbitMQ connected")
	}

	sched := scheduler.New(scheduler.Config{
		Workflows:       repo.NewWorkflowRepo(pool),
		Runs:            repo.NewRunRepo(pool),
		Queue:           queue,
		Logger:          logger,
		RefreshInterval: cfg.Scheduler.RefreshInterval,
	})

	go lead(ctx, pool, sched, logger)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
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

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("apiflow-scheduler stopped")
}

// lead пытается стать лидером раз в tickInterval и, получив lock,
// крутит scheduler до отмены ctx или потери соединения.
//
// Advisory lock живёт в сессии, поэтому лидер держит отдельное
// соединение из пула всё время лидерства.
func lead(ctx context.Context, pool *pgxpool.Pool, sched *scheduler.Scheduler, logger *slog.Logger) {
	tk := time.NewTicker(tickInterval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}

		conn, err := pool.Acquire(ctx)
		if err != nil {
			logger.Warn("acquire connection for leader lock", "error", err)
			continue
		}

		var ok bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
			logger.Warn("leader lock error", "error", err)
			conn.Release()
			continue
		}
		if !ok {
			// не лидер — пробуем на следующем тике
			conn.Release()
			continue
		}

		logger.Info("became scheduler leader")
		runLeader(ctx, conn, sched, logger)

		_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
		conn.Release()
		logger.Info("scheduler leadership released")
	}
}

// runLeader выполняет тики, пока жива сессия с lock.
func runLeader(ctx context.Context, conn *pgxpool.Conn, sched *scheduler.Scheduler, logger *slog.Logger) {
	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Проверяем сессию: если соединение потеряно, lock тоже потерян
	done := make(chan struct{})
	go func() {
		defer close(done)
		tk := time.NewTicker(10 * time.Second)
		defer tk.Stop()
		for {
			select {
			case <-leaderCtx.Done():
				return
			case <-tk.C:
				if err := conn.Ping(leaderCtx); err != nil && leaderCtx.Err() == nil {
					logger.Error("leader connection lost", "error", err)
					cancel()
					return
				}
			}
		}
	}()

	sched.Run(leaderCtx, tickInterval)
	cancel()
	<-done
}
