package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/mq"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 1
)

// WorkflowLoader загружает workflow по ID (repo.WorkflowRepo).
type WorkflowLoader interface {
	GetByID(ctx context.Context, id string) (*domain.Workflow, error)
}

// RunStore — операции с runs, нужные воркеру (repo.RunRepo).
type RunStore interface {
	Claim(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
}

// Worker выполняет асинхронные runs.
//
// Worker — stateless компонент системы, который:
//   - Получает run.requested из очереди RabbitMQ (event-driven)
//   - Периодически проверяет PENDING runs в БД (polling fallback)
//   - Забирает run (PENDING → RUNNING) и выполняет workflow orchestrator'ом
//   - Сохраняет отчёт; события узлов публикуют observers orchestrator'а
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди: Claim не даёт выполнить run дважды.
type Worker struct {
	workflows    WorkflowLoader
	runs         RunStore
	orchestrator *orchestrator.Orchestrator

	// MQ
	conn     *mq.Connection
	consumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Workflows    WorkflowLoader
	Runs         RunStore
	Orchestrator *orchestrator.Orchestrator

	// Conn — соединение с RabbitMQ. Без него работает только polling.
	Conn *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	orch := cfg.Orchestrator
	if orch == nil {
		orch = orchestrator.New(orchestrator.Config{Logger: logger})
	}

	return &Worker{
		workflows:    cfg.Workflows,
		runs:         cfg.Runs,
		orchestrator: orch,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для runs.requested (если есть соединение с RabbitMQ)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"queue", w.conn != nil,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsRequested),
			Handler:  w.handleRunRequested,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("run consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения горутин.
// Выполняющийся run прерывается и сохраняется как CANCELLED.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, созданные пока были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	runs, err := w.runs.List(ctx, repo.RunFilter{
		Status: domain.RunStatusPending,
		Limit:  w.batchSize,
	})
	if err != nil {
		w.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	w.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		if ctx.Err() != nil {
			return
		}
		err := w.processRun(ctx, runs[i].ID)
		if err != nil && !errors.Is(err, ErrRunNotPending) {
			w.logger.Error("failed to process run from poll",
				"run_id", runs[i].ID,
				"error", err,
			)
		}
	}
}
