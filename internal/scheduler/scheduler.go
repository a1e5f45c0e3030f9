package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/apiflow/internal/domain"
)

// TriggerSchedule — значение Run.Trigger для запусков по расписанию.
const TriggerSchedule = "schedule"

// WorkflowSource отдаёт workflows с расписанием (repo.WorkflowRepo).
type WorkflowSource interface {
	ListScheduled(ctx context.Context) ([]domain.Workflow, error)
}

// RunStore сохраняет созданные runs (repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
}

// RunQueue ставит run в очередь worker'ов (mq.Publisher).
type RunQueue interface {
	PublishRunRequested(ctx context.Context, runID uuid.UUID, workflowID string) error
}

// Scheduler запускает workflows по их cron-расписанию.
//
// Расписания перечитываются из WorkflowSource не чаще RefreshInterval.
// На каждом тике для наступивших расписаний создаётся run в статусе
// PENDING и публикуется run.requested; выполняет его worker.
type Scheduler struct {
	workflows       WorkflowSource
	runs            RunStore
	queue           RunQueue
	logger          *slog.Logger
	refreshInterval time.Duration

	mu          sync.Mutex
	entries     map[string]*entry
	lastRefresh time.Time
}

// entry — расписание одного workflow.
type entry struct {
	expr     string
	schedule cron.Schedule
	next     time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Workflows       WorkflowSource
	Runs            RunStore
	Queue           RunQueue // опционально: без очереди runs остаются PENDING
	Logger          *slog.Logger
	RefreshInterval time.Duration // default: 30s
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		workflows:       cfg.Workflows,
		runs:            cfg.Runs,
		queue:           cfg.Queue,
		logger:          logger,
		refreshInterval: refresh,
		entries:         make(map[string]*entry),
	}
}

// Refresh перечитывает расписания.
//
// Новое или изменённое расписание получает следующий запуск после now,
// у неизменённого сохраняется уже вычисленный. Workflows без расписания
// удаляются, невалидные выражения логируются и пропускаются.
func (s *Scheduler) Refresh(ctx context.Context, now time.Time) error {
	workflows, err := s.workflows.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(workflows))
	for _, wf := range workflows {
		if wf.Schedule == "" {
			continue
		}
		seen[wf.ID] = true

		if existing, ok := s.entries[wf.ID]; ok && existing.expr == wf.Schedule {
			continue
		}

		schedule, err := ParseSchedule(wf.Schedule)
		if err != nil {
			s.logger.Warn("skipping workflow with invalid schedule",
				"workflow_id", wf.ID,
				"schedule", wf.Schedule,
				"error", err,
			)
			delete(s.entries, wf.ID)
			continue
		}

		next := schedule.Next(now).UTC()
		s.entries[wf.ID] = &entry{expr: wf.Schedule, schedule: schedule, next: next}
		s.logger.Debug("workflow scheduled",
			"workflow_id", wf.ID,
			"schedule", wf.Schedule,
			"next_run", next,
		)
	}

	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
		}
	}

	s.lastRefresh = now
	return nil
}

// Tick выполняет один тик планировщика.
//
// 1. Перечитывает расписания, если прошло RefreshInterval
// 2. Для каждого наступившего расписания создаёт run
// 3. Сдвигает следующий запуск
// 4. Публикует run.requested в RabbitMQ
//
// Ошибки одного workflow не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	stale := s.lastRefresh.IsZero() || now.Sub(s.lastRefresh) >= s.refreshInterval
	s.mu.Unlock()

	if stale {
		if err := s.Refresh(ctx, now); err != nil {
			return err
		}
	}

	due := s.takeDue(now)
	if len(due) == 0 {
		return nil
	}

	var created int
	for _, workflowID := range due {
		if err := s.trigger(ctx, workflowID); err != nil {
			s.logger.Error("failed to trigger scheduled run",
				"workflow_id", workflowID,
				"error", err,
			)
			continue
		}
		created++
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"runs_created", created,
	)
	return nil
}

// takeDue возвращает наступившие workflows и сдвигает их следующий запуск.
// Пропущенные запуски (например, пока процесс стоял) не догоняются.
func (s *Scheduler) takeDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for id, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, id)
		e.next = e.schedule.Next(now).UTC()
	}
	sort.Strings(due)
	return due
}

// trigger создаёт run и ставит его в очередь.
func (s *Scheduler) trigger(ctx context.Context, workflowID string) error {
	run := domain.NewRun(workflowID, nil, TriggerSchedule)
	if err := s.runs.Create(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	s.logger.Info("created run from schedule",
		"run_id", run.ID,
		"workflow_id", workflowID,
	)

	if s.queue == nil {
		return nil
	}
	if err := s.queue.PublishRunRequested(ctx, run.ID, workflowID); err != nil {
		// run уже в БД и останется PENDING
		s.logger.Warn("failed to publish run.requested",
			"run_id", run.ID,
			"error", err,
		)
	}
	return nil
}

// NextRuns возвращает следующие запуски по workflow ID.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.next
	}
	return out
}

// Run крутит Tick раз в interval до отмены ctx.
// Вызывается только лидером (см. cmd/apiflow-scheduler).
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case t := <-tk.C:
			if err := s.Tick(ctx, t.UTC()); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
