package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/mq"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
)

// handleRunRequested обрабатывает сообщение из очереди runs.requested.
func (w *Worker) handleRunRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse run.requested payload", "error", err)
		return err
	}

	w.logger.Debug("received run.requested event",
		"run_id", payload.RunID,
		"workflow_id", payload.WorkflowID,
	)

	if err := w.processRun(ctx, payload.RunID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRunNotPending) {
			w.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// processRun забирает run, выполняет workflow и сохраняет отчёт.
//
// Ошибки загрузки и валидации workflow не возвращаются: run
// сохраняется как FAILED с текстом ошибки, повтор ничего не изменит.
func (w *Worker) processRun(ctx context.Context, runID uuid.UUID) error {
	// 1. Забираем run (PENDING → RUNNING)
	run, err := w.runs.Claim(ctx, runID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	case errors.Is(err, repo.ErrInvalidState):
		return fmt.Errorf("%w: %s", ErrRunNotPending, runID)
	case err != nil:
		return fmt.Errorf("claim run: %w", err)
	}

	logger := w.logger.With("run_id", run.ID, "workflow_id", run.WorkflowID)

	// Итог сохраняем даже при остановке воркера
	saveCtx := context.WithoutCancel(ctx)

	// 2. Загружаем и валидируем workflow
	wf, err := w.workflows.GetByID(ctx, run.WorkflowID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("get workflow: %w", err)
		}
		run.MarkFailed("workflow not found")
		logger.Warn("workflow of run not found")
		return w.save(saveCtx, run)
	}

	vw, err := w.orchestrator.Validate(wf)
	if err != nil {
		run.MarkFailed(err.Error())
		logger.Warn("workflow of run is invalid", "error", err)
		return w.save(saveCtx, run)
	}

	logger.Info("run started", "trigger", run.Trigger)

	// 3. Выполняем
	report := w.orchestrator.Execute(ctx, vw, run.Inputs, orchestrator.WithRunID(run.ID.String()))
	run.Complete(report)

	logger.Info("run finished",
		"status", run.Status,
		"duration_ms", report.DurationMs,
	)

	// 4. Сохраняем отчёт
	return w.save(saveCtx, run)
}

// save сохраняет финальное состояние run.
func (w *Worker) save(ctx context.Context, run *domain.Run) error {
	if err := w.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}
