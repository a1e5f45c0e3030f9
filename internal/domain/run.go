package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — сохранённый запуск workflow.
//
// Run создаётся когда:
// - Пользователь запускает workflow через API/CLI
// - Scheduler запускает workflow по cron-расписанию
//
// Синхронный запуск сразу получает Report, асинхронный — после обработки worker'ом.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на workflow.
	WorkflowID string `json:"workflow_id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Inputs — initialInputs, переданные start-узлу.
	Inputs any `json:"inputs,omitempty"`

	// Report — отчёт о выполнении (nil, пока run не завершён).
	Report *ExecutionReport `json:"report,omitempty"`

	// Trigger — источник запуска: "api", "schedule", "cli".
	Trigger string `json:"trigger,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — ошибка валидации или первая ошибка узла.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе PENDING.
func NewRun(workflowID string, inputs any, trigger string) *Run {
	return &Run{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Status:     RunStatusPending,
		Inputs:     inputs,
		Trigger:    trigger,
		CreatedAt:  time.Now().UTC(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now().UTC()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// Complete фиксирует отчёт и выставляет финальный статус.
func (r *Run) Complete(report *ExecutionReport) {
	now := time.Now().UTC()
	r.Report = report
	r.Status = RunStatusFromReport(report.OverallStatus)
	r.Error = report.FirstError()
	r.FinishedAt = &now
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now().UTC()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now().UTC()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
