package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
)

// TriggerAPI — значение Run.Trigger для запусков через API.
const TriggerAPI = "api"

// Execute выполняет workflow из тела запроса и возвращает отчёт.
// Ничего не сохраняет: используется редактором для пробного запуска.
// POST /api/v1/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Workflow == nil {
		BadRequest(w, "workflow is required")
		return
	}

	report, err := h.orchestrator.ExecuteWorkflow(r.Context(), req.Workflow, req.Inputs)
	if err != nil {
		ValidationFailed(w, err)
		return
	}

	Success(w, report)
}

// CreateRun запускает сохранённый workflow.
//
// По умолчанию run выполняется синхронно и ответ содержит отчёт.
// С ?async=true run ставится в очередь worker'ов (202 Accepted).
// POST /api/v1/workflows/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	async, err := parseBool(r.URL.Query().Get("async"))
	if err != nil {
		BadRequest(w, "invalid async")
		return
	}

	var req CreateRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	vw, err := h.orchestrator.Validate(wf)
	if err != nil {
		ValidationFailed(w, err)
		return
	}

	run := domain.NewRun(wf.ID, req.Inputs, TriggerAPI)

	if async {
		if h.queue == nil {
			Unavailable(w, "run queue is not configured")
			return
		}
		if err := h.runs.Create(r.Context(), run); err != nil {
			InternalError(w, h.logger, err)
			return
		}
		if err := h.queue.PublishRunRequested(r.Context(), run.ID, wf.ID); err != nil {
			h.logger.Warn("failed to publish run.requested", "run_id", run.ID, "error", err)
		}
		Accepted(w, RunFromDomain(*run, false))
		return
	}

	run.MarkRunning()
	if err := h.runs.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	report := h.orchestrator.Execute(r.Context(), vw, req.Inputs,
		orchestrator.WithRunID(run.ID.String()),
		orchestrator.WithObserver(h.hub),
	)
	run.Complete(report)

	// клиент мог уйти, но результат всё равно сохраняем
	if err := h.runs.Update(context.WithoutCancel(r.Context()), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, RunFromDomain(*run, true))
}

// ListRuns возвращает runs workflow с фильтрацией.
// GET /api/v1/workflows/{id}/runs?status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		WorkflowID: r.PathValue("id"),
		Status:     domain.RunStatus(r.URL.Query().Get("status")),
		Limit:      50,
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run, false)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID вместе с отчётом.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run, true))
}

// CancelRun отменяет run.
//
// Run, выполняющийся в этом процессе, прерывается между узлами
// (202 Accepted, итоговый статус запишет исполнитель). PENDING run
// сразу помечается CANCELLED, worker его пропустит.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run is already finished")
		return
	}

	err = h.orchestrator.Cancel(id.String())
	switch {
	case err == nil:
		Accepted(w, RunFromDomain(*run, false))
		return
	case !errors.Is(err, orchestrator.ErrRunNotActive):
		InternalError(w, h.logger, err)
		return
	}

	if run.Status != domain.RunStatusPending {
		InvalidState(w, "run is executing on another instance")
		return
	}

	run.MarkCancelled()
	if err := h.runs.Update(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, RunFromDomain(*run, false))
}

// parseBool разбирает флаг из query. Пустая строка — false.
func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
