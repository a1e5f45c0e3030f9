package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/export"
	"github.com/shaiso/apiflow/internal/scheduler"
)

// maxBodyBytes — ограничение размера тела запроса.
const maxBodyBytes = 4 << 20

// decodeBody разбирает JSON тело запроса. Пустое тело не ошибка.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// checkWorkflow проверяет граф и расписание.
// При ошибке отправляет 422 и возвращает false.
func (h *Handler) checkWorkflow(w http.ResponseWriter, wf *domain.Workflow) bool {
	if _, err := h.orchestrator.Validate(wf); err != nil {
		ValidationFailed(w, err)
		return false
	}
	if err := scheduler.ValidateSchedule(wf.Schedule); err != nil {
		ValidationFailed(w, err)
		return false
	}
	return true
}

// ListWorkflows возвращает список workflows.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.workflows.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowSummary, len(workflows))
	for i, wf := range workflows {
		result[i] = WorkflowSummaryFromDomain(wf)
	}

	List(w, result, len(result))
}

// CreateWorkflow сохраняет новый workflow. Без id назначается UUID.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf domain.Workflow
	if err := decodeBody(w, r, &wf); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	if !h.checkWorkflow(w, &wf) {
		return
	}

	if HandleRepoError(w, h.logger, h.workflows.Create(r.Context(), &wf), "") {
		return
	}

	h.logger.Info("workflow created", "workflow_id", wf.ID, "nodes", len(wf.Nodes))
	Created(w, wf)
}

// GetWorkflow возвращает workflow по ID.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.workflows.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, wf)
}

// UpdateWorkflow заменяет определение workflow.
// PUT /api/v1/workflows/{id}
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	var wf domain.Workflow
	if err := decodeBody(w, r, &wf); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	wf.ID = id
	wf.CreatedAt = existing.CreatedAt

	if !h.checkWorkflow(w, &wf) {
		return
	}

	if HandleRepoError(w, h.logger, h.workflows.Update(r.Context(), &wf), "workflow not found") {
		return
	}

	Success(w, wf)
}

// DeleteWorkflow удаляет workflow.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	err := h.workflows.Delete(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	NoContent(w)
}

// ValidateWorkflow проверяет граф и конфигурацию узлов без сохранения.
// Ответ всегда 200: результат в поле valid.
// POST /api/v1/workflows/validate
func (h *Handler) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf domain.Workflow
	if err := decodeBody(w, r, &wf); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	vw, err := h.orchestrator.Lint(&wf)
	if err == nil {
		err = scheduler.ValidateSchedule(wf.Schedule)
	}

	Success(w, ValidationFromEngine(vw, err))
}

// ExportWorkflow отдаёт опубликованную конфигурацию workflow.
// Документ отдаётся как есть, без обёртки data.
// GET /api/v1/workflows/{id}/export
func (h *Handler) ExportWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.workflows.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	published, err := export.Publish(wf)
	if err != nil {
		ValidationFailed(w, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", wf.ID+".json"))
	JSON(w, http.StatusOK, published)
}

// ImportWorkflow восстанавливает workflow из опубликованной конфигурации
// и сохраняет его.
// POST /api/v1/import
func (h *Handler) ImportWorkflow(w http.ResponseWriter, r *http.Request) {
	var published export.PublishedConfig
	if err := decodeBody(w, r, &published); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := published.Workflow()
	if err != nil {
		ValidationFailed(w, err)
		return
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	if !h.checkWorkflow(w, wf) {
		return
	}

	if HandleRepoError(w, h.logger, h.workflows.Create(r.Context(), wf), "") {
		return
	}

	h.logger.Info("workflow imported", "workflow_id", wf.ID, "nodes", len(wf.Nodes))
	Created(w, wf)
}
