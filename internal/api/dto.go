package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/engine"
)

// Workflow DTOs

// WorkflowSummary — элемент списка workflows.
type WorkflowSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       int       `json:"nodes"`
	Edges       int       `json:"edges"`
	Schedule    string    `json:"schedule,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowSummaryFromDomain конвертирует domain.Workflow в WorkflowSummary.
func WorkflowSummaryFromDomain(wf domain.Workflow) WorkflowSummary {
	return WorkflowSummary{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       len(wf.Nodes),
		Edges:       len(wf.Edges),
		Schedule:    wf.Schedule,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

// ValidationResponse — результат POST /workflows/validate.
type ValidationResponse struct {
	Valid  bool         `json:"valid"`
	Order  []string     `json:"order,omitempty"`
	Levels [][]string   `json:"levels,omitempty"`
	Start  string       `json:"start,omitempty"`
	Ends   []string     `json:"ends,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ValidationFromEngine конвертирует результат engine.Validate в ValidationResponse.
func ValidationFromEngine(vw *engine.ValidatedWorkflow, err error) ValidationResponse {
	if err != nil {
		detail := validationDetail(err)
		return ValidationResponse{Valid: false, Error: &detail}
	}
	return ValidationResponse{
		Valid:  true,
		Order:  vw.Order,
		Levels: vw.Levels,
		Start:  vw.StartID,
		Ends:   vw.EndIDs,
	}
}

// Run DTOs

// ExecuteRequest — запрос на разовое выполнение workflow без сохранения.
type ExecuteRequest struct {
	Workflow *domain.Workflow `json:"workflow"`
	Inputs   any              `json:"inputs,omitempty"`
}

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Inputs any `json:"inputs,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID         uuid.UUID               `json:"id"`
	WorkflowID string                  `json:"workflow_id"`
	Status     string                  `json:"status"`
	Trigger    string                  `json:"trigger,omitempty"`
	Inputs     any                     `json:"inputs,omitempty"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
	DurationMs int64                   `json:"duration_ms,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Report     *domain.ExecutionReport `json:"report,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
// В списках отчёт не отдаётся: withReport=false.
func RunFromDomain(r domain.Run, withReport bool) RunResponse {
	resp := RunResponse{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Status:     string(r.Status),
		Trigger:    r.Trigger,
		Inputs:     r.Inputs,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
	}
	if withReport {
		resp.Report = r.Report
	}
	return resp
}

// Stream DTOs

// Типы сообщений websocket /stream.
const (
	StreamTypeRun         = "run"
	StreamTypeWatch       = "watch"
	StreamTypeCancel      = "cancel"
	StreamTypeNodeStatus  = "node.status"
	StreamTypeRunFinished = "run.finished"
	StreamTypeError       = "error"
)

// StreamRequest — сообщение клиента.
type StreamRequest struct {
	Type     string           `json:"type"`
	Workflow *domain.Workflow `json:"workflow,omitempty"`
	Inputs   any              `json:"inputs,omitempty"`
	RunID    string           `json:"run_id,omitempty"`
}

// StreamMessage — сообщение сервера.
type StreamMessage struct {
	Type   string                  `json:"type"`
	RunID  string                  `json:"run_id,omitempty"`
	Event  *domain.StatusEvent     `json:"event,omitempty"`
	Report *domain.ExecutionReport `json:"report,omitempty"`
	Error  *ErrorDetail            `json:"error,omitempty"`
}
