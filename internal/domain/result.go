package domain

import "time"

// Сообщения для узлов, которые не выполнялись.
const (
	MsgUpstreamFailure = "upstream failure"
	MsgRunCancelled    = "run cancelled"
)

// NodeResult — результат выполнения одного узла.
type NodeResult struct {
	// Status — success или failure.
	Status ResultStatus `json:"status"`

	// Data — выход узла (nil при failure).
	Data any `json:"data"`

	// ErrorMessage — текст ошибки (пусто при success).
	ErrorMessage string `json:"errorMessage,omitempty"`

	// DurationMs — время выполнения узла.
	DurationMs int64 `json:"durationMs"`

	// Filtered — filter-узел отсёк данные: success, но потомки получают {}.
	Filtered bool `json:"filtered,omitempty"`
}

// Succeeded возвращает true для успешного результата.
func (r NodeResult) Succeeded() bool {
	return r.Status == ResultSuccess
}

// ExecutionReport — полный результат одного run: ровно один NodeResult на узел.
type ExecutionReport struct {
	// RunID — идентификатор run.
	RunID string `json:"runId"`

	// WorkflowID — какой workflow выполнялся.
	WorkflowID string `json:"workflowId,omitempty"`

	// OverallStatus — success, если нет ни одного failure.
	OverallStatus ReportStatus `json:"overallStatus"`

	// Results — результаты по узлам (nodeID → NodeResult).
	Results map[string]NodeResult `json:"results"`

	// Statuses — финальный статус каждого узла (completed/failed/skipped).
	Statuses map[string]NodeStatus `json:"statuses"`

	// Order — топологический порядок, в котором узлы обрабатывались.
	Order []string `json:"order"`

	// Output — данные end-узла (терминальный payload run).
	// При нескольких end-узлах — объект endNodeID → data.
	Output any `json:"output,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
}

// Failed возвращает ID узлов с failure в порядке выполнения.
func (r *ExecutionReport) Failed() []string {
	var ids []string
	for _, id := range r.Order {
		if r.Statuses[id] == NodeStatusFailed {
			ids = append(ids, id)
		}
	}
	return ids
}

// FirstError возвращает первую ошибку узла со статусом failed.
func (r *ExecutionReport) FirstError() string {
	for _, id := range r.Failed() {
		return id + ": " + r.Results[id].ErrorMessage
	}
	return ""
}

// StatusEvent — переход статуса узла, публикуется для редактора.
type StatusEvent struct {
	RunID      string     `json:"runId"`
	WorkflowID string     `json:"workflowId,omitempty"`
	NodeID     string     `json:"nodeId"`
	NodeType   NodeType   `json:"nodeType"`
	From       NodeStatus `json:"from"`
	To         NodeStatus `json:"to"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
