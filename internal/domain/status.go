package domain

// NodeStatus — статус узла во время run (для живой визуализации в редакторе).
//
// Жизненный цикл:
//
//	IDLE → RUNNING → COMPLETED
//	             ↘ FAILED
//	(или) IDLE → SKIPPED (упал один из предков или run отменён)
type NodeStatus string

const (
	// NodeStatusIdle — узел ещё не запускался.
	NodeStatusIdle NodeStatus = "idle"

	// NodeStatusRunning — исполнитель узла работает.
	NodeStatusRunning NodeStatus = "running"

	// NodeStatusCompleted — узел успешно выполнен.
	NodeStatusCompleted NodeStatus = "completed"

	// NodeStatusFailed — исполнитель вернул ошибку.
	NodeStatusFailed NodeStatus = "failed"

	// NodeStatusSkipped — узел не выполнялся из-за упавшего предка.
	NodeStatusSkipped NodeStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода статуса узла.
func (s NodeStatus) CanTransition(to NodeStatus) bool {
	switch s {
	case NodeStatusIdle:
		return to == NodeStatusRunning || to == NodeStatusSkipped
	case NodeStatusRunning:
		return to == NodeStatusCompleted || to == NodeStatusFailed
	default:
		return false
	}
}

// ResultStatus — итог выполнения узла в NodeResult.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// ReportStatus — общий итог run в ExecutionReport.
type ReportStatus string

const (
	ReportSuccess   ReportStatus = "success"
	ReportFailure   ReportStatus = "failure"
	ReportCancelled ReportStatus = "cancelled"
)

// RunStatus — статус сохранённого run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — run успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы один узел упал (или workflow невалиден).
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunStatusFromReport переводит итог отчёта в статус сохранённого run.
func RunStatusFromReport(s ReportStatus) RunStatus {
	switch s {
	case ReportSuccess:
		return RunStatusSucceeded
	case ReportCancelled:
		return RunStatusCancelled
	default:
		return RunStatusFailed
	}
}
