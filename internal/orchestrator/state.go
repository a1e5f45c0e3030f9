package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/engine"
	"github.com/shaiso/apiflow/internal/steps"
)

// RunState — состояние одного run в памяти (ExecutionContext).
//
// RunState создаётся на каждый Execute и живёт, пока run не завершится.
// Содержит:
//   - Провалидированный граф (общий для run, только чтение)
//   - initialInputs для start-узла
//   - Статус и результат каждого узла
type RunState struct {
	// RunID — идентификатор run.
	RunID string

	// Workflow — провалидированный граф.
	Workflow *engine.ValidatedWorkflow

	inputs    any
	statuses  map[string]domain.NodeStatus
	results   map[string]domain.NodeResult
	cancelled bool

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// NewRunState создаёт RunState, все узлы в статусе idle.
func NewRunState(runID string, vw *engine.ValidatedWorkflow, inputs any) *RunState {
	s := &RunState{
		RunID:    runID,
		Workflow: vw,
		inputs:   inputs,
		statuses: make(map[string]domain.NodeStatus, vw.Size()),
		results:  make(map[string]domain.NodeResult, vw.Size()),
	}
	for _, id := range vw.Order {
		s.statuses[id] = domain.NodeStatusIdle
	}
	return s
}

// WorkflowID возвращает ID workflow.
func (s *RunState) WorkflowID() string {
	return s.Workflow.Workflow.ID
}

// Status возвращает текущий статус узла.
func (s *RunState) Status(nodeID string) domain.NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[nodeID]
}

// Result возвращает результат узла, если он уже записан.
func (s *RunState) Result(nodeID string) (domain.NodeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[nodeID]
	return r, ok
}

// Transition переводит узел в новый статус и возвращает предыдущий.
func (s *RunState) Transition(nodeID string, to domain.NodeStatus) (domain.NodeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.statuses[nodeID]
	if !ok {
		return "", fmt.Errorf("%w: unknown node %s", ErrInvalidTransition, nodeID)
	}
	if !from.CanTransition(to) {
		return from, fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, nodeID, from, to)
	}
	s.statuses[nodeID] = to
	return from, nil
}

// Record сохраняет результат узла.
func (s *RunState) Record(nodeID string, result domain.NodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[nodeID] = result
}

// MarkCancelled отмечает, что run был прерван отменой.
func (s *RunState) MarkCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Cancelled возвращает true, если run был прерван отменой.
func (s *RunState) Cancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// Blocked возвращает true, если хотя бы один предшественник упал или пропущен.
func (s *RunState) Blocked(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.Workflow.Predecessors(nodeID) {
		switch s.statuses[e.Source] {
		case domain.NodeStatusFailed, domain.NodeStatusSkipped:
			return true
		}
	}
	return false
}

// Input собирает вход узла.
//
// Start-узел получает initialInputs ({} если nil), корневой узел без
// рёбер получает {}. Единственный предшественник передаёт свой выход как
// есть. Несколько предшественников объединяются shallow merge по
// возрастанию ID ребра: при совпадении ключей побеждает более позднее
// ребро, не-объектный выход кладётся под ID узла-предшественника.
//
// Узел получает копию: исполнители не могут испортить выходы предков.
func (s *RunState) Input(nodeID string) (any, []steps.Output) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if nodeID == s.Workflow.StartID {
		if s.inputs == nil {
			return map[string]any{}, nil
		}
		return domain.CloneValue(s.inputs), nil
	}

	edges := s.Workflow.Predecessors(nodeID)
	if len(edges) == 0 {
		return map[string]any{}, nil
	}

	outputs := make([]steps.Output, 0, len(edges))
	for _, e := range edges {
		outputs = append(outputs, steps.Output{
			NodeID: e.Source,
			EdgeID: e.ID,
			Data:   domain.CloneValue(s.results[e.Source].Data),
		})
	}

	if len(outputs) == 1 {
		return outputs[0].Data, outputs
	}

	merged := make(map[string]any)
	for _, out := range outputs {
		switch data := out.Data.(type) {
		case nil:
		case map[string]any:
			for k, v := range data {
				merged[k] = v
			}
		default:
			merged[out.NodeID] = data
		}
	}
	return merged, outputs
}

// Idle возвращает узлы, которые ещё не запускались, в топологическом порядке.
func (s *RunState) Idle() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, id := range s.Workflow.Order {
		if s.statuses[id] == domain.NodeStatusIdle {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsComplete проверяет, все ли узлы в финальном статусе.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, status := range s.statuses {
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalNodes: len(s.statuses)}
	for _, status := range s.statuses {
		switch status {
		case domain.NodeStatusIdle:
			stats.PendingNodes++
		case domain.NodeStatusRunning:
			stats.RunningNodes++
		case domain.NodeStatusCompleted:
			stats.CompletedNodes++
		case domain.NodeStatusFailed:
			stats.FailedNodes++
		case domain.NodeStatusSkipped:
			stats.SkippedNodes++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalNodes     int
	PendingNodes   int
	RunningNodes   int
	CompletedNodes int
	FailedNodes    int
	SkippedNodes   int
}

// Report собирает ExecutionReport.
func (s *RunState) Report(startedAt, finishedAt time.Time) *domain.ExecutionReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vw := s.Workflow
	report := &domain.ExecutionReport{
		RunID:      s.RunID,
		WorkflowID: vw.Workflow.ID,
		Results:    make(map[string]domain.NodeResult, len(s.results)),
		Statuses:   make(map[string]domain.NodeStatus, len(s.statuses)),
		Order:      append([]string(nil), vw.Order...),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
	}

	failed := false
	for id, r := range s.results {
		report.Results[id] = r
		if !r.Succeeded() {
			failed = true
		}
	}
	for id, st := range s.statuses {
		report.Statuses[id] = st
	}

	switch {
	case s.cancelled:
		report.OverallStatus = domain.ReportCancelled
	case failed:
		report.OverallStatus = domain.ReportFailure
	default:
		report.OverallStatus = domain.ReportSuccess
	}

	report.Output = s.output()
	return report
}

// output возвращает данные end-узлов: одного — как есть, нескольких — по ID.
func (s *RunState) output() any {
	ends := s.Workflow.EndIDs
	if len(ends) == 1 {
		r, ok := s.results[ends[0]]
		if !ok || !r.Succeeded() {
			return nil
		}
		return r.Data
	}

	out := make(map[string]any, len(ends))
	for _, id := range ends {
		if r, ok := s.results[id]; ok && r.Succeeded() {
			out[id] = r.Data
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
