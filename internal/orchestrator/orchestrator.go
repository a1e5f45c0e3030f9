package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/engine"
	"github.com/shaiso/apiflow/internal/steps"
)

// Orchestrator выполняет workflows.
//
// Orchestrator не хранит состояние между run: каждый Execute создаёт
// свой RunState. Один Orchestrator безопасно выполняет несколько run
// одновременно.
type Orchestrator struct {
	registry    *steps.Registry
	observers   Observers
	maxParallel int
	varPrefix   string
	logger      *slog.Logger

	// Active runs — runs в процессе выполнения (runID → run)
	activeRuns map[string]*activeRun
	mu         sync.RWMutex
}

type activeRun struct {
	state  *RunState
	cancel context.CancelFunc
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Registry — исполнители узлов. nil — steps.DefaultRegistry без зависимостей.
	Registry *steps.Registry

	// Observers получают события всех run.
	Observers []Observer

	// MaxParallel — сколько узлов одного уровня выполнять одновременно.
	// 0 или 1 — строго последовательно в топологическом порядке.
	MaxParallel int

	// VarPrefix — префикс переменных процесса для {{VAR}} (например APIFLOW_VAR_).
	// Пусто — только Workflow.Environment.
	VarPrefix string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	registry := cfg.Registry
	if registry == nil {
		registry = steps.DefaultRegistry(steps.Deps{})
	}

	maxParallel := cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		registry:    registry,
		observers:   Observers(cfg.Observers),
		maxParallel: maxParallel,
		varPrefix:   cfg.VarPrefix,
		logger:      logger,
		activeRuns:  make(map[string]*activeRun),
	}
}

// Registry возвращает реестр исполнителей.
func (o *Orchestrator) Registry() *steps.Registry {
	return o.registry
}

// Validate проверяет структуру графа перед выполнением.
// Ошибки конфигурации узлов сюда не входят: они становятся ошибкой
// соответствующего узла в отчёте и не мешают соседним веткам.
func (o *Orchestrator) Validate(wf *domain.Workflow) (*engine.ValidatedWorkflow, error) {
	return engine.Validate(wf)
}

// Lint проверяет структуру графа и конфигурацию каждого узла по его типу.
// Предварительная проверка для редактора и CLI, на выполнение не влияет.
func (o *Orchestrator) Lint(wf *domain.Workflow) (*engine.ValidatedWorkflow, error) {
	return engine.Validate(wf, o.registry.CheckNode)
}

// RunOption настраивает один run.
type RunOption func(*runOptions)

type runOptions struct {
	runID     string
	observers Observers
}

// WithRunID задаёт ID run (по умолчанию — новый UUID).
func WithRunID(id string) RunOption {
	return func(opts *runOptions) {
		opts.runID = id
	}
}

// WithObserver добавляет наблюдателя только для этого run.
func WithObserver(obs Observer) RunOption {
	return func(opts *runOptions) {
		opts.observers = append(opts.observers, obs)
	}
}

// ExecuteWorkflow валидирует workflow и выполняет его.
// Ошибка возвращается только при невалидном workflow.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, wf *domain.Workflow, inputs any, opts ...RunOption) (*domain.ExecutionReport, error) {
	vw, err := o.Validate(wf)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, vw, inputs, opts...), nil
}

// Execute выполняет провалидированный workflow.
//
// Ошибки узлов не возвращаются, а записываются в отчёт: упавший узел
// получает failed, его потомки — skipped ("upstream failure"). Отмена ctx
// между узлами пропускает оставшиеся ("run cancelled"), итог — cancelled.
func (o *Orchestrator) Execute(ctx context.Context, vw *engine.ValidatedWorkflow, inputs any, opts ...RunOption) *domain.ExecutionReport {
	options := runOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.runID == "" {
		options.runID = uuid.NewString()
	}
	observers := append(Observers{o.observers}, options.observers...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := NewRunState(options.runID, vw, inputs)
	if err := o.addActiveRun(state, cancel); err != nil {
		o.logger.Warn("run id reused", "run_id", options.runID, "error", err)
	} else {
		defer o.removeActiveRun(options.runID)
	}

	logger := o.logger.With(
		"run_id", options.runID,
		"workflow_id", vw.Workflow.ID,
	)
	logger.Debug("run started",
		"nodes", vw.Size(),
		"levels", len(vw.Levels),
		"max_parallel", o.maxParallel,
	)

	exec := &execution{
		state:     state,
		variables: steps.WorkflowVariables(vw.Workflow.Environment, o.varPrefix),
		observers: observers,
		registry:  o.registry,
		logger:    logger,
	}

	startedAt := time.Now().UTC()
	if o.maxParallel > 1 {
		exec.runLevels(ctx, o.maxParallel)
	} else {
		exec.runSequential(ctx)
	}
	exec.skipRemaining(ctx, domain.MsgRunCancelled)

	report := state.Report(startedAt, time.Now().UTC())

	switch report.OverallStatus {
	case domain.ReportSuccess:
		logger.Info("run completed", "duration_ms", report.DurationMs)
	default:
		logger.Warn("run finished",
			"status", report.OverallStatus,
			"failed_nodes", report.Failed(),
			"duration_ms", report.DurationMs,
		)
	}

	observers.RunFinished(context.WithoutCancel(ctx), report)
	return report
}

// Cancel отменяет выполняющийся run.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.RLock()
	run, exists := o.activeRuns[runID]
	o.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	run.cancel()
	return nil
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID] = &activeRun{state: state, cancel: cancel}
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID string) (RunStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	run, exists := o.activeRuns[runID]
	if !exists {
		return RunStats{}, false
	}

	return run.state.Stats(), true
}

// execution — один проход по графу.
type execution struct {
	state     *RunState
	variables steps.VariableResolver
	observers Observers
	registry  *steps.Registry
	logger    *slog.Logger
}

// runSequential выполняет узлы строго в топологическом порядке.
func (e *execution) runSequential(ctx context.Context) {
	for _, id := range e.state.Workflow.Order {
		if ctx.Err() != nil {
			return
		}
		e.runNode(ctx, id)
	}
}

// runLevels выполняет уровни по очереди, узлы уровня — параллельно.
// Вход узла собирается по ID рёбер, поэтому результат не зависит от
// порядка завершения горутин.
func (e *execution) runLevels(ctx context.Context, limit int) {
	for _, level := range e.state.Workflow.Levels {
		if ctx.Err() != nil {
			return
		}

		var g errgroup.Group
		g.SetLimit(limit)
		for _, id := range level {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				e.runNode(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// runNode выполняет один узел и записывает результат.
func (e *execution) runNode(ctx context.Context, nodeID string) {
	state := e.state
	node := state.Workflow.Node(nodeID)

	if state.Blocked(nodeID) {
		e.skip(ctx, nodeID, domain.MsgUpstreamFailure)
		return
	}

	input, preds := state.Input(nodeID)
	wf := state.Workflow.Workflow

	e.transition(ctx, node, domain.NodeStatusRunning, "", 0)
	e.logger.Debug("node started", "node_id", nodeID, "node_type", node.Type)

	start := time.Now()
	resp, err := e.execute(ctx, &steps.Request{
		RunID:        state.RunID,
		WorkflowID:   wf.ID,
		Node:         *node,
		Input:        input,
		Predecessors: preds,
		Variables:    e.variables,
		MockEnabled:  wf.MockEnabled,
		MockResponse: wf.MockResponse,
	})
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			state.MarkCancelled()
		}
		state.Record(nodeID, domain.NodeResult{
			Status:       domain.ResultFailure,
			ErrorMessage: err.Error(),
			DurationMs:   duration,
		})
		e.transition(ctx, node, domain.NodeStatusFailed, err.Error(), duration)
		e.logger.Warn("node failed",
			"node_id", nodeID,
			"node_type", node.Type,
			"error", err,
			"duration_ms", duration,
		)
		return
	}

	state.Record(nodeID, domain.NodeResult{
		Status:     domain.ResultSuccess,
		Data:       resp.Data,
		DurationMs: duration,
		Filtered:   resp.Filtered,
	})
	e.transition(ctx, node, domain.NodeStatusCompleted, "", duration)
	e.logger.Debug("node completed",
		"node_id", nodeID,
		"filtered", resp.Filtered,
		"duration_ms", duration,
	)
}

// execute вызывает исполнитель узла; паника превращается в ошибку узла.
func (e *execution) execute(ctx context.Context, req *steps.Request) (resp *steps.Response, err error) {
	step, err := e.registry.Get(string(req.Node.Type))
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
	}()

	resp, err = step.Execute(ctx, req)
	if err == nil && resp == nil {
		resp = steps.NewResponse(map[string]any{})
	}
	if err != nil && errors.Is(err, context.Canceled) && !errors.Is(err, steps.ErrStepCancelled) {
		err = fmt.Errorf("%w: %w", steps.ErrStepCancelled, err)
	}
	return resp, err
}

// skip пропускает узел без выполнения.
func (e *execution) skip(ctx context.Context, nodeID, reason string) {
	node := e.state.Workflow.Node(nodeID)
	e.state.Record(nodeID, domain.NodeResult{
		Status:       domain.ResultFailure,
		ErrorMessage: reason,
	})
	e.transition(ctx, node, domain.NodeStatusSkipped, reason, 0)
	e.logger.Debug("node skipped", "node_id", nodeID, "reason", reason)
}

// skipRemaining пропускает все узлы, до которых run не дошёл.
// Такое бывает только при отмене ctx.
func (e *execution) skipRemaining(ctx context.Context, reason string) {
	idle := e.state.Idle()
	if len(idle) == 0 {
		return
	}
	e.state.MarkCancelled()
	for _, id := range idle {
		e.skip(ctx, id, reason)
	}
}

// transition меняет статус узла и уведомляет наблюдателей.
func (e *execution) transition(ctx context.Context, node *domain.Node, to domain.NodeStatus, errMsg string, durationMs int64) {
	from, err := e.state.Transition(node.ID, to)
	if err != nil {
		e.logger.Error("status transition rejected", "node_id", node.ID, "error", err)
		return
	}

	e.observers.NodeStatusChanged(context.WithoutCancel(ctx), domain.StatusEvent{
		RunID:      e.state.RunID,
		WorkflowID: e.state.WorkflowID(),
		NodeID:     node.ID,
		NodeType:   node.Type,
		From:       from,
		To:         to,
		Error:      errMsg,
		DurationMs: durationMs,
		Timestamp:  time.Now().UTC(),
	})
}
