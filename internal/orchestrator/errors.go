package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunAlreadyActive — run с таким ID уже выполняется.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotActive — run не найден среди выполняющихся.
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrInvalidTransition — недопустимый переход статуса узла.
	ErrInvalidTransition = errors.New("invalid node status transition")

	// ErrStepPanic — исполнитель узла запаниковал.
	ErrStepPanic = errors.New("step panicked")
)
