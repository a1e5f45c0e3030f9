package steps

import (
	"context"

	"github.com/shaiso/apiflow/internal/domain"
)

// Типы терминальных узлов.
const (
	StepTypeStart = "start"
	StepTypeEnd   = "end"
)

// PassthroughStep — start и end: возвращают вход без изменений.
// Выход end-узла становится терминальным payload run.
type PassthroughStep struct {
	typ string
}

// NewStartStep создаёт исполнитель start-узла.
func NewStartStep() *PassthroughStep {
	return &PassthroughStep{typ: StepTypeStart}
}

// NewEndStep создаёт исполнитель end-узла.
func NewEndStep() *PassthroughStep {
	return &PassthroughStep{typ: StepTypeEnd}
}

// Type возвращает тип шага.
func (s *PassthroughStep) Type() string {
	return s.typ
}

// Execute возвращает вход; отсутствующий вход — пустой объект.
func (s *PassthroughStep) Execute(_ context.Context, req *Request) (*Response, error) {
	if req.Input == nil {
		return NewResponse(map[string]any{}), nil
	}
	return NewResponse(domain.CloneValue(req.Input)), nil
}
