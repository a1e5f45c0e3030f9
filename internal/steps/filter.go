package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/expr"
)

// StepTypeFilter — тип узла фильтрации.
const StepTypeFilter = "filter"

// configFilterCondition — ключ условия filter-узла.
const configFilterCondition = "filterCondition"

// FilterStep пропускает вход дальше, если условие истинно.
//
// Ложное условие — не ошибка: узел успешен, а потомки получают {}.
//
//	{"filterCondition": "temperature > 0 && location.country == 'UK'"}
type FilterStep struct{}

// NewFilterStep создаёт FilterStep.
func NewFilterStep() *FilterStep {
	return &FilterStep{}
}

// Type возвращает тип шага.
func (s *FilterStep) Type() string {
	return StepTypeFilter
}

// ValidateConfig реализует ConfigValidator.
func (s *FilterStep) ValidateConfig(config map[string]any) error {
	cond := GetConfigString(config, configFilterCondition)
	if cond == "" {
		return fmt.Errorf("%w: %s: %s is required", ErrInvalidConfig, StepTypeFilter, configFilterCondition)
	}
	if _, err := expr.Compile(cond); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, StepTypeFilter, err)
	}
	return nil
}

// Execute вычисляет условие.
func (s *FilterStep) Execute(_ context.Context, req *Request) (*Response, error) {
	if err := s.ValidateConfig(req.Config()); err != nil {
		return nil, err
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	ok, err := expr.EvaluateBool(GetConfigString(req.Config(), configFilterCondition), input)
	if err != nil {
		return nil, err
	}
	if !ok {
		return FilteredResponse(), nil
	}
	return NewResponse(domain.CloneValue(input)), nil
}
