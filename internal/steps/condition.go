package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/expr"
)

// StepTypeCondition — тип узла ветвления.
const StepTypeCondition = "condition"

// ConditionConfig — конфигурация condition-узла.
//
//	{
//	    "if": "temperature > 25",
//	    "then": {"set": {"advice": "shorts"}},
//	    "else": {"set": {"advice": "jacket"}}
//	}
type ConditionConfig struct {
	If   string          `json:"if"`
	Then ConditionBranch `json:"then"`
	Else ConditionBranch `json:"else"`
}

// ConditionBranch — поля, которые ветка добавляет к входу.
type ConditionBranch struct {
	Set map[string]any `json:"set,omitempty"`
}

// ParseConditionConfig раскладывает и проверяет конфигурацию condition-узла.
func ParseConditionConfig(config map[string]any) (*ConditionConfig, error) {
	var cfg ConditionConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.If == "" {
		return nil, fmt.Errorf("%w: %s: if is required", ErrInvalidConfig, StepTypeCondition)
	}
	if _, err := expr.Compile(cfg.If); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, StepTypeCondition, err)
	}
	return &cfg, nil
}

// ConditionStep вычисляет if и накладывает then.set или else.set на вход
// (shallow merge: ключи ветки перекрывают ключи входа).
type ConditionStep struct{}

// NewConditionStep создаёт ConditionStep.
func NewConditionStep() *ConditionStep {
	return &ConditionStep{}
}

// Type возвращает тип шага.
func (s *ConditionStep) Type() string {
	return StepTypeCondition
}

// ValidateConfig реализует ConfigValidator.
func (s *ConditionStep) ValidateConfig(config map[string]any) error {
	_, err := ParseConditionConfig(config)
	return err
}

// Execute выполняет ветвление.
func (s *ConditionStep) Execute(_ context.Context, req *Request) (*Response, error) {
	cfg, err := ParseConditionConfig(req.Config())
	if err != nil {
		return nil, err
	}

	input, ok := asObject(req.Input)
	if !ok {
		return nil, fmt.Errorf("%w: %s got %T", ErrInputNotObject, StepTypeCondition, req.Input)
	}

	matched, err := expr.EvaluateBool(cfg.If, input)
	if err != nil {
		return nil, err
	}

	branch := cfg.Else
	if matched {
		branch = cfg.Then
	}

	out := make(map[string]any, len(input)+len(branch.Set))
	for k, v := range input {
		out[k] = v
	}
	for k, v := range branch.Set {
		out[k] = v
	}
	return NewResponse(domain.CloneMap(out)), nil
}
