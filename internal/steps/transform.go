package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/transform"
)

// StepTypeTransform — тип узла трансформации данных.
const StepTypeTransform = "transform"

// TransformConfig — конфигурация transform-узла.
//
//	{
//	    "transformations": [
//	        {"type": "rename", "from": "current.temp_c", "to": "temperature"},
//	        {"type": "flatten", "path": "location", "prefix": "loc_"},
//	        {"type": "filter", "condition": "temperature > 0"}
//	    ]
//	}
type TransformConfig struct {
	Transformations []domain.Transformation `json:"transformations"`
}

// ParseTransformConfig раскладывает и проверяет конфигурацию transform-узла.
func ParseTransformConfig(config map[string]any) (*TransformConfig, error) {
	var cfg TransformConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	for i, t := range cfg.Transformations {
		if err := transform.Validate(t); err != nil {
			return nil, fmt.Errorf("%w: transformation %d: %v", ErrInvalidConfig, i, err)
		}
	}
	return &cfg, nil
}

// TransformStep применяет цепочку трансформаций к входу узла.
// Выход каждой трансформации — вход следующей.
type TransformStep struct{}

// NewTransformStep создаёт TransformStep.
func NewTransformStep() *TransformStep {
	return &TransformStep{}
}

// Type возвращает тип шага.
func (s *TransformStep) Type() string {
	return StepTypeTransform
}

// ValidateConfig реализует ConfigValidator.
func (s *TransformStep) ValidateConfig(config map[string]any) error {
	_, err := ParseTransformConfig(config)
	return err
}

// Execute применяет трансформации.
func (s *TransformStep) Execute(_ context.Context, req *Request) (*Response, error) {
	cfg, err := ParseTransformConfig(req.Config())
	if err != nil {
		return nil, err
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	out, err := transform.ApplyAll(cfg.Transformations, input)
	if err != nil {
		return nil, err
	}
	return NewResponse(out), nil
}
