package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/transform"
)

// StepTypeAggregate — тип узла агрегации.
const StepTypeAggregate = "aggregate"

// AggregateConfig — конфигурация aggregate-узла.
//
// Одна операция:
//
//	{"operation": "merge"}
//	{"operation": "sum", "field": "price", "as": "total"}
//
// Несколько операций — результат объект as → значение:
//
//	{"operations": [{"kind": "sum", "field": "qty"}, {"kind": "count"}]}
//
// "strategy" — синоним "operation"; "shallow" — синоним merge.
type AggregateConfig struct {
	Operation  domain.AggKind `json:"operation,omitempty"`
	Strategy   domain.AggKind `json:"strategy,omitempty"`
	Field      string         `json:"field,omitempty"`
	As         string         `json:"as,omitempty"`
	Operations []domain.AggOp `json:"operations,omitempty"`
}

// ops возвращает операции в нормализованном виде.
func (c *AggregateConfig) ops() []domain.AggOp {
	if len(c.Operations) > 0 {
		return c.Operations
	}
	kind := c.Operation
	if kind == "" {
		kind = c.Strategy
	}
	if kind == "shallow" || kind == "" {
		kind = domain.AggMerge
	}
	return []domain.AggOp{{Kind: kind, Field: c.Field, As: c.As}}
}

// ParseAggregateConfig раскладывает и проверяет конфигурацию aggregate-узла.
func ParseAggregateConfig(config map[string]any) (*AggregateConfig, error) {
	var cfg AggregateConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	for _, op := range cfg.ops() {
		if err := transform.ValidateOp(op); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, StepTypeAggregate, err)
		}
	}
	return &cfg, nil
}

// AggregateStep сводит выходы всех предшественников.
//
// В отличие от остальных узлов работает не с объединённым входом, а с
// выходом каждого предшественника по отдельности (в порядке ID рёбер).
type AggregateStep struct{}

// NewAggregateStep создаёт AggregateStep.
func NewAggregateStep() *AggregateStep {
	return &AggregateStep{}
}

// Type возвращает тип шага.
func (s *AggregateStep) Type() string {
	return StepTypeAggregate
}

// ValidateConfig реализует ConfigValidator.
func (s *AggregateStep) ValidateConfig(config map[string]any) error {
	_, err := ParseAggregateConfig(config)
	return err
}

// Execute выполняет агрегацию.
//
// Одна операция merge/concat/group возвращает свой результат как есть;
// sum/average/count возвращают {as: число}. Несколько операций
// возвращают объект as → результат.
func (s *AggregateStep) Execute(_ context.Context, req *Request) (*Response, error) {
	// неизвестный вид агрегации вернёт transform.ErrUnsupportedAggregation
	var cfg AggregateConfig
	if err := DecodeConfig(req.Config(), &cfg); err != nil {
		return nil, err
	}
	ops := cfg.ops()

	values := make([]any, 0, len(req.Predecessors))
	for _, p := range req.Predecessors {
		values = append(values, p.Data)
	}
	if len(req.Predecessors) == 0 && req.Input != nil {
		values = append(values, req.Input)
	}

	if len(ops) == 1 {
		op := ops[0]
		out, err := transform.Aggregate(op, values)
		if err != nil {
			return nil, err
		}
		switch op.Kind {
		case domain.AggMerge, domain.AggConcat, domain.AggGroup:
			return NewResponse(out), nil
		default:
			return NewResponse(map[string]any{op.ResultKey(): out}), nil
		}
	}

	out, err := transform.AggregateAll(ops, values)
	if err != nil {
		return nil, err
	}
	return NewResponse(out), nil
}
