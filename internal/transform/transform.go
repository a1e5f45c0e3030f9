package transform

import (
	"fmt"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/expr"
)

// Apply применяет одну трансформацию и возвращает новое значение.
// Вход не изменяется.
func Apply(t domain.Transformation, value any) (any, error) {
	switch t.Type {
	case domain.TransformRename:
		return rename(t, value)
	case domain.TransformFlatten:
		return flatten(t, value)
	case domain.TransformNest:
		return nest(t, value)
	case domain.TransformFilter:
		return filter(t, value)
	case domain.TransformCompute:
		return compute(t, value)
	case domain.TransformAggregate:
		return aggregate(t, value)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTransformation, t.Type)
	}
}

// ApplyAll применяет трансформации по порядку. Первая ошибка прерывает цепочку.
func ApplyAll(ts []domain.Transformation, value any) (any, error) {
	cur := value
	for i, t := range ts {
		next, err := Apply(t, cur)
		if err != nil {
			return nil, fmt.Errorf("transformation %d (%s): %w", i, t.Type, err)
		}
		cur = next
	}
	return cur, nil
}

// Validate проверяет, что у трансформации заданы нужные поля
// и выражения компилируются.
func Validate(t domain.Transformation) error {
	switch t.Type {
	case domain.TransformRename:
		if t.From == "" || t.To == "" {
			return fmt.Errorf("%w: rename needs from and to", ErrInvalidTransformation)
		}
	case domain.TransformFlatten:
		if t.Path == "" {
			return fmt.Errorf("%w: flatten needs path", ErrInvalidTransformation)
		}
	case domain.TransformNest:
		if len(t.Fields) == 0 || t.As == "" {
			return fmt.Errorf("%w: nest needs fields and as", ErrInvalidTransformation)
		}
	case domain.TransformFilter:
		if _, err := expr.Compile(t.Condition); err != nil {
			return fmt.Errorf("%w: filter condition: %w", ErrExpression, err)
		}
	case domain.TransformCompute:
		if t.Field == "" {
			return fmt.Errorf("%w: compute needs field", ErrInvalidTransformation)
		}
		if _, err := expr.Compile(t.Expression); err != nil {
			return fmt.Errorf("%w: compute expression: %w", ErrExpression, err)
		}
	case domain.TransformAggregate:
		if len(t.Operations) == 0 {
			return fmt.Errorf("%w: aggregate needs operations", ErrInvalidTransformation)
		}
		for _, op := range t.Operations {
			if err := ValidateOp(op); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransformation, t.Type)
	}
	return nil
}

// asObject возвращает глубокую копию объекта.
func asObject(t domain.Transformation, value any) (map[string]any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s got %T", ErrNotObject, t.Type, value)
	}
	return domain.CloneMap(obj), nil
}

func rename(t domain.Transformation, value any) (any, error) {
	obj, err := asObject(t, value)
	if err != nil {
		return nil, err
	}

	v, ok := Get(obj, t.From)
	if !ok {
		return obj, nil
	}

	Delete(obj, t.From)
	if err := Set(obj, t.To, v); err != nil {
		return nil, err
	}
	return obj, nil
}

func flatten(t domain.Transformation, value any) (any, error) {
	obj, err := asObject(t, value)
	if err != nil {
		return nil, err
	}

	v, ok := Get(obj, t.Path)
	if !ok {
		return nil, fmt.Errorf("%w: %s is missing", ErrFlattenTargetNotObject, t.Path)
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", ErrFlattenTargetNotObject, t.Path, v)
	}

	Delete(obj, t.Path)
	for k, nv := range nested {
		obj[t.Prefix+k] = nv
	}
	return obj, nil
}

func nest(t domain.Transformation, value any) (any, error) {
	obj, err := asObject(t, value)
	if err != nil {
		return nil, err
	}

	collected := make(map[string]any, len(t.Fields))
	moved := make([]string, 0, len(t.Fields))
	for _, field := range t.Fields {
		v, ok := Get(obj, field)
		if !ok {
			continue
		}
		collected[lastSegment(field)] = v
		moved = append(moved, field)
	}
	DeleteAll(obj, moved)

	if err := Set(obj, t.As, collected); err != nil {
		return nil, err
	}
	return obj, nil
}

func filter(t domain.Transformation, value any) (any, error) {
	ok, err := expr.EvaluateBool(t.Condition, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExpression, err)
	}
	if !ok {
		return map[string]any{}, nil
	}
	return domain.CloneValue(value), nil
}

func compute(t domain.Transformation, value any) (any, error) {
	obj, err := asObject(t, value)
	if err != nil {
		return nil, err
	}

	result, err := expr.Evaluate(t.Expression, obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExpression, err)
	}

	if err := Set(obj, t.Field, domain.CloneValue(result)); err != nil {
		return nil, err
	}
	return obj, nil
}
