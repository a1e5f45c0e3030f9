package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/expr"
)

// ValidateOp проверяет операцию агрегации.
func ValidateOp(op domain.AggOp) error {
	switch op.Kind {
	case domain.AggMerge, domain.AggConcat, domain.AggCount:
		return nil
	case domain.AggSum, domain.AggAverage, domain.AggGroup:
		if op.Field == "" {
			return fmt.Errorf("%w: %s needs field", ErrInvalidTransformation, op.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAggregation, op.Kind)
	}
}

// Aggregate сводит набор значений в одно.
//
//   - merge   — объединение объектов, поздние ключи перекрывают ранние
//   - concat  — склейка массивов, не-массивы добавляются как элементы
//   - sum     — сумма числового поля по всем элементам
//   - average — среднее (0 для пустого набора)
//   - count   — число элементов, где поле присутствует (все, если поле не задано)
//   - group   — объект ключ → элементы с этим значением поля
//
// Массивы во входе для sum/average/count/group разворачиваются в элементы.
func Aggregate(op domain.AggOp, values []any) (any, error) {
	switch op.Kind {
	case domain.AggMerge:
		out := make(map[string]any)
		for i, v := range values {
			if v == nil {
				continue
			}
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: merge item %d is %T", ErrAggregateInput, i, v)
			}
			for k, fv := range obj {
				out[k] = domain.CloneValue(fv)
			}
		}
		return out, nil

	case domain.AggConcat:
		out := make([]any, 0, len(values))
		for _, v := range values {
			switch t := v.(type) {
			case nil:
			case []any:
				for _, item := range t {
					out = append(out, domain.CloneValue(item))
				}
			default:
				out = append(out, domain.CloneValue(t))
			}
		}
		return out, nil

	case domain.AggSum, domain.AggAverage:
		var sum float64
		var n int
		for _, item := range flattenItems(values) {
			v, ok := fieldOf(item, op.Field)
			if !ok {
				continue
			}
			f, ok := expr.ToNumber(v)
			if !ok {
				return nil, fmt.Errorf("%w: %s of %s: %T is not a number", ErrAggregateInput, op.Kind, op.Field, v)
			}
			sum += f
			n++
		}
		if op.Kind == domain.AggSum {
			return sum, nil
		}
		if n == 0 {
			return float64(0), nil
		}
		return sum / float64(n), nil

	case domain.AggCount:
		var n int
		for _, item := range flattenItems(values) {
			if _, ok := fieldOf(item, op.Field); ok {
				n++
			}
		}
		return float64(n), nil

	case domain.AggGroup:
		out := make(map[string]any)
		for _, item := range flattenItems(values) {
			v, _ := fieldOf(item, op.Field)
			key := groupKey(v)
			bucket, _ := out[key].([]any)
			out[key] = append(bucket, domain.CloneValue(item))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAggregation, op.Kind)
	}
}

// AggregateAll выполняет несколько операций и собирает объект ResultKey → результат.
func AggregateAll(ops []domain.AggOp, values []any) (map[string]any, error) {
	out := make(map[string]any, len(ops))
	for _, op := range ops {
		v, err := Aggregate(op, values)
		if err != nil {
			return nil, err
		}
		out[op.ResultKey()] = v
	}
	return out, nil
}

// aggregate — трансформация aggregate над массивом (объект считается массивом из одного элемента).
// Без groupBy результат — объект операций; с groupBy — массив групп
// в порядке первого появления ключа.
func aggregate(t domain.Transformation, value any) (any, error) {
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case nil:
	default:
		items = []any{v}
	}

	if len(t.GroupBy) == 0 {
		return AggregateAll(t.Operations, items)
	}

	type group struct {
		keys  map[string]any
		items []any
	}
	var order []string
	groups := make(map[string]*group)

	for _, item := range items {
		keyVals := make(map[string]any, len(t.GroupBy))
		parts := make([]string, len(t.GroupBy))
		for i, field := range t.GroupBy {
			v, _ := fieldOf(item, field)
			keyVals[lastSegment(field)] = domain.CloneValue(v)
			parts[i] = groupKey(v)
		}
		key := strings.Join(parts, "\x00")

		g, ok := groups[key]
		if !ok {
			g = &group{keys: keyVals}
			groups[key] = g
			order = append(order, key)
		}
		g.items = append(g.items, item)
	}

	out := make([]any, 0, len(order))
	for _, key := range order {
		g := groups[key]
		res, err := AggregateAll(t.Operations, g.items)
		if err != nil {
			return nil, err
		}
		for k, v := range g.keys {
			res[k] = v
		}
		out = append(out, res)
	}
	return out, nil
}

func flattenItems(values []any) []any {
	var items []any
	for _, v := range values {
		switch t := v.(type) {
		case nil:
		case []any:
			items = append(items, t...)
		default:
			items = append(items, t)
		}
	}
	return items
}

// fieldOf возвращает поле элемента; пустой путь — сам элемент.
func fieldOf(item any, field string) (any, bool) {
	if field == "" {
		return item, true
	}
	return Get(item, field)
}

func groupKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	}
	if f, ok := expr.ToNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
