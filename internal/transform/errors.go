package transform

import "errors"

// Ошибки трансформаций.
var (
	// ErrFlattenTargetNotObject — flatten указывает не на объект.
	ErrFlattenTargetNotObject = errors.New("flatten target is not an object")

	// ErrExpression — выражение filter/compute не вычислилось.
	ErrExpression = errors.New("expression error")

	// ErrNotObject — трансформация ожидает объект на входе.
	ErrNotObject = errors.New("value is not an object")

	// ErrPathConflict — промежуточный элемент пути не объект.
	ErrPathConflict = errors.New("path conflicts with non-object value")

	// ErrInvalidTransformation — неполная или неизвестная трансформация.
	ErrInvalidTransformation = errors.New("invalid transformation")

	// ErrUnsupportedAggregation — неизвестный вид агрегации.
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")

	// ErrAggregateInput — значение не подходит для агрегации.
	ErrAggregateInput = errors.New("invalid aggregation input")
)
