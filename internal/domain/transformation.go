package domain

// TransformationType — дискриминатор варианта Transformation.
type TransformationType string

// Поддерживаемые трансформации.
const (
	TransformRename    TransformationType = "rename"
	TransformFlatten   TransformationType = "flatten"
	TransformNest      TransformationType = "nest"
	TransformFilter    TransformationType = "filter"
	TransformCompute   TransformationType = "compute"
	TransformAggregate TransformationType = "aggregate"
)

// Transformation — одна операция над JSON-значением (элемент config.transformations).
//
// Используются только поля, относящиеся к Type:
//
//	{"type": "rename",    "from": "a.b", "to": "c"}
//	{"type": "flatten",   "path": "location", "prefix": "loc_"}
//	{"type": "nest",      "fields": ["lat", "lon"], "as": "coords"}
//	{"type": "filter",    "condition": "temperature > 0"}
//	{"type": "compute",   "field": "temp_f", "expression": "temp_c * 9 / 5 + 32"}
//	{"type": "aggregate", "groupBy": ["city"], "operations": [{"kind": "sum", "field": "qty"}]}
type Transformation struct {
	Type TransformationType `json:"type" yaml:"type"`

	// rename
	From string `json:"from,omitempty" yaml:"from,omitempty"`
	To   string `json:"to,omitempty" yaml:"to,omitempty"`

	// flatten
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// nest
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	As     string   `json:"as,omitempty" yaml:"as,omitempty"`

	// filter
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// compute
	Field      string `json:"field,omitempty" yaml:"field,omitempty"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// aggregate
	GroupBy    []string `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
	Operations []AggOp  `json:"operations,omitempty" yaml:"operations,omitempty"`
}

// AggKind — вид агрегации.
type AggKind string

// Виды агрегаций.
const (
	AggMerge   AggKind = "merge"
	AggConcat  AggKind = "concat"
	AggSum     AggKind = "sum"
	AggAverage AggKind = "average"
	AggCount   AggKind = "count"
	AggGroup   AggKind = "group"
)

// AggOp — одна операция агрегации.
type AggOp struct {
	// Kind — merge, concat, sum, average, count, group.
	Kind AggKind `json:"kind" yaml:"kind"`

	// Field — путь к полю (для sum/average/count/group).
	Field string `json:"field,omitempty" yaml:"field,omitempty"`

	// As — ключ результата. По умолчанию — имя операции.
	As string `json:"as,omitempty" yaml:"as,omitempty"`
}

// ResultKey возвращает ключ, под которым сохраняется результат операции.
func (o AggOp) ResultKey() string {
	if o.As != "" {
		return o.As
	}
	return string(o.Kind)
}
