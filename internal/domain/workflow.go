package domain

import (
	"time"
)

// NodeType — тип узла workflow.
type NodeType string

// Типы узлов, которые умеет выполнять движок.
const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeAPI       NodeType = "api"
	NodeTypeGraphQL   NodeType = "graphql"
	NodeTypeTransform NodeType = "transform"
	NodeTypeFilter    NodeType = "filter"
	NodeTypeAggregate NodeType = "aggregate"
	NodeTypeCondition NodeType = "condition"
)

// NodeTypes возвращает все известные типы узлов в фиксированном порядке.
func NodeTypes() []NodeType {
	return []NodeType{
		NodeTypeStart,
		NodeTypeEnd,
		NodeTypeAPI,
		NodeTypeGraphQL,
		NodeTypeTransform,
		NodeTypeFilter,
		NodeTypeAggregate,
		NodeTypeCondition,
	}
}

// IsValid проверяет, известен ли тип узла.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeStart, NodeTypeEnd, NodeTypeAPI, NodeTypeGraphQL,
		NodeTypeTransform, NodeTypeFilter, NodeTypeAggregate, NodeTypeCondition:
		return true
	default:
		return false
	}
}

// IsExternal возвращает true для узлов, которые ходят во внешний HTTP.
func (t NodeType) IsExternal() bool {
	return t == NodeTypeAPI || t == NodeTypeGraphQL
}

// Workflow — декларативный граф интеграции, собранный в редакторе.
//
// Workflow — единица выполнения: редактор отправляет его целиком,
// оркестратор делает снимок и выполняет один run.
type Workflow struct {
	// ID — идентификатор workflow (в редакторе или в БД).
	ID string `json:"id"`

	// Name — человекочитаемое имя, оно же categoryName при публикации.
	Name string `json:"name"`

	// Description — описание назначения интеграции.
	Description string `json:"description,omitempty"`

	// Nodes — узлы графа. Порядок не важен.
	Nodes []Node `json:"nodes"`

	// Edges — направленные зависимости между узлами.
	Edges []Edge `json:"edges"`

	// Environment — переменные окружения для подстановки {{VAR}}.
	Environment map[string]string `json:"environment,omitempty"`

	// InputSchema / OutputSchema — JSON Schema входа и выхода (для публикации).
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`

	// MockEnabled — api/graphql узлы возвращают MockResponse без сетевого вызова.
	MockEnabled bool `json:"mockEnabled,omitempty"`

	// MockResponse — ответ, который отдают внешние узлы в mock-режиме.
	MockResponse any `json:"mockResponse,omitempty"`

	// Schedule — cron-выражение для периодического запуска (пусто — только вручную).
	Schedule string `json:"schedule,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Node — типизированная единица работы в графе.
type Node struct {
	// ID — уникальный в рамках workflow идентификатор.
	ID string `json:"id"`

	// Type — тип узла, определяет исполнителя.
	Type NodeType `json:"type"`

	// Name — подпись узла на холсте.
	Name string `json:"name,omitempty"`

	// Config — конфигурация, зависящая от типа.
	// Для api: method, endpoint, headers, queryParams, authentication, timeout, retries
	// Для transform: transformations
	// Для filter: filterCondition
	Config map[string]any `json:"config,omitempty"`
}

// Edge — зависимость "source выполняется раньше target".
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// FindNode возвращает узел по ID или nil.
func (w *Workflow) FindNode(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Clone возвращает глубокую копию workflow.
// Оркестратор работает только со снимком, редактор может менять оригинал.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w

	c.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Config = CloneMap(n.Config)
		c.Nodes[i] = n
	}

	c.Edges = append([]Edge(nil), w.Edges...)

	if w.Environment != nil {
		c.Environment = make(map[string]string, len(w.Environment))
		for k, v := range w.Environment {
			c.Environment[k] = v
		}
	}

	c.InputSchema = CloneMap(w.InputSchema)
	c.OutputSchema = CloneMap(w.OutputSchema)
	c.MockResponse = CloneValue(w.MockResponse)

	return &c
}

// CloneMap делает глубокую копию JSON-подобного объекта.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue делает глубокую копию JSON-подобного значения.
// Скаляры возвращаются как есть.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneMap(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return v
	}
}
