package engine

import (
	"errors"
	"fmt"
)

// Ошибки валидации графа workflow.
var (
	// ErrEmptyWorkflow — workflow не содержит узлов.
	ErrEmptyWorkflow = errors.New("workflow has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrUnknownNodeType — неизвестный тип узла.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrEmptyEdgeID — ребро не имеет ID.
	ErrEmptyEdgeID = errors.New("edge has empty ID")

	// ErrDuplicateEdgeID — несколько рёбер с одинаковым ID.
	ErrDuplicateEdgeID = errors.New("duplicate edge ID")

	// ErrDanglingEdge — ребро ссылается на несуществующий узел.
	ErrDanglingEdge = errors.New("edge references unknown node")

	// ErrSelfLoop — ребро из узла в самого себя.
	ErrSelfLoop = errors.New("edge is a self-loop")

	// ErrNoStartNode — в workflow нет start-узла.
	ErrNoStartNode = errors.New("workflow has no start node")

	// ErrMultipleStartNodes — start-узлов больше одного.
	ErrMultipleStartNodes = errors.New("workflow has multiple start nodes")

	// ErrStartHasIncoming — в start-узел входят рёбра.
	ErrStartHasIncoming = errors.New("start node has incoming edges")

	// ErrNoEndNode — в workflow нет end-узла.
	ErrNoEndNode = errors.New("workflow has no end node")

	// ErrEndHasOutgoing — из end-узла выходят рёбра.
	ErrEndHasOutgoing = errors.New("end node has outgoing edges")

	// ErrCycleDetected — в графе есть цикл.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrInvalidNodeConfig — конфигурация узла не подходит его типу.
	ErrInvalidNodeConfig = errors.New("invalid node config")
)

// Ошибки разбора документов workflow.
var (
	// ErrParseWorkflow — документ не удалось разобрать.
	ErrParseWorkflow = errors.New("parse workflow failed")

	// ErrUnsupportedFormat — неизвестное расширение файла.
	ErrUnsupportedFormat = errors.New("unsupported workflow format")
)

// Ошибки подстановки переменных.
var (
	// ErrUnresolvedVariable — плейсхолдер {{name}} не нашёлся ни во входе, ни в окружении.
	ErrUnresolvedVariable = errors.New("unresolved variable")
)

// GraphError — ошибка валидации workflow.
// Структурные ошибки фатальны для run: невалидный граф не выполняется
// даже частично.
type GraphError struct {
	Kind    error  // sentinel-ошибка (ErrCycleDetected и т.д.)
	NodeID  string // узел, на котором обнаружена ошибка
	EdgeID  string // ребро, если ошибка в ребре
	Message string // описание
	Cause   error  // исходная ошибка проверки узла, если есть
}

// Error реализует интерфейс error.
func (e *GraphError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
	case e.EdgeID != "":
		return fmt.Sprintf("edge %s: %s", e.EdgeID, e.Message)
	default:
		return e.Message
	}
}

// Unwrap возвращает sentinel-ошибку и причину.
func (e *GraphError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func nodeError(kind error, nodeID, format string, args ...any) *GraphError {
	return &GraphError{Kind: kind, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

func edgeError(kind error, edgeID, format string, args ...any) *GraphError {
	return &GraphError{Kind: kind, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)}
}
