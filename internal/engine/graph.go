package engine

import (
	"sort"

	"github.com/shaiso/apiflow/internal/domain"
)

// NodeCheck — дополнительная проверка узла (обычно конфигурации по типу).
// Ошибка оборачивается в GraphError с ErrInvalidNodeConfig.
type NodeCheck func(node domain.Node) error

// ValidatedWorkflow — workflow, прошедший валидацию, с предвычисленной
// структурой графа. Не изменяется после создания и безопасен для
// одновременного чтения из нескольких run.
type ValidatedWorkflow struct {
	// Workflow — глубокий снимок исходного workflow.
	Workflow *domain.Workflow

	// Order — топологический порядок (Kahn, при равенстве — по возрастанию ID).
	Order []string

	// Levels — уровни зависимостей: узлы одного уровня не зависят друг от друга.
	// Внутри уровня узлы идут в порядке Order.
	Levels [][]string

	// StartID — ID единственного start-узла.
	StartID string

	// EndIDs — ID end-узлов по возрастанию.
	EndIDs []string

	nodes map[string]*domain.Node
	preds map[string][]domain.Edge
	succs map[string][]domain.Edge
}

// Node возвращает узел по ID или nil.
func (v *ValidatedWorkflow) Node(id string) *domain.Node {
	return v.nodes[id]
}

// Predecessors возвращает входящие рёбра узла, отсортированные по ID ребра.
func (v *ValidatedWorkflow) Predecessors(id string) []domain.Edge {
	return v.preds[id]
}

// Successors возвращает исходящие рёбра узла, отсортированные по ID ребра.
func (v *ValidatedWorkflow) Successors(id string) []domain.Edge {
	return v.succs[id]
}

// Size возвращает количество узлов.
func (v *ValidatedWorkflow) Size() int {
	return len(v.Order)
}

// Validate проверяет структуру workflow и строит топологический порядок.
//
// Проверяет:
//   - наличие узлов, непустые и уникальные ID, известные типы
//   - рёбра: непустые уникальные ID, существующие концы, без петель
//   - отсутствие циклов (DFS со стеком рекурсии)
//   - ровно один start-узел без входящих рёбер
//   - хотя бы один end-узел, end без исходящих рёбер
//   - дополнительные проверки узлов (checks), например конфигурацию
//
// Исходный workflow не изменяется: результат содержит его глубокую копию.
func Validate(wf *domain.Workflow, checks ...NodeCheck) (*ValidatedWorkflow, error) {
	if wf == nil || len(wf.Nodes) == 0 {
		return nil, &GraphError{Kind: ErrEmptyWorkflow, Message: "workflow has no nodes"}
	}

	snapshot := wf.Clone()
	v := &ValidatedWorkflow{
		Workflow: snapshot,
		nodes:    make(map[string]*domain.Node, len(snapshot.Nodes)),
		preds:    make(map[string][]domain.Edge),
		succs:    make(map[string][]domain.Edge),
	}

	if err := v.indexNodes(); err != nil {
		return nil, err
	}
	if err := v.indexEdges(); err != nil {
		return nil, err
	}
	if err := v.detectCycle(); err != nil {
		return nil, err
	}
	if err := v.checkTerminals(); err != nil {
		return nil, err
	}

	for _, id := range v.sortedIDs() {
		node := v.nodes[id]
		for _, check := range checks {
			if err := check(*node); err != nil {
				return nil, &GraphError{
					Kind:    ErrInvalidNodeConfig,
					NodeID:  id,
					Message: err.Error(),
					Cause:   err,
				}
			}
		}
	}

	v.Order = v.topologicalSort()
	v.Levels = v.buildLevels()

	return v, nil
}

// indexNodes проверяет узлы и строит индекс по ID.
func (v *ValidatedWorkflow) indexNodes() error {
	for i := range v.Workflow.Nodes {
		node := &v.Workflow.Nodes[i]

		if node.ID == "" {
			return nodeError(ErrEmptyNodeID, "", "node at index %d has empty ID", i)
		}
		if !node.Type.IsValid() {
			return nodeError(ErrUnknownNodeType, node.ID, "unknown node type: %q", node.Type)
		}
		if _, exists := v.nodes[node.ID]; exists {
			return nodeError(ErrDuplicateNodeID, node.ID, "duplicate node ID: %s", node.ID)
		}
		v.nodes[node.ID] = node
	}
	return nil
}

// indexEdges проверяет рёбра и строит списки смежности.
func (v *ValidatedWorkflow) indexEdges() error {
	edgeIDs := make(map[string]bool, len(v.Workflow.Edges))

	for i, edge := range v.Workflow.Edges {
		if edge.ID == "" {
			return edgeError(ErrEmptyEdgeID, "", "edge at index %d has empty ID", i)
		}
		if edgeIDs[edge.ID] {
			return edgeError(ErrDuplicateEdgeID, edge.ID, "duplicate edge ID: %s", edge.ID)
		}
		edgeIDs[edge.ID] = true

		if _, ok := v.nodes[edge.Source]; !ok {
			return edgeError(ErrDanglingEdge, edge.ID, "source references unknown node: %q", edge.Source)
		}
		if _, ok := v.nodes[edge.Target]; !ok {
			return edgeError(ErrDanglingEdge, edge.ID, "target references unknown node: %q", edge.Target)
		}
		if edge.Source == edge.Target {
			return edgeError(ErrSelfLoop, edge.ID, "edge connects %s to itself", edge.Source)
		}

		v.succs[edge.Source] = append(v.succs[edge.Source], edge)
		v.preds[edge.Target] = append(v.preds[edge.Target], edge)
	}

	for _, edges := range v.preds {
		sortEdges(edges)
	}
	for _, edges := range v.succs {
		sortEdges(edges)
	}
	return nil
}

// checkTerminals проверяет start/end узлы.
func (v *ValidatedWorkflow) checkTerminals() error {
	var starts []string
	for _, id := range v.sortedIDs() {
		node := v.nodes[id]
		switch node.Type {
		case domain.NodeTypeStart:
			starts = append(starts, id)
		case domain.NodeTypeEnd:
			v.EndIDs = append(v.EndIDs, id)
		}
	}

	switch {
	case len(starts) == 0:
		return &GraphError{Kind: ErrNoStartNode, Message: "workflow has no start node"}
	case len(starts) > 1:
		return nodeError(ErrMultipleStartNodes, starts[1], "workflow has %d start nodes: %v", len(starts), starts)
	}
	v.StartID = starts[0]

	if in := v.preds[v.StartID]; len(in) > 0 {
		return nodeError(ErrStartHasIncoming, v.StartID, "start node has incoming edge %s", in[0].ID)
	}

	if len(v.EndIDs) == 0 {
		return &GraphError{Kind: ErrNoEndNode, Message: "workflow has no end node"}
	}
	for _, id := range v.EndIDs {
		if out := v.succs[id]; len(out) > 0 {
			return nodeError(ErrEndHasOutgoing, id, "end node has outgoing edge %s", out[0].ID)
		}
	}
	return nil
}

// Состояния узла при обходе в глубину.
const (
	unvisited = iota
	onStack
	done
)

// detectCycle ищет цикл обходом в глубину с пометкой стека рекурсии.
// Обход детерминирован: корни и соседи по возрастанию ID.
func (v *ValidatedWorkflow) detectCycle() error {
	state := make(map[string]int, len(v.nodes))

	var visit func(id string) string
	visit = func(id string) string {
		state[id] = onStack
		for _, next := range v.successorIDs(id) {
			switch state[next] {
			case onStack:
				return next
			case unvisited:
				if found := visit(next); found != "" {
					return found
				}
			}
		}
		state[id] = done
		return ""
	}

	for _, id := range v.sortedIDs() {
		if state[id] != unvisited {
			continue
		}
		if found := visit(id); found != "" {
			return nodeError(ErrCycleDetected, found, "cycle detected at node %s", found)
		}
	}
	return nil
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Из готовых узлов всегда берётся узел с наименьшим ID.
func (v *ValidatedWorkflow) topologicalSort() []string {
	inDegree := make(map[string]int, len(v.nodes))
	for id := range v.nodes {
		inDegree[id] = len(v.preds[id])
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(v.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		added := false
		for _, edge := range v.succs[id] {
			inDegree[edge.Target]--
			if inDegree[edge.Target] == 0 {
				ready = append(ready, edge.Target)
				added = true
			}
		}
		if added {
			sort.Strings(ready)
		}
	}

	return order
}

// buildLevels группирует узлы по глубине: уровень узла на единицу больше
// максимального уровня его предков.
func (v *ValidatedWorkflow) buildLevels() [][]string {
	level := make(map[string]int, len(v.Order))
	var levels [][]string

	for _, id := range v.Order {
		lvl := 0
		for _, edge := range v.preds[id] {
			if l := level[edge.Source] + 1; l > lvl {
				lvl = l
			}
		}
		level[id] = lvl

		for len(levels) <= lvl {
			levels = append(levels, nil)
		}
		levels[lvl] = append(levels[lvl], id)
	}

	return levels
}

func (v *ValidatedWorkflow) successorIDs(id string) []string {
	edges := v.succs[id]
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.Target)
	}
	sort.Strings(ids)
	return ids
}

func (v *ValidatedWorkflow) sortedIDs() []string {
	ids := make([]string, 0, len(v.nodes))
	for id := range v.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortEdges(edges []domain.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].ID < edges[j].ID
	})
}
