package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/engine"
)

// Значения apiType.
const (
	APITypeREST    = "REST"
	APITypeGraphQL = "GraphQL"
)

// ErrInvalidDocument — документ нельзя превратить обратно в workflow.
var ErrInvalidDocument = errors.New("invalid published config")

// PublishedConfig — каноническое представление опубликованного workflow.
type PublishedConfig struct {
	CategoryName   string         `json:"categoryName"`
	CategoryID     string         `json:"categoryId"`
	CategoryValues CategoryValues `json:"categoryValues"`
}

// CategoryValues — содержимое опубликованной конфигурации.
//
// apiType/endpoint/method/auth описывают основной вызов: первый api или
// graphql узел в топологическом порядке. Все внешние вызовы лежат в
// chainedAPIs, все узлы обработки данных — в transformations.
type CategoryValues struct {
	APIType         string         `json:"apiType"`
	Endpoint        string         `json:"endpoint"`
	Method          string         `json:"method"`
	Auth            map[string]any `json:"auth"`
	InputSchema     map[string]any `json:"inputSchema"`
	OutputSchema    map[string]any `json:"outputSchema"`
	Transformations []Stage        `json:"transformations"`
	ChainedAPIs     []Stage        `json:"chainedAPIs"`
	MockEnabled     bool           `json:"mockEnabled"`
	MockResponse    any            `json:"mockResponse"`
}

// Stage — один узел в опубликованной конфигурации.
type Stage struct {
	NodeID    string          `json:"nodeId"`
	Name      string          `json:"name,omitempty"`
	Type      domain.NodeType `json:"type"`
	DependsOn []string        `json:"dependsOn"`
	Config    map[string]any  `json:"config"`
}

// Publish строит каноническую конфигурацию. Workflow должен быть валиден;
// узлы идут в топологическом порядке, поэтому результат детерминирован.
func Publish(wf *domain.Workflow) (*PublishedConfig, error) {
	vw, err := engine.Validate(wf)
	if err != nil {
		return nil, err
	}
	snapshot := vw.Workflow

	values := CategoryValues{
		InputSchema:     domain.CloneMap(snapshot.InputSchema),
		OutputSchema:    domain.CloneMap(snapshot.OutputSchema),
		Transformations: []Stage{},
		ChainedAPIs:     []Stage{},
		MockEnabled:     snapshot.MockEnabled,
		MockResponse:    domain.CloneValue(snapshot.MockResponse),
	}

	for _, id := range vw.Order {
		node := vw.Node(id)
		if !node.Type.IsExternal() && !isDataStage(node.Type) {
			continue
		}

		stage := Stage{
			NodeID:    node.ID,
			Name:      node.Name,
			Type:      node.Type,
			DependsOn: dependsOn(vw, id),
			Config:    domain.CloneMap(node.Config),
		}
		if stage.Config == nil {
			stage.Config = map[string]any{}
		}

		if node.Type.IsExternal() {
			if len(values.ChainedAPIs) == 0 {
				setPrimary(&values, node)
			}
			values.ChainedAPIs = append(values.ChainedAPIs, stage)
		} else {
			values.Transformations = append(values.Transformations, stage)
		}
	}

	return &PublishedConfig{
		CategoryName:   snapshot.Name,
		CategoryID:     snapshot.ID,
		CategoryValues: values,
	}, nil
}

// Marshal публикует workflow и сериализует его в JSON с отступами.
func Marshal(wf *domain.Workflow) ([]byte, error) {
	pc, err := Publish(wf)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(pc, "", "  ")
}

func isDataStage(t domain.NodeType) bool {
	switch t {
	case domain.NodeTypeTransform, domain.NodeTypeFilter, domain.NodeTypeAggregate, domain.NodeTypeCondition:
		return true
	default:
		return false
	}
}

// dependsOn возвращает предшественников узла в порядке ID рёбер.
func dependsOn(vw *engine.ValidatedWorkflow, id string) []string {
	edges := vw.Predecessors(id)
	deps := make([]string, 0, len(edges))
	for _, e := range edges {
		deps = append(deps, e.Source)
	}
	return deps
}

// setPrimary заполняет apiType/endpoint/method/auth по основному вызову.
func setPrimary(values *CategoryValues, node *domain.Node) {
	config := node.Config
	if endpoint, ok := config["endpoint"].(string); ok {
		values.Endpoint = endpoint
	}
	if auth, ok := config["authentication"].(map[string]any); ok {
		values.Auth = domain.CloneMap(auth)
	}

	switch node.Type {
	case domain.NodeTypeGraphQL:
		values.APIType = APITypeGraphQL
		values.Method = "POST"
	default:
		values.APIType = APITypeREST
		values.Method = "GET"
		if method, ok := config["method"].(string); ok && method != "" {
			values.Method = strings.ToUpper(method)
		}
	}
}

// Import разбирает JSON опубликованной конфигурации в workflow.
func Import(data []byte) (*domain.Workflow, error) {
	var pc PublishedConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return pc.Workflow()
}

// Workflow восстанавливает workflow из опубликованной конфигурации.
//
// Start- и end-узлы в документе не хранятся: start получает ID, на
// который ссылаются dependsOn, но который не описан стадией (по
// умолчанию "start"); единственный end-узел "end" получает рёбра от всех
// стадий без потомков. ID рёбер строятся как "<source>-<target>".
func (pc *PublishedConfig) Workflow() (*domain.Workflow, error) {
	values := pc.CategoryValues
	stages := make([]Stage, 0, len(values.ChainedAPIs)+len(values.Transformations))
	stages = append(stages, values.ChainedAPIs...)
	stages = append(stages, values.Transformations...)

	known := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.NodeID == "" {
			return nil, fmt.Errorf("%w: stage without nodeId", ErrInvalidDocument)
		}
		if known[s.NodeID] {
			return nil, fmt.Errorf("%w: duplicate nodeId %q", ErrInvalidDocument, s.NodeID)
		}
		known[s.NodeID] = true
	}

	startID, err := findStartID(stages, known)
	if err != nil {
		return nil, err
	}
	endID := "end"
	for known[endID] || endID == startID {
		endID = "_" + endID
	}

	wf := &domain.Workflow{
		ID:           pc.CategoryID,
		Name:         pc.CategoryName,
		InputSchema:  domain.CloneMap(values.InputSchema),
		OutputSchema: domain.CloneMap(values.OutputSchema),
		MockEnabled:  values.MockEnabled,
		MockResponse: domain.CloneValue(values.MockResponse),
	}
	wf.Nodes = append(wf.Nodes, domain.Node{ID: startID, Type: domain.NodeTypeStart})

	hasSuccessor := make(map[string]bool)
	for _, s := range stages {
		wf.Nodes = append(wf.Nodes, domain.Node{
			ID:     s.NodeID,
			Type:   s.Type,
			Name:   s.Name,
			Config: domain.CloneMap(s.Config),
		})

		deps := s.DependsOn
		if len(deps) == 0 {
			deps = []string{startID}
		}
		for _, dep := range deps {
			wf.Edges = append(wf.Edges, domain.Edge{Source: dep, Target: s.NodeID})
			hasSuccessor[dep] = true
		}
	}

	wf.Nodes = append(wf.Nodes, domain.Node{ID: endID, Type: domain.NodeTypeEnd})
	sinks := 0
	for _, s := range stages {
		if !hasSuccessor[s.NodeID] {
			wf.Edges = append(wf.Edges, domain.Edge{Source: s.NodeID, Target: endID})
			sinks++
		}
	}
	if sinks == 0 {
		wf.Edges = append(wf.Edges, domain.Edge{Source: startID, Target: endID})
	}
	numberEdges(wf.Edges)

	if _, err := engine.Validate(wf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return wf, nil
}

// numberEdges присваивает рёбрам ID e1, e2, ... в порядке создания.
// Номера дополняются нулями, чтобы порядок строк совпадал с порядком
// dependsOn: от него зависит объединение входов.
func numberEdges(edges []domain.Edge) {
	width := len(strconv.Itoa(len(edges)))
	for i := range edges {
		edges[i].ID = fmt.Sprintf("e%0*d", width, i+1)
	}
}

// findStartID находит единственный ID, на который ссылаются, но который
// не описан стадией.
func findStartID(stages []Stage, known map[string]bool) (string, error) {
	external := make(map[string]bool)
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if !known[dep] {
				external[dep] = true
			}
		}
	}

	switch len(external) {
	case 0:
		return "start", nil
	case 1:
		for id := range external {
			return id, nil
		}
	}

	ids := make([]string, 0, len(external))
	for id := range external {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return "", fmt.Errorf("%w: unknown dependencies %v", ErrInvalidDocument, ids)
}
