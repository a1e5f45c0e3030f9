package engine

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/shaiso/apiflow/internal/domain"
)

// chain строит workflow start → ... → end по списку узлов.
func chain(nodes ...domain.Node) *domain.Workflow {
	wf := &domain.Workflow{ID: "wf", Nodes: nodes}
	for i := 1; i < len(nodes); i++ {
		wf.Edges = append(wf.Edges, domain.Edge{
			ID:     "e" + string(rune('0'+i)),
			Source: nodes[i-1].ID,
			Target: nodes[i].ID,
		})
	}
	return wf
}

func node(id string, typ domain.NodeType) domain.Node {
	return domain.Node{ID: id, Type: typ}
}

func TestValidate_SimpleChain(t *testing.T) {
	wf := chain(
		node("start", domain.NodeTypeStart),
		node("fetch", domain.NodeTypeAPI),
		node("shape", domain.NodeTypeTransform),
		node("end", domain.NodeTypeEnd),
	)

	v, err := Validate(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"start", "fetch", "shape", "end"}
	if !reflect.DeepEqual(v.Order, want) {
		t.Errorf("expected order %v, got %v", want, v.Order)
	}
	if v.StartID != "start" {
		t.Errorf("expected start node 'start', got %q", v.StartID)
	}
	if !reflect.DeepEqual(v.EndIDs, []string{"end"}) {
		t.Errorf("expected end nodes [end], got %v", v.EndIDs)
	}
	if v.Size() != 4 {
		t.Errorf("expected 4 nodes, got %d", v.Size())
	}
	if len(v.Levels) != 4 {
		t.Errorf("expected 4 levels, got %d", len(v.Levels))
	}
}

func TestValidate_DiamondTieBreak(t *testing.T) {
	// start → c → end
	// start → b → end
	// start → a → end
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart),
			node("c", domain.NodeTypeAPI),
			node("b", domain.NodeTypeAPI),
			node("a", domain.NodeTypeAPI),
			node("end", domain.NodeTypeEnd),
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "c"},
			{ID: "e2", Source: "start", Target: "b"},
			{ID: "e3", Source: "start", Target: "a"},
			{ID: "e4", Source: "c", Target: "end"},
			{ID: "e5", Source: "b", Target: "end"},
			{ID: "e6", Source: "a", Target: "end"},
		},
	}

	v, err := Validate(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"start", "a", "b", "c", "end"}
	if !reflect.DeepEqual(v.Order, want) {
		t.Errorf("expected order %v, got %v", want, v.Order)
	}

	wantLevels := [][]string{{"start"}, {"a", "b", "c"}, {"end"}}
	if !reflect.DeepEqual(v.Levels, wantLevels) {
		t.Errorf("expected levels %v, got %v", wantLevels, v.Levels)
	}

	preds := v.Predecessors("end")
	if len(preds) != 3 || preds[0].ID != "e4" || preds[2].ID != "e6" {
		t.Errorf("predecessors should be sorted by edge id, got %v", preds)
	}
}

func TestValidate_OrderIsDeterministic(t *testing.T) {
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			node("end", domain.NodeTypeEnd),
			node("z", domain.NodeTypeFilter),
			node("m", domain.NodeTypeTransform),
			node("start", domain.NodeTypeStart),
			node("agg", domain.NodeTypeAggregate),
		},
		Edges: []domain.Edge{
			{ID: "e5", Source: "agg", Target: "end"},
			{ID: "e1", Source: "start", Target: "z"},
			{ID: "e2", Source: "start", Target: "m"},
			{ID: "e3", Source: "z", Target: "agg"},
			{ID: "e4", Source: "m", Target: "agg"},
		},
	}

	first, err := Validate(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 20; i++ {
		again, err := Validate(wf)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first.Order, again.Order) {
			t.Fatalf("order changed between runs: %v vs %v", first.Order, again.Order)
		}
	}

	want := []string{"start", "m", "z", "agg", "end"}
	if !reflect.DeepEqual(first.Order, want) {
		t.Errorf("expected order %v, got %v", want, first.Order)
	}
}

func TestValidate_Cycle(t *testing.T) {
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			node("start", domain.NodeTypeStart),
			node("A", domain.NodeTypeTransform),
			node("B", domain.NodeTypeTransform),
			node("end", domain.NodeTypeEnd),
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "A"},
			{ID: "e2", Source: "A", Target: "B"},
			{ID: "e3", Source: "B", Target: "A"},
			{ID: "e4", Source: "B", Target: "end"},
		},
	}

	_, err := Validate(wf)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}

	var gErr *GraphError
	if !errors.As(err, &gErr) {
		t.Fatalf("expected GraphError, got %T", err)
	}
	if gErr.NodeID != "A" && gErr.NodeID != "B" {
		t.Errorf("expected cycle node A or B, got %q", gErr.NodeID)
	}
}

func TestValidate_CycleWithoutTerminals(t *testing.T) {
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			node("A", domain.NodeTypeTransform),
			node("B", domain.NodeTypeTransform),
		},
		Edges: []domain.Edge{
			{ID: "ab", Source: "A", Target: "B"},
			{ID: "ba", Source: "B", Target: "A"},
		},
	}

	_, err := Validate(wf)
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestValidate_StructuralErrors(t *testing.T) {
	start := node("start", domain.NodeTypeStart)
	end := node("end", domain.NodeTypeEnd)

	tests := []struct {
		name string
		wf   *domain.Workflow
		want error
	}{
		{
			name: "nil workflow",
			wf:   nil,
			want: ErrEmptyWorkflow,
		},
		{
			name: "no nodes",
			wf:   &domain.Workflow{},
			want: ErrEmptyWorkflow,
		},
		{
			name: "empty node id",
			wf:   &domain.Workflow{Nodes: []domain.Node{node("", domain.NodeTypeAPI)}},
			want: ErrEmptyNodeID,
		},
		{
			name: "unknown type",
			wf:   &domain.Workflow{Nodes: []domain.Node{node("x", "script")}},
			want: ErrUnknownNodeType,
		},
		{
			name: "duplicate node",
			wf:   &domain.Workflow{Nodes: []domain.Node{start, start, end}},
			want: ErrDuplicateNodeID,
		},
		{
			name: "dangling edge",
			wf: &domain.Workflow{
				Nodes: []domain.Node{start, end},
				Edges: []domain.Edge{{ID: "e1", Source: "start", Target: "ghost"}},
			},
			want: ErrDanglingEdge,
		},
		{
			name: "self loop",
			wf: &domain.Workflow{
				Nodes: []domain.Node{start, end},
				Edges: []domain.Edge{{ID: "e1", Source: "end", Target: "end"}},
			},
			want: ErrSelfLoop,
		},
		{
			name: "duplicate edge",
			wf: &domain.Workflow{
				Nodes: []domain.Node{start, end},
				Edges: []domain.Edge{
					{ID: "e1", Source: "start", Target: "end"},
					{ID: "e1", Source: "start", Target: "end"},
				},
			},
			want: ErrDuplicateEdgeID,
		},
		{
			name: "empty edge id",
			wf: &domain.Workflow{
				Nodes: []domain.Node{start, end},
				Edges: []domain.Edge{{Source: "start", Target: "end"}},
			},
			want: ErrEmptyEdgeID,
		},
		{
			name: "no start",
			wf:   &domain.Workflow{Nodes: []domain.Node{end}},
			want: ErrNoStartNode,
		},
		{
			name: "multiple starts",
			wf: &domain.Workflow{
				Nodes: []domain.Node{start, node("start2", domain.NodeTypeStart), end},
			},
			want: ErrMultipleStartNodes,
		},
		{
			name: "start with incoming edge",
			wf: &domain.Workflow{
				Nodes: []domain.Node{start, node("x", domain.NodeTypeAPI), end},
				Edges: []domain.Edge{
					{ID: "e1", Source: "x", Target: "start"},
					{ID: "e2", Source: "start", Target: "end"},
				},
			},
			want: ErrStartHasIncoming,
		},
		{
			name: "no end",
			wf:   &domain.Workflow{Nodes: []domain.Node{start}},
			want: ErrNoEndNode,
		},
		{
			name: "end with outgoing edge",
			wf: &domain.Workflow{
				Nodes: []domain.Node{start, end, node("x", domain.NodeTypeAPI)},
				Edges: []domain.Edge{
					{ID: "e1", Source: "start", Target: "end"},
					{ID: "e2", Source: "end", Target: "x"},
				},
			},
			want: ErrEndHasOutgoing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.wf)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_NodeChecks(t *testing.T) {
	wf := chain(
		node("start", domain.NodeTypeStart),
		node("fetch", domain.NodeTypeAPI),
		node("end", domain.NodeTypeEnd),
	)

	errNoEndpoint := errors.New("endpoint is required")
	check := func(n domain.Node) error {
		if n.Type == domain.NodeTypeAPI {
			return fmt.Errorf("api: %w", errNoEndpoint)
		}
		return nil
	}

	_, err := Validate(wf, check)
	if !errors.Is(err, ErrInvalidNodeConfig) {
		t.Fatalf("expected ErrInvalidNodeConfig, got %v", err)
	}
	if !errors.Is(err, errNoEndpoint) {
		t.Errorf("check error should stay in the chain, got %v", err)
	}

	var gErr *GraphError
	if !errors.As(err, &gErr) || gErr.NodeID != "fetch" {
		t.Errorf("expected error on node fetch, got %v", err)
	}
}

func TestValidate_SnapshotIsIndependent(t *testing.T) {
	wf := chain(
		node("start", domain.NodeTypeStart),
		domain.Node{ID: "shape", Type: domain.NodeTypeTransform, Config: map[string]any{"k": "v"}},
		node("end", domain.NodeTypeEnd),
	)

	v, err := Validate(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wf.Nodes[1].Config["k"] = "changed"
	wf.Nodes = append(wf.Nodes, node("extra", domain.NodeTypeAPI))

	if got := v.Node("shape").Config["k"]; got != "v" {
		t.Errorf("snapshot config changed: %v", got)
	}
	if v.Node("extra") != nil {
		t.Error("snapshot should not see nodes added after validation")
	}
}

func TestValidate_OrphanNodeIsOrdered(t *testing.T) {
	wf := chain(
		node("start", domain.NodeTypeStart),
		node("end", domain.NodeTypeEnd),
	)
	wf.Nodes = append(wf.Nodes, node("orphan", domain.NodeTypeTransform))

	v, err := Validate(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"orphan", "start", "end"}
	if !reflect.DeepEqual(v.Order, want) {
		t.Errorf("expected order %v, got %v", want, v.Order)
	}
}
