package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/engine"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/steps"
)

const weatherPipeline = `{
  "id": "weather-pipeline",
  "name": "Weather Pipeline",
  "environment": {"WEATHER_URL": "https://weather.test/v1"},
  "inputSchema": {"type": "object", "properties": {"city": {"type": "string"}}},
  "outputSchema": {"type": "object"},
  "nodes": [
    {"id": "start", "type": "start"},
    {"id": "fetch", "type": "api", "name": "Current weather", "config": {
      "method": "get",
      "endpoint": "{{WEATHER_URL}}/current.json",
      "queryParams": {"q": "{{city}}"},
      "authentication": {"type": "apiKey", "key": "key", "value": "demo", "in": "query"},
      "timeout": 5000,
      "retries": 1
    }},
    {"id": "shape", "type": "transform", "config": {"transformations": [
      {"type": "rename", "from": "current.temp_c", "to": "temperature"},
      {"type": "flatten", "path": "location", "prefix": "loc_"},
      {"type": "filter", "condition": "temperature > -100"}
    ]}},
    {"id": "uk-only", "type": "filter", "config": {"filterCondition": "loc_country == 'UK'"}},
    {"id": "end", "type": "end"}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "fetch"},
    {"id": "e2", "source": "fetch", "target": "shape"},
    {"id": "e3", "source": "shape", "target": "uk-only"},
    {"id": "e4", "source": "uk-only", "target": "end"}
  ]
}`

func loadWeather(t *testing.T) *domain.Workflow {
	t.Helper()
	wf, err := engine.ParseWorkflow([]byte(weatherPipeline))
	require.NoError(t, err)
	return wf
}

type weatherAPI struct{}

func (weatherAPI) Send(context.Context, *steps.HTTPRequest) (*steps.HTTPResponse, error) {
	return &steps.HTTPResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"location": {"name": "London", "country": "UK"}, "current": {"temp_c": 8}}`),
	}, nil
}

func TestPublish_Weather(t *testing.T) {
	pc, err := Publish(loadWeather(t))
	require.NoError(t, err)

	assert.Equal(t, "Weather Pipeline", pc.CategoryName)
	assert.Equal(t, "weather-pipeline", pc.CategoryID)

	values := pc.CategoryValues
	assert.Equal(t, APITypeREST, values.APIType)
	assert.Equal(t, "{{WEATHER_URL}}/current.json", values.Endpoint)
	assert.Equal(t, "GET", values.Method)
	assert.Equal(t, "apiKey", values.Auth["type"])
	assert.Equal(t, "object", values.InputSchema["type"])
	assert.False(t, values.MockEnabled)

	require.Len(t, values.ChainedAPIs, 1)
	assert.Equal(t, "fetch", values.ChainedAPIs[0].NodeID)
	assert.Equal(t, []string{"start"}, values.ChainedAPIs[0].DependsOn)

	require.Len(t, values.Transformations, 2)
	assert.Equal(t, "shape", values.Transformations[0].NodeID)
	assert.Equal(t, []string{"fetch"}, values.Transformations[0].DependsOn)
	assert.Equal(t, "uk-only", values.Transformations[1].NodeID)
	assert.Equal(t, domain.NodeTypeFilter, values.Transformations[1].Type)
}

func TestMarshal_Deterministic(t *testing.T) {
	first, err := Marshal(loadWeather(t))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := Marshal(loadWeather(t))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal(first, &doc))
	values := doc["categoryValues"].(map[string]any)
	for _, key := range []string{"apiType", "endpoint", "method", "auth", "inputSchema", "outputSchema", "transformations", "chainedAPIs", "mockEnabled", "mockResponse"} {
		assert.Contains(t, values, key)
	}
}

func TestPublish_GraphQLPrimary(t *testing.T) {
	wf := &domain.Workflow{
		ID:   "gql",
		Name: "GraphQL",
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "b-rest", Type: domain.NodeTypeAPI, Config: map[string]any{"endpoint": "https://rest.test"}},
			{ID: "a-gql", Type: domain.NodeTypeGraphQL, Config: map[string]any{"endpoint": "https://gql.test", "query": "{ me { id } }"}},
			{ID: "end", Type: domain.NodeTypeEnd},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "a-gql"},
			{ID: "e2", Source: "start", Target: "b-rest"},
			{ID: "e3", Source: "a-gql", Target: "end"},
			{ID: "e4", Source: "b-rest", Target: "end"},
		},
	}

	pc, err := Publish(wf)
	require.NoError(t, err)

	assert.Equal(t, APITypeGraphQL, pc.CategoryValues.APIType)
	assert.Equal(t, "POST", pc.CategoryValues.Method)
	assert.Equal(t, "https://gql.test", pc.CategoryValues.Endpoint)
	assert.Nil(t, pc.CategoryValues.Auth)
	require.Len(t, pc.CategoryValues.ChainedAPIs, 2)
	assert.Equal(t, "b-rest", pc.CategoryValues.ChainedAPIs[1].NodeID)
}

func TestPublish_InvalidWorkflow(t *testing.T) {
	wf := &domain.Workflow{
		ID:    "broken",
		Nodes: []domain.Node{{ID: "start", Type: domain.NodeTypeStart}},
	}

	_, err := Publish(wf)
	assert.ErrorIs(t, err, engine.ErrNoEndNode)
}

func TestImport_RoundTrip(t *testing.T) {
	original := loadWeather(t)

	data, err := Marshal(original)
	require.NoError(t, err)

	imported, err := Import(data)
	require.NoError(t, err)

	assert.Equal(t, original.ID, imported.ID)
	assert.Equal(t, original.Name, imported.Name)
	assert.Equal(t, original.InputSchema, imported.InputSchema)

	for _, id := range []string{"fetch", "shape", "uk-only"} {
		want := original.FindNode(id)
		got := imported.FindNode(id)
		require.NotNil(t, got, id)
		assert.Equal(t, want.Type, got.Type, id)
		assert.Equal(t, want.Config, got.Config, id)
	}

	start := imported.FindNode("start")
	require.NotNil(t, start)
	assert.Equal(t, domain.NodeTypeStart, start.Type)
}

func TestImport_ExecutesLikeOriginal(t *testing.T) {
	original := loadWeather(t)
	data, err := Marshal(original)
	require.NoError(t, err)
	imported, err := Import(data)
	require.NoError(t, err)
	// окружение не публикуется: оно принадлежит среде запуска
	imported.Environment = original.Environment

	o := orchestrator.New(orchestrator.Config{
		Registry: steps.DefaultRegistry(steps.Deps{Transport: weatherAPI{}}),
	})
	inputs := map[string]any{"city": "London"}

	want := map[string]any{
		"current":     map[string]any{},
		"temperature": float64(8),
		"loc_name":    "London",
		"loc_country": "UK",
	}

	for name, wf := range map[string]*domain.Workflow{"original": original, "imported": imported} {
		report, err := o.ExecuteWorkflow(context.Background(), wf, inputs)
		require.NoError(t, err, name)
		require.Equal(t, domain.ReportSuccess, report.OverallStatus, "%s: %s", name, report.FirstError())
		assert.Equal(t, want, report.Output, name)
	}
}

func TestImport_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":        `{"categoryId":`,
		"duplicate stage": `{"categoryId":"x","categoryValues":{"chainedAPIs":[{"nodeId":"a","type":"api","config":{}}],"transformations":[{"nodeId":"a","type":"filter","config":{}}]}}`,
		"two roots":       `{"categoryId":"x","categoryValues":{"transformations":[{"nodeId":"a","type":"transform","dependsOn":["s1"]},{"nodeId":"b","type":"transform","dependsOn":["s2"]}]}}`,
		"cycle":           `{"categoryId":"x","categoryValues":{"transformations":[{"nodeId":"a","type":"transform","dependsOn":["b"]},{"nodeId":"b","type":"transform","dependsOn":["a"]}]}}`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Import([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestImport_EdgeIDsUnique(t *testing.T) {
	// a-b → c и a → b-c дали бы одинаковый ID при склейке через "-"
	doc := `{"categoryId":"dash","categoryValues":{"transformations":[
	  {"nodeId":"a","type":"transform","dependsOn":["start"]},
	  {"nodeId":"a-b","type":"transform","dependsOn":["start"]},
	  {"nodeId":"b-c","type":"transform","dependsOn":["a"]},
	  {"nodeId":"c","type":"transform","dependsOn":["a-b"]}
	]}}`

	wf, err := Import([]byte(doc))
	require.NoError(t, err)

	seen := make(map[string]bool, len(wf.Edges))
	for _, e := range wf.Edges {
		assert.False(t, seen[e.ID], "duplicate edge ID %s", e.ID)
		seen[e.ID] = true
	}
}

func TestImport_KeepsDependsOnOrder(t *testing.T) {
	stages := make([]string, 0, 12)
	deps := make([]string, 0, 11)
	for i := 11; i >= 1; i-- {
		id := fmt.Sprintf("n%d", i)
		stages = append(stages, fmt.Sprintf(`{"nodeId":%q,"type":"transform","dependsOn":["start"]}`, id))
		deps = append(deps, fmt.Sprintf("%q", id))
	}
	stages = append(stages, fmt.Sprintf(`{"nodeId":"join","type":"aggregate","dependsOn":[%s]}`, strings.Join(deps, ",")))
	doc := `{"categoryId":"fan","categoryValues":{"transformations":[` + strings.Join(stages, ",") + `]}}`

	wf, err := Import([]byte(doc))
	require.NoError(t, err)
	vw, err := engine.Validate(wf)
	require.NoError(t, err)

	var sources []string
	for _, e := range vw.Predecessors("join") {
		sources = append(sources, e.Source)
	}
	want := make([]string, 0, 11)
	for i := 11; i >= 1; i-- {
		want = append(want, fmt.Sprintf("n%d", i))
	}
	assert.Equal(t, want, sources)
}
