package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/apiflow/internal/domain"
)

const renameJSON = `{
  "id": "rename",
  "name": "Rename",
  "nodes": [
    {"id": "start", "type": "start"},
    {"id": "shape", "type": "transform", "config": {
      "transformations": [{"type": "rename", "from": "name", "to": "title"}]
    }},
    {"id": "end", "type": "end"}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "shape"},
    {"id": "e2", "source": "shape", "target": "end"}
  ]
}`

const fetchYAML = `id: fetch
name: Fetch
environment:
  HOST: https://default.test
nodes:
  - id: start
    type: start
  - id: items
    type: api
    config:
      endpoint: "{{HOST}}/items"
  - id: end
    type: end
edges:
  - {id: e1, source: start, target: items}
  - {id: e2, source: items, target: end}
`

const cyclicJSON = `{
  "id": "cyclic",
  "nodes": [
    {"id": "start", "type": "start"},
    {"id": "a", "type": "transform", "config": {"transformations": []}},
    {"id": "b", "type": "transform", "config": {"transformations": []}},
    {"id": "end", "type": "end"}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "a"},
    {"id": "e2", "source": "a", "target": "b"},
    {"id": "e3", "source": "b", "target": "a"},
    {"id": "e4", "source": "b", "target": "end"}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute запускает команду как корневую и возвращает stdout и stderr.
func execute(t *testing.T, jsonMode bool, build func(outputFn func() *Output) *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	cmd := build(outputFn)
	cmd.SetArgs(args)
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// --- local commands ---

func TestValidateCmd(t *testing.T) {
	path := writeFile(t, "rename.json", renameJSON)

	stdout, stderr, err := execute(t, false, newValidateCmd, path)
	require.NoError(t, err)
	assert.Contains(t, stderr, `Workflow "rename" is valid: 3 nodes`)
	assert.Contains(t, stdout, "LEVEL")
	assert.Contains(t, stdout, "shape")

	stdout, _, err = execute(t, true, newValidateCmd, path)
	require.NoError(t, err)
	var result struct {
		Valid bool     `json:"valid"`
		Order []string `json:"order"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"start", "shape", "end"}, result.Order)
}

func TestValidateCmd_Invalid(t *testing.T) {
	_, _, err := execute(t, false, newValidateCmd, writeFile(t, "cyclic.json", cyclicJSON))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	_, _, err = execute(t, false, newValidateCmd, writeFile(t, "flow.txt", renameJSON))
	assert.Error(t, err, "unknown extension")
}

func TestRunCmd_Local(t *testing.T) {
	path := writeFile(t, "rename.json", renameJSON)

	stdout, _, err := execute(t, true, newRunCmd, path, "--inputs", `{"name": "Oslo"}`)
	require.NoError(t, err)

	var report domain.ExecutionReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, domain.ReportSuccess, report.OverallStatus)
	assert.Equal(t, map[string]any{"title": "Oslo"}, report.Output)
}

func TestRunCmd_TableAndVerbose(t *testing.T) {
	path := writeFile(t, "rename.json", renameJSON)

	stdout, stderr, err := execute(t, false, newRunCmd, path, "--inputs", `{"name": "Oslo"}`, "-v")
	require.NoError(t, err)
	assert.Contains(t, stdout, "NODE")
	assert.Contains(t, stdout, "status: success")
	assert.Contains(t, stdout, `"title": "Oslo"`)
	assert.Contains(t, stderr, "shape")
	assert.Contains(t, stderr, "running -> completed")
}

func TestRunCmd_SimulatedWithEnv(t *testing.T) {
	path := writeFile(t, "fetch.yaml", fetchYAML)

	stdout, stderr, err := execute(t, true, newRunCmd, path,
		"--simulate", "--failure-rate", "0", "--latency", "0s",
		"--env", "HOST=https://override.test",
	)
	require.NoError(t, err)
	assert.Contains(t, stderr, "simulation mode")

	var report domain.ExecutionReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	output, ok := report.Output.(map[string]any)
	require.True(t, ok, "output: %#v", report.Output)
	assert.Equal(t, true, output["simulated"])
	assert.Equal(t, "https://override.test/items", output["url"])
}

func TestRunCmd_FailureSetsError(t *testing.T) {
	path := writeFile(t, "fetch.yaml", fetchYAML)

	stdout, _, err := execute(t, true, newRunCmd, path,
		"--simulate", "--failure-rate", "1", "--latency", "0s",
	)
	require.ErrorIs(t, err, ErrRunFailed)

	var report domain.ExecutionReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, domain.ReportFailure, report.OverallStatus)
	assert.Contains(t, report.Failed(), "items")
	assert.Equal(t, domain.NodeStatusFailed, report.Statuses["items"])
	assert.Equal(t, domain.NodeStatusSkipped, report.Statuses["end"])
}

func TestRunCmd_BadFlags(t *testing.T) {
	path := writeFile(t, "rename.json", renameJSON)

	_, _, err := execute(t, false, newRunCmd, path, "--inputs", "{broken")
	assert.ErrorContains(t, err, "invalid inputs")

	_, _, err = execute(t, false, newRunCmd, path, "--env", "NOVALUE")
	assert.ErrorContains(t, err, "expected KEY=VALUE")
}

func TestParseInputs(t *testing.T) {
	got, err := parseInputs("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseInputs(`[1, 2]`)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, got)

	file := writeFile(t, "inputs.json", `{"city": "Paris"}`)
	got, err = parseInputs("@" + file)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Paris"}, got)

	_, err = parseInputs("@" + filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	wf := &domain.Workflow{Environment: map[string]string{"A": "1", "B": "2"}}
	require.NoError(t, applyEnv(wf, []string{"B=3", "C=x=y"}))
	assert.Equal(t, map[string]string{"A": "1", "B": "3", "C": "x=y"}, wf.Environment)

	empty := &domain.Workflow{}
	require.NoError(t, applyEnv(empty, []string{"K=v"}))
	assert.Equal(t, "v", empty.Environment["K"])

	assert.Error(t, applyEnv(empty, []string{"=v"}))
}

func TestExportImportCmds(t *testing.T) {
	path := writeFile(t, "rename.json", renameJSON)

	doc, _, err := execute(t, false, newExportCmd, path)
	require.NoError(t, err)
	assert.Contains(t, doc, `"categoryName": "Rename"`)

	outPath := filepath.Join(t.TempDir(), "published.json")
	_, stderr, err := execute(t, false, newExportCmd, path, "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Exported")

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.JSONEq(t, doc, string(written))

	stdout, _, err := execute(t, false, newImportCmd, outPath)
	require.NoError(t, err)

	var wf domain.Workflow
	require.NoError(t, json.Unmarshal([]byte(stdout), &wf))
	assert.Len(t, wf.Nodes, 3)
	assert.NotNil(t, wf.FindNode("shape"))
}

func TestExportCmd_Invalid(t *testing.T) {
	_, _, err := execute(t, false, newExportCmd, writeFile(t, "cyclic.json", cyclicJSON))
	assert.Error(t, err)
}

// --- client / remote ---

type fakeServer struct {
	mu       sync.Mutex
	requests []string
	mux      *http.ServeMux
}

func newFakeServer(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	fs := &fakeServer{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.requests = append(fs.requests, r.Method+" "+r.URL.RequestURI())
		fs.mu.Unlock()
		fs.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return fs, NewClient(srv.URL)
}

func (fs *fakeServer) seen() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.requests...)
}

func (fs *fakeServer) handle(pattern string, status int, body string) {
	fs.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func remoteCmd(client *Client) func(outputFn func() *Output) *cobra.Command {
	return func(outputFn func() *Output) *cobra.Command {
		return NewRemoteCmd(func() *Client { return client }, outputFn)
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.handle("GET /api/v1/runs/{id}", http.StatusNotFound,
		`{"error": {"code": "NOT_FOUND", "message": "run not found"}}`)
	fs.handle("POST /api/v1/workflows/validate", http.StatusUnprocessableEntity,
		`{"error": {"code": "VALIDATION_FAILED", "message": "cycle detected", "node_id": "a"}}`)

	_, err := client.GetRun(t.Context(), "42")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND: run not found", apiErr.Error())

	_, err = client.ValidateWorkflow(t.Context(), &domain.Workflow{ID: "x"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_FAILED: cycle detected (node a)", apiErr.Error())
}

func TestClient_NonJSONError(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.mux.HandleFunc("GET /api/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.ListWorkflows(t.Context())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP_502", apiErr.Code)
}

func TestRemote_Workflows(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.handle("GET /api/v1/workflows", http.StatusOK,
		`{"data": [{"id": "weather", "name": "Weather", "nodes": 5, "schedule": "*/5 * * * *"}], "total": 1}`)

	stdout, _, err := execute(t, false, remoteCmd(client), "workflows")
	require.NoError(t, err)
	assert.Contains(t, stdout, "weather")
	assert.Contains(t, stdout, "*/5 * * * *")

	stdout, _, err = execute(t, true, remoteCmd(client), "workflows", "list")
	require.NoError(t, err)
	var list []WorkflowSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 5, list[0].Nodes)
}

func TestRemote_PushCreatesWhenMissing(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.handle("PUT /api/v1/workflows/{id}", http.StatusNotFound,
		`{"error": {"code": "NOT_FOUND", "message": "workflow not found"}}`)
	fs.handle("POST /api/v1/workflows", http.StatusCreated, `{"data": {"id": "rename"}}`)

	_, stderr, err := execute(t, false, remoteCmd(client), "workflows", "push", writeFile(t, "rename.json", renameJSON))
	require.NoError(t, err)
	assert.Contains(t, stderr, "Workflow created: rename")
	assert.Equal(t, []string{"PUT /api/v1/workflows/rename", "POST /api/v1/workflows"}, fs.seen())
}

func TestRemote_PushUpdates(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.handle("PUT /api/v1/workflows/{id}", http.StatusOK, `{"data": {"id": "rename"}}`)

	_, stderr, err := execute(t, false, remoteCmd(client), "workflows", "push", writeFile(t, "rename.json", renameJSON))
	require.NoError(t, err)
	assert.Contains(t, stderr, "Workflow updated: rename")
	assert.Len(t, fs.seen(), 1)
}

func TestRemote_RunSyncAndAsync(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.mux.HandleFunc("POST /api/v1/workflows/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		var req CreateRunRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]any{"name": "Oslo"}, req.Inputs)

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("async") == "true" {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"data": {"id": "r-2", "workflow_id": "rename", "status": "PENDING"}}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data": {"id": "r-1", "workflow_id": "rename", "status": "SUCCEEDED",
			"report": {"runId": "r-1", "overallStatus": "success", "order": ["start"],
			"statuses": {"start": "completed"}, "results": {"start": {"status": "success"}},
			"output": {"title": "Oslo"}}}}`))
	})

	stdout, stderr, err := execute(t, false, remoteCmd(client), "run", "rename", "--inputs", `{"name": "Oslo"}`)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Run finished: r-1")
	assert.Contains(t, stdout, "status: success")

	_, stderr, err = execute(t, false, remoteCmd(client), "run", "rename", "--async", "--inputs", `{"name": "Oslo"}`)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Run queued: r-2")
	assert.Contains(t, fs.seen(), "POST /api/v1/workflows/rename/runs?async=true")
}

func TestRemote_RunFailed(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.handle("POST /api/v1/workflows/{id}/runs", http.StatusCreated,
		`{"data": {"id": "r-1", "status": "FAILED", "error": "items: connection refused"}}`)

	_, _, err := execute(t, false, remoteCmd(client), "run", "fetch")
	assert.ErrorIs(t, err, ErrRunFailed)
}

func TestRemote_RunsShowCancel(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.handle("GET /api/v1/workflows/{id}/runs", http.StatusOK,
		`{"data": [{"id": "r-1", "status": "FAILED", "trigger": "schedule", "duration_ms": 12}], "total": 1}`)
	fs.handle("GET /api/v1/runs/{id}", http.StatusOK,
		`{"data": {"id": "r-1", "workflow_id": "fetch", "status": "FAILED", "error": "boom"}}`)
	fs.handle("POST /api/v1/runs/{id}/cancel", http.StatusAccepted,
		`{"data": {"id": "r-3", "status": "RUNNING"}}`)

	stdout, _, err := execute(t, false, remoteCmd(client), "runs", "fetch", "--status", "FAILED", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "schedule")
	assert.Contains(t, fs.seen(), "GET /api/v1/workflows/fetch/runs?limit=5&status=FAILED")

	stdout, _, err = execute(t, false, remoteCmd(client), "show", "r-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "boom")

	_, stderr, err := execute(t, false, remoteCmd(client), "cancel", "r-3")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Cancel requested: r-3 (RUNNING)")
}

func TestRemote_ExportImport(t *testing.T) {
	fs, client := newFakeServer(t)
	fs.handle("GET /api/v1/workflows/{id}/export", http.StatusOK, `{"categoryName": "Rename"}`)
	fs.mux.HandleFunc("POST /api/v1/import", func(w http.ResponseWriter, r *http.Request) {
		var doc map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		assert.Equal(t, "Rename", doc["categoryName"])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data": {"id": "imported"}}`))
	})

	stdout, _, err := execute(t, false, remoteCmd(client), "workflows", "export", "rename")
	require.NoError(t, err)
	assert.Equal(t, `{"categoryName": "Rename"}`, strings.TrimSpace(stdout))

	doc := writeFile(t, "doc.json", stdout)
	_, stderr, err := execute(t, false, remoteCmd(client), "workflows", "import", doc)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Workflow imported: imported")
}
