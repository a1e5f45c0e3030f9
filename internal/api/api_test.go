package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
	"github.com/shaiso/apiflow/internal/telemetry"
)

// --- fakes ---

type memWorkflows struct {
	mu    sync.Mutex
	items map[string]domain.Workflow
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{items: make(map[string]domain.Workflow)}
}

func (m *memWorkflows) Create(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[wf.ID]; ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, repo.ErrAlreadyExists)
	}
	wf.CreatedAt = time.Now().UTC()
	wf.UpdatedAt = wf.CreatedAt
	m.items[wf.ID] = *wf
	return nil
}

func (m *memWorkflows) GetByID(_ context.Context, id string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &wf, nil
}

func (m *memWorkflows) List(context.Context) ([]domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Workflow, 0, len(m.items))
	for _, wf := range m.items {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memWorkflows) Update(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[wf.ID]; !ok {
		return repo.ErrNotFound
	}
	wf.UpdatedAt = time.Now().UTC()
	m.items[wf.ID] = *wf
	return nil
}

func (m *memWorkflows) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type memRuns struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.Run
}

func newMemRuns() *memRuns {
	return &memRuns{items: make(map[uuid.UUID]domain.Run)}
}

func (m *memRuns) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[run.ID] = *run
	return nil
}

func (m *memRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &run, nil
}

func (m *memRuns) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Run
	for _, run := range m.items {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (m *memRuns) Update(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[run.ID]; !ok {
		return repo.ErrNotFound
	}
	m.items[run.ID] = *run
	return nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published []uuid.UUID
}

func (f *fakeQueue) PublishRunRequested(_ context.Context, runID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, runID)
	return nil
}

// --- helpers ---

type testEnv struct {
	mux       *http.ServeMux
	handler   *Handler
	workflows *memWorkflows
	runs      *memRuns
	queue     *fakeQueue
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T, withQueue bool) *testEnv {
	t.Helper()

	env := &testEnv{
		mux:       http.NewServeMux(),
		workflows: newMemWorkflows(),
		runs:      newMemRuns(),
		registry:  prometheus.NewRegistry(),
	}

	cfg := Config{
		Workflows:    env.workflows,
		Runs:         env.runs,
		Orchestrator: orchestrator.New(orchestrator.Config{}),
		Metrics:      telemetry.NewMetrics(env.registry),
	}
	if withQueue {
		env.queue = &fakeQueue{}
		cfg.Queue = env.queue
	}

	env.handler = NewHandler(cfg)
	env.handler.RegisterRoutes(env.mux)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
	Error ErrorDetail     `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &out))
	return out
}

// renameWorkflow: start -> shape (name -> title) -> end.
func renameWorkflow(id string) *domain.Workflow {
	return &domain.Workflow{
		ID:   id,
		Name: "Rename",
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "shape", Type: domain.NodeTypeTransform, Config: map[string]any{
				"transformations": []any{
					map[string]any{"type": "rename", "from": "name", "to": "title"},
				},
			}},
			{ID: "end", Type: domain.NodeTypeEnd},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "shape"},
			{ID: "e2", Source: "shape", Target: "end"},
		},
	}
}

func cyclicWorkflow() *domain.Workflow {
	wf := renameWorkflow("cyclic")
	wf.Nodes = append(wf.Nodes, domain.Node{ID: "loop", Type: domain.NodeTypeTransform, Config: map[string]any{"transformations": []any{}}})
	wf.Edges = append(wf.Edges,
		domain.Edge{ID: "e3", Source: "shape", Target: "loop"},
		domain.Edge{ID: "e4", Source: "loop", Target: "shape"},
	)
	return wf
}

// --- workflows ---

func TestWorkflows_CRUD(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/workflows", renameWorkflow("rename"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/rename", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[domain.Workflow](t, rec)
	assert.Equal(t, "Rename", got.Name)
	assert.Len(t, got.Nodes, 3)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Equal(t, 1, list.Total)

	updated := renameWorkflow("ignored")
	updated.Name = "Renamed"
	rec = env.do(t, http.MethodPut, "/api/v1/workflows/rename", updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Renamed", env.workflows.items["rename"].Name)
	assert.NotContains(t, env.workflows.items, "ignored")

	rec = env.do(t, http.MethodDelete, "/api/v1/workflows/rename", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/rename", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decode(t, rec).Error.Code)
}

func TestCreateWorkflow_AssignsID(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/workflows", renameWorkflow(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decodeData[domain.Workflow](t, rec)
	_, err := uuid.Parse(got.ID)
	assert.NoError(t, err)
}

func TestCreateWorkflow_Rejected(t *testing.T) {
	badSchedule := renameWorkflow("scheduled")
	badSchedule.Schedule = "every now and then"

	badConfig := renameWorkflow("bad-config")
	badConfig.Nodes[1] = domain.Node{ID: "shape", Type: domain.NodeTypeAPI}

	tests := []struct {
		name   string
		body   any
		status int
		code   ErrorCode
		nodeID string
	}{
		{"malformed body", `{"nodes": [`, http.StatusBadRequest, ErrCodeBadRequest, ""},
		{"cycle", cyclicWorkflow(), http.StatusUnprocessableEntity, ErrCodeValidationFailed, ""},
		{"node config", badConfig, http.StatusUnprocessableEntity, ErrCodeValidationFailed, "shape"},
		{"schedule", badSchedule, http.StatusUnprocessableEntity, ErrCodeValidationFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)

			rec := env.do(t, http.MethodPost, "/api/v1/workflows", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			detail := decode(t, rec).Error
			assert.Equal(t, tt.code, detail.Code)
			if tt.nodeID != "" {
				assert.Equal(t, tt.nodeID, detail.NodeID)
			}
			assert.Empty(t, env.workflows.items)
		})
	}
}

func TestCreateWorkflow_Duplicate(t *testing.T) {
	env := newTestEnv(t, false)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/workflows", renameWorkflow("dup")).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/workflows", renameWorkflow("dup"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ErrCodeConflict, decode(t, rec).Error.Code)
}

func TestValidateWorkflow(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/validate", renameWorkflow("v"))
	require.Equal(t, http.StatusOK, rec.Code)
	ok := decodeData[ValidationResponse](t, rec)
	assert.True(t, ok.Valid)
	assert.Equal(t, []string{"start", "shape", "end"}, ok.Order)
	assert.Equal(t, "start", ok.Start)
	assert.Equal(t, []string{"end"}, ok.Ends)

	rec = env.do(t, http.MethodPost, "/api/v1/workflows/validate", cyclicWorkflow())
	require.Equal(t, http.StatusOK, rec.Code)
	bad := decodeData[ValidationResponse](t, rec)
	assert.False(t, bad.Valid)
	require.NotNil(t, bad.Error)
	assert.Contains(t, bad.Error.Message, "cycle")
}

func TestValidateWorkflow_NodeConfig(t *testing.T) {
	env := newTestEnv(t, false)

	wf := renameWorkflow("median")
	wf.Nodes[1] = domain.Node{ID: "shape", Type: domain.NodeTypeAggregate, Config: map[string]any{"operation": "median"}}

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/validate", wf)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeData[ValidationResponse](t, rec)
	assert.False(t, res.Valid)
	require.NotNil(t, res.Error)
	assert.Equal(t, "shape", res.Error.NodeID)
	assert.Contains(t, res.Error.Message, "unsupported aggregation")

	// при выполнении это ошибка узла, а не всего workflow
	rec = env.do(t, http.MethodPost, "/api/v1/execute", ExecuteRequest{Workflow: wf})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeData[domain.ExecutionReport](t, rec)
	assert.Equal(t, domain.ReportFailure, report.OverallStatus)
	assert.Equal(t, domain.NodeStatusFailed, report.Statuses["shape"])
	assert.Equal(t, domain.NodeStatusSkipped, report.Statuses["end"])
}

// --- execution ---

func TestExecute_AdHoc(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/execute", ExecuteRequest{
		Workflow: renameWorkflow("adhoc"),
		Inputs:   map[string]any{"name": "London"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeData[domain.ExecutionReport](t, rec)
	assert.Equal(t, domain.ReportSuccess, report.OverallStatus)
	assert.Equal(t, map[string]any{"title": "London"}, report.Output)
	assert.Empty(t, env.runs.items)
}

func TestExecute_Invalid(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/execute", ExecuteRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/execute", ExecuteRequest{Workflow: cyclicWorkflow()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateRun_Sync(t *testing.T) {
	env := newTestEnv(t, false)
	require.NoError(t, env.workflows.Create(context.Background(), renameWorkflow("rename")))

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/rename/runs", CreateRunRequest{Inputs: map[string]any{"name": "Paris"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	run := decodeData[RunResponse](t, rec)
	assert.Equal(t, string(domain.RunStatusSucceeded), run.Status)
	assert.Equal(t, TriggerAPI, run.Trigger)
	require.NotNil(t, run.Report)
	assert.Equal(t, run.ID.String(), run.Report.RunID)
	assert.Equal(t, map[string]any{"title": "Paris"}, run.Report.Output)

	stored := env.runs.items[run.ID]
	assert.Equal(t, domain.RunStatusSucceeded, stored.Status)
	assert.NotNil(t, stored.FinishedAt)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decodeData[RunResponse](t, rec).Report)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/rename/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeData[[]RunResponse](t, rec)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Report)
}

func TestCreateRun_Async(t *testing.T) {
	env := newTestEnv(t, true)
	require.NoError(t, env.workflows.Create(context.Background(), renameWorkflow("rename")))

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/rename/runs?async=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	run := decodeData[RunResponse](t, rec)
	assert.Equal(t, string(domain.RunStatusPending), run.Status)
	assert.Equal(t, []uuid.UUID{run.ID}, env.queue.published)
	assert.Equal(t, domain.RunStatusPending, env.runs.items[run.ID].Status)
}

func TestCreateRun_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	require.NoError(t, env.workflows.Create(context.Background(), renameWorkflow("rename")))

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/missing/runs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/workflows/rename/runs?async=true", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/workflows/rename/runs?async=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/rename/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRun(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	pending := domain.NewRun("rename", nil, TriggerAPI)
	require.NoError(t, env.runs.Create(ctx, pending))

	rec := env.do(t, http.MethodPost, "/api/v1/runs/"+pending.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.RunStatusCancelled, env.runs.items[pending.ID].Status)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+pending.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	elsewhere := domain.NewRun("rename", nil, TriggerAPI)
	elsewhere.MarkRunning()
	require.NoError(t, env.runs.Create(ctx, elsewhere))

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+elsewhere.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- export / import ---

func TestExportImport(t *testing.T) {
	env := newTestEnv(t, false)
	require.NoError(t, env.workflows.Create(context.Background(), renameWorkflow("rename")))

	rec := env.do(t, http.MethodGet, "/api/v1/workflows/rename/export", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "rename.json")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "rename", doc["categoryId"])
	assert.Contains(t, doc, "categoryValues")

	// тот же ID уже занят
	rec = env.do(t, http.MethodPost, "/api/v1/import", doc)
	assert.Equal(t, http.StatusConflict, rec.Code)

	doc["categoryId"] = "rename-copy"
	rec = env.do(t, http.MethodPost, "/api/v1/import", doc)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	imported := env.workflows.items["rename-copy"]
	require.NotNil(t, imported.FindNode("shape"))
	assert.Equal(t, domain.NodeTypeTransform, imported.FindNode("shape").Type)
}

func TestImport_InvalidDocument(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/import", `{"categoryId":"x","categoryValues":{"transformations":[{"nodeId":"a","type":"transform","dependsOn":["b"]},{"nodeId":"b","type":"transform","dependsOn":["a"]}]}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ErrCodeValidationFailed, decode(t, rec).Error.Code)
}

// --- misc ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsMiddleware(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(t, http.MethodGet, "/api/v1/workflows", nil)
	env.do(t, http.MethodGet, "/api/v1/workflows/missing", nil)

	count, err := testutil.GatherAndCount(env.registry, "apiflow_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count) // GET/200 и GET/404
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
}

// --- stream ---

func dialStream(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStream(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStream_Run(t *testing.T) {
	env := newTestEnv(t, false)
	conn := dialStream(t, env)

	require.NoError(t, conn.WriteJSON(StreamRequest{
		Type:     StreamTypeRun,
		Workflow: renameWorkflow("stream"),
		Inputs:   map[string]any{"name": "Oslo"},
	}))

	var events []domain.StatusEvent
	var finished StreamMessage
	for finished.Type == "" {
		msg := readStream(t, conn)
		switch msg.Type {
		case StreamTypeNodeStatus:
			require.NotNil(t, msg.Event)
			events = append(events, *msg.Event)
		case StreamTypeRunFinished:
			finished = msg
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}

	// start, shape, end: running + completed
	require.Len(t, events, 6)
	for _, e := range events {
		assert.Equal(t, finished.RunID, e.RunID)
	}
	assert.Equal(t, domain.NodeStatusCompleted, events[5].To)
	assert.Equal(t, "end", events[5].NodeID)

	require.NotNil(t, finished.Report)
	assert.Equal(t, domain.ReportSuccess, finished.Report.OverallStatus)
	assert.Equal(t, map[string]any{"title": "Oslo"}, finished.Report.Output)
}

func TestStream_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	conn := dialStream(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readStream(t, conn)
	assert.Equal(t, StreamTypeError, msg.Type)
	assert.Equal(t, ErrCodeBadRequest, msg.Error.Code)

	require.NoError(t, conn.WriteJSON(StreamRequest{Type: StreamTypeRun, Workflow: cyclicWorkflow()}))
	msg = readStream(t, conn)
	assert.Equal(t, StreamTypeError, msg.Type)
	assert.Equal(t, ErrCodeValidationFailed, msg.Error.Code)

	require.NoError(t, conn.WriteJSON(StreamRequest{Type: "dance"}))
	msg = readStream(t, conn)
	assert.Equal(t, StreamTypeError, msg.Type)
	assert.Contains(t, msg.Error.Message, "dance")
}

func TestStream_WatchFinishedRun(t *testing.T) {
	env := newTestEnv(t, false)

	run := domain.NewRun("rename", nil, TriggerAPI)
	run.Complete(&domain.ExecutionReport{RunID: run.ID.String(), OverallStatus: domain.ReportSuccess})
	require.NoError(t, env.runs.Create(context.Background(), run))

	conn := dialStream(t, env)
	require.NoError(t, conn.WriteJSON(StreamRequest{Type: StreamTypeWatch, RunID: run.ID.String()}))

	msg := readStream(t, conn)
	assert.Equal(t, StreamTypeRunFinished, msg.Type)
	require.NotNil(t, msg.Report)
	assert.Equal(t, domain.ReportSuccess, msg.Report.OverallStatus)

	require.NoError(t, conn.WriteJSON(StreamRequest{Type: StreamTypeWatch, RunID: uuid.NewString()}))
	msg = readStream(t, conn)
	assert.Equal(t, StreamTypeError, msg.Type)
	assert.Equal(t, ErrCodeNotFound, msg.Error.Code)
}

func TestStream_WatchLiveRun(t *testing.T) {
	env := newTestEnv(t, false)

	run := domain.NewRun("rename", nil, TriggerAPI)
	run.MarkRunning()
	require.NoError(t, env.runs.Create(context.Background(), run))
	runID := run.ID.String()

	conn := dialStream(t, env)
	require.NoError(t, conn.WriteJSON(StreamRequest{Type: StreamTypeWatch, RunID: runID}))

	hub := env.handler.Hub()
	require.Eventually(t, func() bool { return hub.Subscribers(runID) == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	hub.NodeStatusChanged(ctx, domain.StatusEvent{RunID: runID, NodeID: "fetch", To: domain.NodeStatusRunning})
	hub.NodeStatusChanged(ctx, domain.StatusEvent{RunID: "other", NodeID: "x", To: domain.NodeStatusRunning})
	hub.RunFinished(ctx, &domain.ExecutionReport{RunID: runID, OverallStatus: domain.ReportFailure})

	msg := readStream(t, conn)
	assert.Equal(t, StreamTypeNodeStatus, msg.Type)
	assert.Equal(t, "fetch", msg.Event.NodeID)

	msg = readStream(t, conn)
	assert.Equal(t, StreamTypeRunFinished, msg.Type)
	assert.Equal(t, domain.ReportFailure, msg.Report.OverallStatus)

	require.Eventually(t, func() bool { return hub.Subscribers(runID) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()

	events, unsubscribe := hub.Subscribe("r1")
	assert.Equal(t, 1, hub.Subscribers("r1"))

	hub.RunFinished(context.Background(), &domain.ExecutionReport{RunID: "r1"})
	msg := <-events
	assert.Equal(t, StreamTypeRunFinished, msg.Type)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.Subscribers("r1"))

	_, open := <-events
	assert.False(t, open)

	// после отписки события никуда не уходят и не паникуют
	hub.NodeStatusChanged(context.Background(), domain.StatusEvent{RunID: "r1"})
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	req.Header.Set("Origin", "http://evil.test")

	assert.True(t, checkOrigin(nil)(req))
	assert.True(t, checkOrigin([]string{"*"})(req))
	assert.False(t, checkOrigin([]string{"http://localhost:3000"})(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, checkOrigin([]string{"http://localhost:3000"})(req))
}
