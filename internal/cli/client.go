package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/apiflow/internal/domain"
)

// --- Response types (повторяют api/dto.go, CLI не импортирует internal/api) ---

// WorkflowSummary — элемент списка workflows.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Nodes       int    `json:"nodes"`
	Edges       int    `json:"edges"`
	Schedule    string `json:"schedule,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID         string                  `json:"id"`
	WorkflowID string                  `json:"workflow_id"`
	Status     string                  `json:"status"`
	Trigger    string                  `json:"trigger,omitempty"`
	Inputs     any                     `json:"inputs,omitempty"`
	StartedAt  string                  `json:"started_at,omitempty"`
	FinishedAt string                  `json:"finished_at,omitempty"`
	DurationMs int64                   `json:"duration_ms,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Report     *domain.ExecutionReport `json:"report,omitempty"`
	CreatedAt  string                  `json:"created_at"`
}

// ValidationResponse — результат удалённой валидации.
type ValidationResponse struct {
	Valid  bool       `json:"valid"`
	Order  []string   `json:"order,omitempty"`
	Levels [][]string `json:"levels,omitempty"`
	Error  *APIError  `json:"error,omitempty"`
}

// --- Request types ---

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Inputs any `json:"inputs,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

// APIError — ошибка из конверта {"error": {...}}.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.NodeID != "" {
		msg += " (node " + e.NodeID + ")"
	}
	if e.EdgeID != "" {
		msg += " (edge " + e.EdgeID + ")"
	}
	return msg
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для apiflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// --- Workflows ---

// ListWorkflows возвращает все workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	var workflows []WorkflowSummary
	err := c.list(ctx, "/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// GetWorkflow возвращает workflow по ID.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.get(ctx, "/api/v1/workflows/"+url.PathEscape(id), &wf)
	return &wf, err
}

// CreateWorkflow сохраняет новый workflow.
func (c *Client) CreateWorkflow(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, error) {
	var created domain.Workflow
	err := c.send(ctx, http.MethodPost, "/api/v1/workflows", wf, &created)
	return &created, err
}

// UpdateWorkflow заменяет сохранённый workflow.
func (c *Client) UpdateWorkflow(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, error) {
	var updated domain.Workflow
	err := c.send(ctx, http.MethodPut, "/api/v1/workflows/"+url.PathEscape(wf.ID), wf, &updated)
	return &updated, err
}

// DeleteWorkflow удаляет workflow.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/api/v1/workflows/"+url.PathEscape(id), nil, nil)
}

// ValidateWorkflow проверяет workflow на сервере без сохранения.
func (c *Client) ValidateWorkflow(ctx context.Context, wf *domain.Workflow) (*ValidationResponse, error) {
	var result ValidationResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/workflows/validate", wf, &result)
	return &result, err
}

// ExportWorkflow возвращает опубликованную конфигурацию workflow как есть.
func (c *Client) ExportWorkflow(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id)+"/export", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// ImportWorkflow сохраняет workflow из опубликованной конфигурации.
func (c *Client) ImportWorkflow(ctx context.Context, document []byte) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.send(ctx, http.MethodPost, "/api/v1/import", json.RawMessage(document), &wf)
	return &wf, err
}

// --- Runs ---

// CreateRun запускает сохранённый workflow. async=true ставит run в очередь.
func (c *Client) CreateRun(ctx context.Context, workflowID string, req CreateRunRequest, async bool) (*RunResponse, error) {
	path := "/api/v1/workflows/" + url.PathEscape(workflowID) + "/runs"
	if async {
		path += "?async=true"
	}
	var run RunResponse
	err := c.send(ctx, http.MethodPost, path, req, &run)
	return &run, err
}

// ListRuns возвращает runs workflow.
func (c *Client) ListRuns(ctx context.Context, workflowID string, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list(ctx, "/api/v1/workflows/"+url.PathEscape(workflowID)+"/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID вместе с отчётом.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(id)+"/cancel", nil, &run)
	return &run, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.send(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) send(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
	}

	er.Error.Status = resp.StatusCode
	return &er.Error
}
