package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/apiflow/internal/engine"
)

// StepTypeGraphQL — тип узла GraphQL-вызова.
const StepTypeGraphQL = "graphql"

// GraphQLConfig — конфигурация graphql-узла.
//
//	{
//	    "endpoint": "{{GRAPHQL_URL}}",
//	    "query": "query($id: ID!) { user(id: $id) { name } }",
//	    "variables": {"id": "{{userId}}"},
//	    "operationName": "GetUser",
//	    "timeout": 5000,
//	    "retries": 1
//	}
type GraphQLConfig struct {
	Endpoint       string            `json:"endpoint"`
	Query          string            `json:"query"`
	Variables      map[string]any    `json:"variables,omitempty"`
	OperationName  string            `json:"operationName,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Authentication *AuthConfig       `json:"authentication,omitempty"`
	Timeout        int               `json:"timeout,omitempty"`
	Retries        int               `json:"retries,omitempty"`
}

// ParseGraphQLConfig раскладывает и проверяет конфигурацию graphql-узла.
func ParseGraphQLConfig(config map[string]any) (*GraphQLConfig, error) {
	var cfg GraphQLConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s: endpoint is required", ErrInvalidConfig, StepTypeGraphQL)
	}
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, fmt.Errorf("%w: %s: query is required", ErrInvalidConfig, StepTypeGraphQL)
	}
	if cfg.Timeout < 0 || cfg.Retries < 0 {
		return nil, fmt.Errorf("%w: %s: timeout and retries must not be negative", ErrInvalidConfig, StepTypeGraphQL)
	}
	if err := cfg.Authentication.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GraphQLStep — вызов GraphQL API. Метод всегда POST, тело
// {query, variables, operationName}. Выход узла — поле data ответа.
type GraphQLStep struct {
	transport      Transport
	defaultTimeout time.Duration
}

// NewGraphQLStep создаёт GraphQLStep.
func NewGraphQLStep(transport Transport, defaultTimeout time.Duration) *GraphQLStep {
	return &GraphQLStep{transport: transport, defaultTimeout: defaultTimeout}
}

// Type возвращает тип шага.
func (s *GraphQLStep) Type() string {
	return StepTypeGraphQL
}

// ValidateConfig реализует ConfigValidator.
func (s *GraphQLStep) ValidateConfig(config map[string]any) error {
	_, err := ParseGraphQLConfig(config)
	return err
}

// Execute выполняет запрос.
func (s *GraphQLStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, err := ParseGraphQLConfig(req.Config())
	if err != nil {
		return nil, err
	}

	if req.MockEnabled {
		return mockResponse(req), nil
	}

	httpReq, err := s.buildRequest(req, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := send(ctx, s.transport, httpReq, newCallPolicy(cfg.Timeout, cfg.Retries, s.defaultTimeout))
	if err != nil {
		return nil, err
	}

	return s.parseResponse(resp)
}

func (s *GraphQLStep) buildRequest(req *Request, cfg *GraphQLConfig) (*HTTPRequest, error) {
	endpoint, err := engine.RenderString(cfg.Endpoint, req.Resolve)
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}

	query, err := engine.RenderString(cfg.Query, req.Resolve)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var variables any = map[string]any{}
	if cfg.Variables != nil {
		variables, err = engine.RenderValue(cfg.Variables, req.Resolve)
		if err != nil {
			return nil, fmt.Errorf("variables: %w", err)
		}
	}

	headers, err := renderHeaders(req, cfg.Headers)
	if err != nil {
		return nil, err
	}
	headers["Content-Type"] = "application/json"

	params := url.Values{}
	if err := cfg.Authentication.apply(req, headers, params); err != nil {
		return nil, fmt.Errorf("authentication: %w", err)
	}

	fullURL, err := buildURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"query":     query,
		"variables": variables,
	}
	if cfg.OperationName != "" {
		payload["operationName"] = cfg.OperationName
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &HTTPRequest{
		Method:  http.MethodPost,
		URL:     fullURL,
		Headers: headers,
		Body:    body,
	}, nil
}

// graphQLError — элемент массива errors ответа GraphQL.
type graphQLError struct {
	Message string `json:"message"`
}

func (s *GraphQLStep) parseResponse(resp *HTTPResponse) (*Response, error) {
	var envelope struct {
		Data   any            `json:"data"`
		Errors []graphQLError `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrGraphQL, err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(messages, "; "))
	}

	if envelope.Data == nil {
		return NewResponse(map[string]any{}), nil
	}
	return NewResponse(envelope.Data), nil
}
