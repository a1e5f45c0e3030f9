package steps

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/apiflow/internal/engine"
)

// StepTypeAPI — тип узла REST-вызова.
const StepTypeAPI = "api"

// APIConfig — конфигурация api-узла.
//
//	{
//	    "method": "GET",
//	    "endpoint": "{{BASE_URL}}/current.json",
//	    "headers": {"Accept": "application/json"},
//	    "queryParams": {"q": "{{city}}", "days": 3},
//	    "authentication": {"type": "apiKey", "key": "key", "value": "{{WEATHER_KEY}}", "in": "query"},
//	    "body": {"city": "{{city}}"},
//	    "timeout": 5000,
//	    "retries": 2
//	}
//
// timeout — в миллисекундах.
type APIConfig struct {
	Method         string            `json:"method,omitempty"`
	Endpoint       string            `json:"endpoint"`
	Headers        map[string]string `json:"headers,omitempty"`
	QueryParams    map[string]any    `json:"queryParams,omitempty"`
	Authentication *AuthConfig       `json:"authentication,omitempty"`
	Body           any               `json:"body,omitempty"`
	Timeout        int               `json:"timeout,omitempty"`
	Retries        int               `json:"retries,omitempty"`
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// ParseAPIConfig раскладывает и проверяет конфигурацию api-узла.
func ParseAPIConfig(config map[string]any) (*APIConfig, error) {
	var cfg APIConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s: endpoint is required", ErrInvalidConfig, StepTypeAPI)
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if !allowedMethods[cfg.Method] {
		return nil, fmt.Errorf("%w: %s: unsupported method %q", ErrInvalidConfig, StepTypeAPI, cfg.Method)
	}
	if cfg.Timeout < 0 || cfg.Retries < 0 {
		return nil, fmt.Errorf("%w: %s: timeout and retries must not be negative", ErrInvalidConfig, StepTypeAPI)
	}
	if err := cfg.Authentication.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// APIStep — вызов REST API через Transport.
//
// Плейсхолдеры {{var}} в endpoint, headers, queryParams, authentication и
// body подставляются из входа узла, затем из окружения workflow.
// Выход узла — разобранное тело ответа.
type APIStep struct {
	transport      Transport
	defaultTimeout time.Duration
}

// NewAPIStep создаёт APIStep.
func NewAPIStep(transport Transport, defaultTimeout time.Duration) *APIStep {
	return &APIStep{transport: transport, defaultTimeout: defaultTimeout}
}

// Type возвращает тип шага.
func (s *APIStep) Type() string {
	return StepTypeAPI
}

// ValidateConfig реализует ConfigValidator.
func (s *APIStep) ValidateConfig(config map[string]any) error {
	_, err := ParseAPIConfig(config)
	return err
}

// Execute выполняет вызов.
func (s *APIStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, err := ParseAPIConfig(req.Config())
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

	return NewResponse(decodeBody(resp)), nil
}

// buildRequest рендерит конфигурацию в описание запроса.
func (s *APIStep) buildRequest(req *Request, cfg *APIConfig) (*HTTPRequest, error) {
	endpoint, err := engine.RenderString(cfg.Endpoint, req.Resolve)
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}

	headers, err := renderHeaders(req, cfg.Headers)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	keys := make([]string, 0, len(cfg.QueryParams))
	for key := range cfg.QueryParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rendered, err := engine.RenderValue(cfg.QueryParams[key], req.Resolve)
		if err != nil {
			return nil, fmt.Errorf("query param %s: %w", key, err)
		}
		query.Set(key, queryValue(rendered))
	}

	if err := cfg.Authentication.apply(req, headers, query); err != nil {
		return nil, fmt.Errorf("authentication: %w", err)
	}

	fullURL, err := buildURL(endpoint, query)
	if err != nil {
		return nil, err
	}

	var body []byte
	if cfg.Body != nil && cfg.Method != http.MethodGet && cfg.Method != http.MethodHead {
		rendered, err := engine.RenderValue(cfg.Body, req.Resolve)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		body, err = encodeBody(rendered)
		if err != nil {
			return nil, fmt.Errorf("%w: body: %v", ErrInvalidConfig, err)
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	return &HTTPRequest{
		Method:  cfg.Method,
		URL:     fullURL,
		Headers: headers,
		Body:    body,
	}, nil
}

func queryValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
