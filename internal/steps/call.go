package steps

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/engine"
)

// AuthConfig — аутентификация внешнего вызова.
//
//	{"type": "bearer", "token": "{{API_TOKEN}}"}
//	{"type": "basic", "username": "u", "password": "{{PASS}}"}
//	{"type": "apiKey", "key": "X-API-Key", "value": "{{KEY}}", "in": "header"}
type AuthConfig struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	In       string `json:"in,omitempty"`
}

// Типы аутентификации.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "apiKey"

	defaultAPIKeyHeader = "X-API-Key"
)

func (a *AuthConfig) validate() error {
	if a == nil {
		return nil
	}
	switch a.Type {
	case "", AuthNone, AuthBearer, AuthBasic, AuthAPIKey:
		return nil
	default:
		return fmt.Errorf("%w: unknown authentication type %q", ErrInvalidConfig, a.Type)
	}
}

// apply рендерит поля и добавляет аутентификацию в заголовки или query.
func (a *AuthConfig) apply(req *Request, headers map[string]string, query url.Values) error {
	if a == nil {
		return nil
	}

	render := func(s string) (string, error) {
		return engine.RenderString(s, req.Resolve)
	}

	switch a.Type {
	case AuthBearer:
		token, err := render(a.Token)
		if err != nil {
			return err
		}
		headers["Authorization"] = "Bearer " + token

	case AuthBasic:
		user, err := render(a.Username)
		if err != nil {
			return err
		}
		pass, err := render(a.Password)
		if err != nil {
			return err
		}
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))

	case AuthAPIKey:
		value, err := render(a.Value)
		if err != nil {
			return err
		}
		key := a.Key
		if key == "" {
			key = defaultAPIKeyHeader
		}
		if a.In == "query" {
			query.Set(key, value)
		} else {
			headers[key] = value
		}
	}
	return nil
}

// callPolicy — timeout и retries одного внешнего вызова.
type callPolicy struct {
	Timeout time.Duration
	Retries int
}

func newCallPolicy(timeoutMs, retries int, fallback time.Duration) callPolicy {
	p := callPolicy{Timeout: fallback, Retries: retries}
	if timeoutMs > 0 {
		p.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultRequestTimeout
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	return p
}

// send выполняет вызов с политикой: 1 + Retries попыток, повтор сразу и
// только при ошибке транспорта (включая timeout). Статусы 4xx/5xx и
// слишком большой ответ не ретраятся. Отмена ctx прекращает попытки.
func send(ctx context.Context, t Transport, httpReq *HTTPRequest, p callPolicy) (*HTTPResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= p.Retries; attempt++ {
		resp, err := sendOnce(ctx, t, httpReq, p.Timeout)
		if err == nil {
			if resp.StatusCode >= 400 {
				return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
			}
			return resp, nil
		}
		if errors.Is(err, ErrStepCancelled) || errors.Is(err, ErrResponseTooLarge) {
			return nil, err
		}
		lastErr = err
	}

	if p.Retries > 0 {
		return nil, fmt.Errorf("after %d attempts: %w", p.Retries+1, lastErr)
	}
	return nil, lastErr
}

type sendResult struct {
	resp *HTTPResponse
	err  error
}

// sendOnce выполняет одну попытку. Результат брошенного по timeout или
// отмене вызова отбрасывается: горутина пишет в буферизованный канал.
func sendOnce(ctx context.Context, t Transport, httpReq *HTTPRequest, timeout time.Duration) (*HTTPResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		resp, err := t.Send(callCtx, httpReq)
		done <- sendResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
			}
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(r.err, ErrRequestTimeout) {
				return nil, fmt.Errorf("%w: exceeded %s: %v", ErrRequestTimeout, timeout, r.err)
			}
			if !errors.Is(r.err, ErrTransport) && !errors.Is(r.err, ErrRequestTimeout) {
				return nil, fmt.Errorf("%w: %v", ErrTransport, r.err)
			}
			return nil, r.err
		}
		if r.resp == nil {
			return nil, fmt.Errorf("%w: empty response", ErrTransport)
		}
		return r.resp, nil

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: exceeded %s", ErrRequestTimeout, timeout)
	}
}

// buildURL добавляет query-параметры к endpoint.
func buildURL(endpoint string, query url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: endpoint must be an absolute URL: %q", ErrInvalidConfig, endpoint)
	}
	if len(query) > 0 {
		q := u.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// encodeBody сериализует тело запроса.
func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// decodeBody разбирает ответ: JSON, если похоже на JSON, иначе строка.
func decodeBody(resp *HTTPResponse) any {
	trimmed := strings.TrimSpace(string(resp.Body))
	if trimmed == "" {
		return map[string]any{}
	}

	contentType := strings.ToLower(resp.Headers["Content-Type"])
	if strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal(resp.Body, &parsed); err == nil {
			return parsed
		}
	}
	return string(resp.Body)
}

// renderHeaders рендерит заголовки узла.
func renderHeaders(req *Request, headers map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(headers)+2)
	for key, value := range headers {
		rendered, err := engine.RenderString(value, req.Resolve)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
		out[key] = rendered
	}
	return out, nil
}

// mockResponse возвращает копию mock-ответа workflow.
func mockResponse(req *Request) *Response {
	if req.MockResponse == nil {
		return NewResponse(map[string]any{})
	}
	return NewResponse(domain.CloneValue(req.MockResponse))
}
