package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// Значения по умолчанию.
	defaultRequestTimeout = 30 * time.Second
	maxResponseBody       = 10 * 1024 * 1024 // 10 MB
)

// HTTPRequest — описание запроса к внешнему API.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse — ответ внешнего API.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Transport — HTTP-коллаборатор api/graphql узлов.
//
// Transport не ретраит и не ограничивает время сам: политику retries и
// timeout применяет шаг. Отмена ctx должна прерывать вызов.
type Transport interface {
	Send(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPTransport — Transport поверх net/http.
type HTTPTransport struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPTransport создаёт HTTPTransport. client == nil — клиент по умолчанию.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client, maxBody: maxResponseBody}
}

// Send выполняет запрос.
func (t *HTTPTransport) Send(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	// лишний байт отличает ответ ровно по лимиту от обрезанного
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrTransport, err)
	}
	if int64(len(body)) > t.maxBody {
		return nil, fmt.Errorf("%w: %w: more than %d bytes", ErrTransport, ErrResponseTooLarge, t.maxBody)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}
