package steps

import (
	"errors"
	"fmt"

	"github.com/shaiso/apiflow/internal/engine"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип узла не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация узла.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepCancelled — выполнение узла отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrInputNotObject — узлу нужен объект на входе.
	ErrInputNotObject = errors.New("input is not an object")

	// ErrUnresolvedVariable — плейсхолдер не найден ни во входе, ни в окружении.
	ErrUnresolvedVariable = engine.ErrUnresolvedVariable
)

// Ошибки внешних вызовов.
var (
	// ErrTransport — сетевая ошибка HTTP-коллаборатора.
	ErrTransport = errors.New("transport error")

	// ErrResponseTooLarge — тело ответа больше лимита. Не ретраится.
	ErrResponseTooLarge = errors.New("response too large")

	// ErrRequestTimeout — вызов не уложился в timeout узла.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrHTTPStatus — ответ со статусом >= 400.
	ErrHTTPStatus = errors.New("http error status")

	// ErrGraphQL — GraphQL вернул непустой errors.
	ErrGraphQL = errors.New("graphql error")
)

// HTTPError — ответ внешнего API со статусом >= 400. Не ретраится.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}

// Unwrap позволяет errors.Is(err, ErrHTTPStatus).
func (e *HTTPError) Unwrap() error {
	return ErrHTTPStatus
}
