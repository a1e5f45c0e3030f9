package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/transform"
)

// Step — исполнитель одного типа узла.
//
// Каждый тип узла (start, end, api, graphql, transform, filter,
// aggregate, condition) реализует этот интерфейс.
type Step interface {
	// Type возвращает тип узла, который выполняет шаг.
	Type() string

	// Execute выполняет узел и возвращает его выход.
	// Шаг должен проверять ctx.Done() на блокирующих операциях.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// ConfigValidator реализуют шаги, которые умеют проверять конфигурацию
// до запуска run.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) error
}

// Output — результат одного предшественника узла.
type Output struct {
	// NodeID — узел-предшественник.
	NodeID string

	// EdgeID — ребро, по которому пришёл результат.
	EdgeID string

	// Data — выход предшественника.
	Data any
}

// Request — входные данные для выполнения узла.
type Request struct {
	// RunID / WorkflowID — для логов и событий.
	RunID      string
	WorkflowID string

	// Node — узел из снимка workflow (конфигурация ещё не отрендерена).
	Node domain.Node

	// Input — объединённый вход: shallow merge выходов предшественников.
	Input any

	// Predecessors — выходы предшественников по возрастанию ID ребра.
	// Нужны aggregate, которому недостаточно объединённого входа.
	Predecessors []Output

	// Variables — переменные окружения workflow для {{VAR}}.
	Variables VariableResolver

	// MockEnabled — api/graphql возвращают MockResponse без сетевого вызова.
	MockEnabled  bool
	MockResponse any
}

// Config возвращает конфигурацию узла (никогда не nil).
func (r *Request) Config() map[string]any {
	if r.Node.Config == nil {
		return map[string]any{}
	}
	return r.Node.Config
}

// Resolve находит значение плейсхолдера: сначала путь во входе узла,
// затем переменные окружения.
func (r *Request) Resolve(name string) (any, bool) {
	if v, ok := transform.Get(r.Input, name); ok {
		return v, true
	}
	if r.Variables != nil {
		if s, ok := r.Variables.Resolve(name); ok {
			return s, true
		}
	}
	return nil, false
}

// Response — результат выполнения узла.
type Response struct {
	// Data — выход узла.
	Data any

	// Filtered — filter отсёк данные; Data при этом пустой объект.
	Filtered bool
}

// NewResponse создаёт Response с данными.
func NewResponse(data any) *Response {
	return &Response{Data: data}
}

// FilteredResponse — успешный результат filter с ложным условием.
func FilteredResponse() *Response {
	return &Response{Data: map[string]any{}, Filtered: true}
}

// DecodeConfig раскладывает конфигурацию узла в типизированную структуру.
func DecodeConfig(config map[string]any, out any) error {
	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigMap извлекает map из конфига.
func GetConfigMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// asObject возвращает вход как объект; nil превращается в {}.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, true
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
}
