package steps

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/apiflow/internal/domain"
)

// Registry — реестр исполнителей узлов.
//
// Позволяет регистрировать и получать реализации Step по типу узла.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
	}
}

// Deps — зависимости стандартных шагов.
type Deps struct {
	// Transport — HTTP-коллаборатор api/graphql. nil — HTTPTransport по умолчанию.
	Transport Transport

	// DefaultTimeout — timeout внешнего вызова, если в узле он не задан.
	DefaultTimeout time.Duration
}

// DefaultRegistry создаёт реестр со всеми стандартными шагами.
func DefaultRegistry(deps Deps) *Registry {
	transport := deps.Transport
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}
	timeout := deps.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := NewRegistry()
	r.Register(NewStartStep())
	r.Register(NewEndStep())
	r.Register(NewAPIStep(transport, timeout))
	r.Register(NewGraphQLStep(transport, timeout))
	r.Register(NewTransformStep())
	r.Register(NewFilterStep())
	r.Register(NewAggregateStep())
	r.Register(NewConditionStep())

	return r
}

// Register регистрирует шаг в реестре.
// Если шаг с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Type()] = step
}

// Get возвращает шаг по типу.
// Возвращает ErrStepNotFound, если шаг не найден.
func (r *Registry) Get(stepType string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}

	return step, nil
}

// Has проверяет, зарегистрирован ли шаг.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[stepType]
	return exists
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Unregister удаляет шаг из реестра.
func (r *Registry) Unregister(stepType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.steps, stepType)
}

// CheckNode проверяет, что для узла есть исполнитель и его конфигурация
// корректна. Подходит как engine.NodeCheck.
func (r *Registry) CheckNode(node domain.Node) error {
	step, err := r.Get(string(node.Type))
	if err != nil {
		return err
	}
	if v, ok := step.(ConfigValidator); ok {
		config := node.Config
		if config == nil {
			config = map[string]any{}
		}
		return v.ValidateConfig(config)
	}
	return nil
}
