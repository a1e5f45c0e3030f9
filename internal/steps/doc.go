// Package steps содержит исполнители узлов workflow.
//
// # Интерфейс Step
//
// Все исполнители реализуют интерфейс Step:
//
//	type Step interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Request содержит узел (с нерендеренной конфигурацией), объединённый вход,
// выходы предшественников по отдельности и переменные окружения workflow.
// Response содержит выход узла и флаг Filtered.
//
// Шаги, реализующие ConfigValidator, проверяют конфигурацию заранее
// (Registry.CheckNode подходит как engine.NodeCheck, его использует
// Orchestrator.Lint). При выполнении ошибка конфигурации — обычная ошибка узла.
//
// # Registry
//
//	registry := steps.DefaultRegistry(steps.Deps{Transport: transport})
//	step, err := registry.Get("api")
//
// # Типы узлов
//
//   - start, end  — identity (terminal.go)
//   - api         — REST-вызов через Transport (api.go)
//   - graphql     — GraphQL POST через Transport (graphql.go)
//   - transform   — цепочка трансформаций (transform.go)
//   - filter      — условие, ложь даёт {} (filter.go)
//   - aggregate   — свёртка выходов предшественников (aggregate.go)
//   - condition   — if / then.set / else.set (condition.go)
//
// # Внешние вызовы
//
// Transport — граница с сетью. HTTPTransport работает через net/http,
// SimulatedTransport имитирует задержки и отказы и включается только
// явным флагом. Политику timeout/retries применяет шаг (call.go):
// повтор сразу и только при ошибке транспорта, 4xx/5xx не повторяются.
//
// # Обработка ошибок
//
//	var (
//	    ErrInvalidConfig      // неверная конфигурация
//	    ErrUnresolvedVariable // {{var}} не найден
//	    ErrTransport          // сетевая ошибка
//	    ErrResponseTooLarge   // ответ больше лимита (вместе с ErrTransport)
//	    ErrRequestTimeout     // превышен timeout узла
//	    ErrHTTPStatus         // HTTP статус >= 400 (*HTTPError)
//	    ErrGraphQL            // непустой errors в ответе GraphQL
//	)
package steps
