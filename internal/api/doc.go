// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, orchestrator, очередь, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, metrics, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - workflow_handler.go — /workflows, validate, export, import
//   - run_handler.go      — /execute, /runs
//   - stream_handler.go   — websocket /stream
//   - hub.go              — раздача событий runs подписчикам websocket
//
// Хранилища и очередь заданы интерфейсами: в проде это repo.WorkflowRepo,
// repo.RunRepo и mq.Publisher, в тестах — fakes.
package api
