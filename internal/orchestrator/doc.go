// Package orchestrator выполняет провалидированный workflow.
//
// Orchestrator отвечает за:
//   - Обход узлов в топологическом порядке (или по уровням параллельно)
//   - Сборку входа узла из выходов предшественников
//   - Переходы статусов узлов idle → running → completed/failed/skipped
//   - Пропуск потомков упавших узлов ("upstream failure")
//   - Отмену run через context ("run cancelled")
//   - Сборку ExecutionReport
//
// Каждый вызов Execute создаёт свой RunState: run не разделяют состояние.
// О переходах статусов узнают Observer'ы (метрики, RabbitMQ, websocket).
package orchestrator
