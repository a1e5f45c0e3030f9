// Package worker выполняет асинхронные runs.
//
// # Обзор
//
// Worker — stateless компонент системы, который выполняет runs,
// поставленные в очередь API (?async=true) или Scheduler'ом:
//
//   - Получение run.requested из очереди RabbitMQ (event-driven)
//   - Периодическая проверка PENDING runs в БД (polling fallback)
//   - Выполнение workflow через orchestrator.Orchestrator
//   - Сохранение отчёта в runs
//
// События узлов и итог публикует mq.EventPublisher, подключённый к
// orchestrator'у как Observer (см. cmd/apiflow-worker).
//
//	w := worker.New(worker.Config{
//	    Workflows:    workflowRepo,
//	    Runs:         runRepo,
//	    Orchestrator: orch,
//	    Conn:         mqConn, // опционально
//	    Logger:       logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Обработка run
//
//  1. Получение run ID (из очереди или polling)
//  2. Claim: атомарный перевод PENDING → RUNNING; чужой или отменённый run пропускается
//  3. Загрузка и валидация workflow; ошибка → FAILED
//  4. Execute; отчёт → SUCCEEDED / FAILED / CANCELLED
//  5. Update run
//
// # Retry
//
// Повторы HTTP-вызовов делают сами api/graphql узлы (config.retries).
// Сообщение, обработка которого упала с инфраструктурной ошибкой,
// возвращается в очередь один раз, затем уходит в dlq.runs.
package worker
