// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//   - events.go     — EventPublisher: orchestrator.Observer поверх Publisher
//
// Типы сообщений:
//   - run.requested — run ожидает выполнения worker'ом
//   - node.status   — переход статуса узла
//   - run.finished  — итоговый отчёт run
//
// Exchanges:
//   - apiflow.runs   — очередь runs (direct)
//   - apiflow.events — события выполнения (topic)
//   - apiflow.dlq    — dead letter queue
package mq
