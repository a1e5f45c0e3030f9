package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns   Exchange = "apiflow.runs"
	ExchangeEvents Exchange = "apiflow.events"
	ExchangeDLQ    Exchange = "apiflow.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsRequested Queue = "runs.requested"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyRequested  RoutingKey = "requested"
	RoutingKeyNodeStatus RoutingKey = "node.status"
	RoutingKeyRunDone    RoutingKey = "run.finished"
	RoutingKeyDLQRuns    RoutingKey = "runs"

	// RoutingKeyAllEvents — все события (для topic-подписки).
	RoutingKeyAllEvents RoutingKey = "#"
)

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// runs.requested — run, который не удалось выполнить дважды, уходит в DLQ
		{QueueRunsRequested, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		}},

		// dlq.runs — сама DLQ очередь
		{QueueDLQRuns, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsRequested, RoutingKeyRequested, ExchangeRuns},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// DeclareEventQueue создаёт временную (exclusive, auto-delete) очередь,
// подписанную на события apiflow.events по шаблону ключа.
// Очередь живёт, пока открыт канал подписчика.
func DeclareEventQueue(ctx context.Context, conn *Connection, pattern RoutingKey) (Queue, error) {
	var name Queue
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclare(
			"",    // server-named
			false, // durable
			true,  // delete when unused
			true,  // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare event queue: %w", err)
		}

		if err := ch.QueueBind(q.Name, string(pattern), string(ExchangeEvents), false, nil); err != nil {
			return fmt.Errorf("bind event queue %s: %w", q.Name, err)
		}

		name = Queue(q.Name)
		return nil
	})
	return name, err
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  apiflow RabbitMQ Topology:

    apiflow.runs (direct)
    └── runs.requested [routing: requested]
            Consumer: Worker
            DLQ: dlq.runs

    apiflow.events (topic)
    ├── node.status   — переходы статусов узлов
    └── run.finished  — итоговый отчёт run
            Consumer: API (временные очереди для websocket)

    apiflow.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
