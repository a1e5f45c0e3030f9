package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки сообщения.
// Возвращает error, если обработка не удалась (сообщение будет nack).
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Redelivered — сообщение уже доставлялось и не было подтверждено.
	Redelivered bool
}

// Settlement — чем закончилась обработка сообщения.
type Settlement int

const (
	// SettleAck — подтвердить.
	SettleAck Settlement = iota
	// SettleRequeue — вернуть в очередь для одной повторной попытки.
	SettleRequeue
	// SettleReject — отклонить без возврата (уходит в DLX очереди, если он есть).
	SettleReject
)

// Settle решает судьбу сообщения по результату обработчика: первая
// ошибка возвращает сообщение в очередь, повторная отклоняет его.
func Settle(err error, redelivered bool) Settlement {
	switch {
	case err == nil:
		return SettleAck
	case redelivered:
		return SettleReject
	default:
		return SettleRequeue
	}
}

// Consumer потребляет сообщения из очереди RabbitMQ на собственном канале.
//
// При разрыве соединения Consumer ждёт переподключения и подписывается
// заново; с Declare очередь перед этим объявляется снова.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	declare  func(ctx context.Context) (Queue, error)
	handler  Handler
	prefetch int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Declare — объявляет очередь перед каждым (пере)подключением и
	// возвращает её имя. Нужен для временных очередей, которые исчезают
	// вместе с соединением. Если задан, Queue игнорируется.
	Declare func(ctx context.Context) (Queue, error)

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держать (default: 1).
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		declare:  cfg.Declare,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start потребляет сообщения до Stop, отмены ctx или закрытия соединения.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for {
		// Запоминаем поколение соединения до подписки, чтобы не
		// пропустить переподключение, случившееся в процессе
		reconnected := c.conn.ReconnectNotify()

		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		c.logger.Warn("consumer interrupted, waiting for reconnect", "queue", c.queue, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Done():
			return ErrClosed
		case <-reconnected:
			c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
		}
	}
}

// session — одна подписка на очередь на отдельном канале.
func (c *Consumer) session(ctx context.Context) error {
	if c.declare != nil {
		queue, err := c.declare(ctx)
		if err != nil {
			return err
		}
		c.queue = string(queue)
	}

	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (мы ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.Info("consumer started", "queue", c.queue, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, raw)
		}
	}
}

// handle обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	logger := c.logger.With("queue", c.queue, "message_id", raw.MessageId)

	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		logger.Error("failed to unmarshal message", "error", err, "body", string(raw.Body))
		// Некорректное сообщение повтор не исправит
		c.settle(logger, raw, SettleReject)
		return
	}

	logger.Debug("received message", "type", msg.Type, "redelivered", raw.Redelivered)

	err := c.handler(ctx, &Delivery{Message: msg, Redelivered: raw.Redelivered})
	if err != nil {
		logger.Error("handler failed",
			"type", msg.Type,
			"redelivered", raw.Redelivered,
			"error", err,
		)
	}
	c.settle(logger, raw, Settle(err, raw.Redelivered))
}

func (c *Consumer) settle(logger *slog.Logger, raw amqp.Delivery, s Settlement) {
	var err error
	switch s {
	case SettleAck:
		err = raw.Ack(false)
	case SettleRequeue:
		err = raw.Nack(false, true)
	case SettleReject:
		err = raw.Nack(false, false)
	}
	if err != nil {
		logger.Warn("failed to settle message", "settlement", s, "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload может быть уже распарсен как map или быть raw json
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
