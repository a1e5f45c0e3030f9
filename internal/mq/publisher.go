package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/apiflow/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested MessageType = "run.requested"
	MessageTypeNodeStatus   MessageType = "node.status"
	MessageTypeRunFinished  MessageType = "run.finished"
)

// Publisher публикует сообщения в RabbitMQ.
//
// AMQP-канал не допускает одновременной публикации из нескольких
// горутин, поэтому Publish сериализован.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	mu     sync.Mutex
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RunRequestedPayload — payload сообщения о run, ожидающем выполнения.
type RunRequestedPayload struct {
	RunID      uuid.UUID `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
}

// RunFinishedPayload — payload сообщения о завершённом run.
type RunFinishedPayload struct {
	RunID      string                  `json:"run_id"`
	WorkflowID string                  `json:"workflow_id"`
	Status     domain.ReportStatus     `json:"status"`
	Report     *domain.ExecutionReport `json:"report"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRunRequested публикует run, ожидающий выполнения.
// Потребитель: Worker.
func (p *Publisher) PublishRunRequested(ctx context.Context, runID uuid.UUID, workflowID string) error {
	msg := NewMessage(MessageTypeRunRequested, RunRequestedPayload{RunID: runID, WorkflowID: workflowID})
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRequested, msg)
}

// PublishNodeStatus публикует переход статуса узла.
func (p *Publisher) PublishNodeStatus(ctx context.Context, event domain.StatusEvent) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyNodeStatus, NewMessage(MessageTypeNodeStatus, event))
}

// PublishRunFinished публикует итоговый отчёт run.
func (p *Publisher) PublishRunFinished(ctx context.Context, report *domain.ExecutionReport) error {
	msg := NewMessage(MessageTypeRunFinished, RunFinishedPayload{
		RunID:      report.RunID,
		WorkflowID: report.WorkflowID,
		Status:     report.OverallStatus,
		Report:     report,
	})
	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunDone, msg)
}
