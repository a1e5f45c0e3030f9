package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/apiflow/internal/domain"
)

// EventSink — куда EventPublisher отправляет события.
// *Publisher реализует EventSink.
type EventSink interface {
	PublishNodeStatus(ctx context.Context, event domain.StatusEvent) error
	PublishRunFinished(ctx context.Context, report *domain.ExecutionReport) error
}

// publishTimeout — сколько событие может ждать брокер.
const publishTimeout = 5 * time.Second

// EventPublisher публикует события run в apiflow.events.
//
// Реализует orchestrator.Observer. Ошибки публикации только логируются:
// недоступный брокер не должен ронять выполнение run.
type EventPublisher struct {
	sink   EventSink
	logger *slog.Logger
}

// NewEventPublisher создаёт EventPublisher.
func NewEventPublisher(sink EventSink, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{sink: sink, logger: logger}
}

// NodeStatusChanged реализует orchestrator.Observer.
func (e *EventPublisher) NodeStatusChanged(ctx context.Context, event domain.StatusEvent) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := e.sink.PublishNodeStatus(ctx, event); err != nil {
		e.logger.Warn("failed to publish node status",
			"run_id", event.RunID,
			"node_id", event.NodeID,
			"status", event.To,
			"error", err,
		)
	}
}

// RunFinished реализует orchestrator.Observer.
func (e *EventPublisher) RunFinished(ctx context.Context, report *domain.ExecutionReport) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := e.sink.PublishRunFinished(ctx, report); err != nil {
		e.logger.Warn("failed to publish run result",
			"run_id", report.RunID,
			"error", err,
		)
	}
}

// EventObserver получает события, прочитанные из apiflow.events.
// Совпадает с orchestrator.Observer.
type EventObserver interface {
	NodeStatusChanged(ctx context.Context, event domain.StatusEvent)
	RunFinished(ctx context.Context, report *domain.ExecutionReport)
}

// EventHandler возвращает Handler, который раскладывает node.status и
// run.finished по методам obs. Прочие типы сообщений пропускаются.
func EventHandler(obs EventObserver) Handler {
	return func(ctx context.Context, msg *Delivery) error {
		switch msg.Message.Type {
		case MessageTypeNodeStatus:
			event, err := ParsePayload[domain.StatusEvent](&msg.Message)
			if err != nil {
				return err
			}
			obs.NodeStatusChanged(ctx, event)
		case MessageTypeRunFinished:
			payload, err := ParsePayload[RunFinishedPayload](&msg.Message)
			if err != nil {
				return err
			}
			if payload.Report == nil {
				return fmt.Errorf("run.finished %s without report", payload.RunID)
			}
			obs.RunFinished(ctx, payload.Report)
		}
		return nil
	}
}
