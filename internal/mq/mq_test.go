package mq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/apiflow/internal/domain"
)

func TestParsePayload_RoundTripThroughJSON(t *testing.T) {
	runID := uuid.New()
	msg := NewMessage(MessageTypeRunRequested, RunRequestedPayload{RunID: runID, WorkflowID: "weather"})

	body, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, MessageTypeRunRequested, decoded.Type)
	assert.Equal(t, msg.ID, decoded.ID)

	payload, err := ParsePayload[RunRequestedPayload](&decoded)
	require.NoError(t, err)
	assert.Equal(t, runID, payload.RunID)
	assert.Equal(t, "weather", payload.WorkflowID)
}

func TestParsePayload_WrongShape(t *testing.T) {
	msg := &Message{Payload: map[string]any{"run_id": 42}}

	_, err := ParsePayload[RunRequestedPayload](msg)
	assert.Error(t, err)
}

type fakeSink struct {
	events  []domain.StatusEvent
	reports []*domain.ExecutionReport
	err     error
}

func (f *fakeSink) PublishNodeStatus(ctx context.Context, event domain.StatusEvent) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeSink) PublishRunFinished(_ context.Context, report *domain.ExecutionReport) error {
	f.reports = append(f.reports, report)
	return f.err
}

func TestEventPublisher_ForwardsEvents(t *testing.T) {
	sink := &fakeSink{}
	pub := NewEventPublisher(sink, nil)

	event := domain.StatusEvent{RunID: "r1", NodeID: "fetch", From: domain.NodeStatusIdle, To: domain.NodeStatusRunning}
	pub.NodeStatusChanged(context.Background(), event)
	report := &domain.ExecutionReport{RunID: "r1", OverallStatus: domain.ReportSuccess}
	pub.RunFinished(context.Background(), report)

	require.Len(t, sink.events, 1)
	assert.Equal(t, event, sink.events[0])
	require.Len(t, sink.reports, 1)
	assert.Same(t, report, sink.reports[0])
}

func TestEventPublisher_ErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{err: errors.New("broker down")}
	pub := NewEventPublisher(sink, slog.New(slog.NewTextHandler(&buf, nil)))

	pub.NodeStatusChanged(context.Background(), domain.StatusEvent{RunID: "r1", NodeID: "a", To: domain.NodeStatusFailed})
	pub.RunFinished(context.Background(), &domain.ExecutionReport{RunID: "r1"})

	assert.Contains(t, buf.String(), "failed to publish node status")
	assert.Contains(t, buf.String(), "failed to publish run result")
	assert.Contains(t, buf.String(), "broker down")
}

func TestTopologyInfo(t *testing.T) {
	info := TopologyInfo()
	for _, name := range []string{string(ExchangeRuns), string(ExchangeEvents), string(QueueRunsRequested), string(QueueDLQRuns)} {
		assert.Contains(t, info, name)
	}
}

type recordingObserver struct {
	events  []domain.StatusEvent
	reports []*domain.ExecutionReport
}

func (r *recordingObserver) NodeStatusChanged(_ context.Context, event domain.StatusEvent) {
	r.events = append(r.events, event)
}

func (r *recordingObserver) RunFinished(_ context.Context, report *domain.ExecutionReport) {
	r.reports = append(r.reports, report)
}

// wireDelivery имитирует сообщение, прошедшее через брокер.
func wireDelivery(t *testing.T, msg *Message) *Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(body, &decoded))
	return &Delivery{Message: decoded}
}

func TestEventHandler_Dispatch(t *testing.T) {
	obs := &recordingObserver{}
	handle := EventHandler(obs)
	ctx := context.Background()

	event := domain.StatusEvent{
		RunID:    "r1",
		NodeID:   "fetch",
		NodeType: domain.NodeTypeAPI,
		From:     domain.NodeStatusRunning,
		To:       domain.NodeStatusCompleted,
	}
	require.NoError(t, handle(ctx, wireDelivery(t, NewMessage(MessageTypeNodeStatus, event))))

	report := &domain.ExecutionReport{RunID: "r1", WorkflowID: "weather", OverallStatus: domain.ReportFailure}
	require.NoError(t, handle(ctx, wireDelivery(t, NewMessage(MessageTypeRunFinished, RunFinishedPayload{
		RunID:  "r1",
		Status: report.OverallStatus,
		Report: report,
	}))))

	require.NoError(t, handle(ctx, wireDelivery(t, NewMessage(MessageTypeRunRequested, RunRequestedPayload{RunID: uuid.New()}))))

	require.Len(t, obs.events, 1)
	assert.Equal(t, "fetch", obs.events[0].NodeID)
	assert.Equal(t, domain.NodeStatusCompleted, obs.events[0].To)

	require.Len(t, obs.reports, 1)
	assert.Equal(t, "weather", obs.reports[0].WorkflowID)
	assert.Equal(t, domain.ReportFailure, obs.reports[0].OverallStatus)
}

func TestEventHandler_RunFinishedWithoutReport(t *testing.T) {
	handle := EventHandler(&recordingObserver{})

	err := handle(context.Background(), wireDelivery(t, NewMessage(MessageTypeRunFinished, RunFinishedPayload{RunID: "r1"})))
	assert.Error(t, err)
}

func TestSettle(t *testing.T) {
	failure := errors.New("boom")

	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        Settlement
	}{
		{"success", nil, false, SettleAck},
		{"success after redelivery", nil, true, SettleAck},
		{"first failure is retried", failure, false, SettleRequeue},
		{"second failure is rejected", failure, true, SettleReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Settle(tt.err, tt.redelivered))
		})
	}
}

func TestConnection_ClosedWithoutDial(t *testing.T) {
	c := &Connection{
		logger:      slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil }), ErrNoChannel)

	_, err := c.OpenChannel()
	assert.ErrorIs(t, err, ErrNoChannel)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}

	_, err = c.OpenChannel()
	assert.ErrorIs(t, err, ErrClosed)
}
