package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
)

// streamWriteWait — сколько ждём запись одного сообщения клиенту.
const streamWriteWait = 10 * time.Second

// Stream — websocket с живыми статусами узлов.
//
// Клиент отправляет:
//
//	{"type": "run", "workflow": {...}, "inputs": {...}}  — выполнить workflow
//	{"type": "watch", "run_id": "..."}                    — следить за сохранённым run
//	{"type": "cancel"}                                    — отменить текущий run/watch
//
// Сервер отвечает сообщениями node.status, затем run.finished с отчётом.
// Одновременно в сессии активен один run или watch. Закрытие соединения
// отменяет выполняющийся run.
// GET /api/v1/stream
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	s := &streamSession{
		h:      h,
		conn:   conn,
		logger: h.logger.With("remote_addr", r.RemoteAddr),
	}
	s.serve(context.WithoutCancel(r.Context()))
}

// streamSession — одно websocket-соединение.
type streamSession struct {
	h      *Handler
	conn   *websocket.Conn
	logger *slog.Logger

	// writeMu — gorilla/websocket допускает одного писателя.
	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *streamSession) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer s.wg.Wait()
	defer cancel()

	s.logger.Debug("stream opened")
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("stream closed", "error", err)
			}
			return
		}

		var req StreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError(ErrorDetail{Code: ErrCodeBadRequest, Message: "invalid message"})
			continue
		}

		switch req.Type {
		case StreamTypeRun:
			s.startRun(ctx, req)
		case StreamTypeWatch:
			s.startWatch(ctx, req.RunID)
		case StreamTypeCancel:
			s.stop()
		default:
			s.sendError(ErrorDetail{Code: ErrCodeBadRequest, Message: fmt.Sprintf("unknown message type %q", req.Type)})
		}
	}
}

// begin резервирует сессию под run/watch. Возвращённый done нужно
// вызвать по завершении.
func (s *streamSession) begin(ctx context.Context) (context.Context, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, nil, false
	}

	activeCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	return activeCtx, func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		s.wg.Done()
	}, true
}

// stop отменяет текущий run/watch.
func (s *streamSession) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *streamSession) startRun(ctx context.Context, req StreamRequest) {
	if req.Workflow == nil {
		s.sendError(ErrorDetail{Code: ErrCodeBadRequest, Message: "workflow is required"})
		return
	}

	vw, err := s.h.orchestrator.Validate(req.Workflow)
	if err != nil {
		s.sendError(validationDetail(err))
		return
	}

	runCtx, done, ok := s.begin(ctx)
	if !ok {
		s.sendError(ErrorDetail{Code: ErrCodeInvalidState, Message: "another run is in progress"})
		return
	}

	runID := uuid.NewString()
	go func() {
		defer done()
		s.h.orchestrator.Execute(runCtx, vw, req.Inputs,
			orchestrator.WithRunID(runID),
			orchestrator.WithObserver(s),
		)
	}()
}

func (s *streamSession) startWatch(ctx context.Context, runID string) {
	id, err := uuid.Parse(runID)
	if err != nil {
		s.sendError(ErrorDetail{Code: ErrCodeBadRequest, Message: "invalid run id"})
		return
	}

	// подписываемся до чтения run, чтобы не потерять run.finished между ними
	events, unsubscribe := s.h.hub.Subscribe(runID)

	if s.h.runs != nil {
		run, err := s.h.runs.GetByID(ctx, id)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			unsubscribe()
			s.sendError(ErrorDetail{Code: ErrCodeNotFound, Message: "run not found"})
			return
		case err != nil:
			unsubscribe()
			s.logger.Error("load watched run", "run_id", runID, "error", err)
			s.sendError(ErrorDetail{Code: ErrCodeInternalError, Message: "internal server error"})
			return
		case run.IsFinished() && run.Report != nil:
			unsubscribe()
			s.send(StreamMessage{Type: StreamTypeRunFinished, RunID: runID, Report: run.Report})
			return
		}
	}

	watchCtx, done, ok := s.begin(ctx)
	if !ok {
		unsubscribe()
		s.sendError(ErrorDetail{Code: ErrCodeInvalidState, Message: "another run is in progress"})
		return
	}

	go func() {
		defer done()
		defer unsubscribe()

		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				s.send(msg)
				if msg.Type == StreamTypeRunFinished {
					return
				}
			}
		}
	}()
}

// NodeStatusChanged реализует orchestrator.Observer.
func (s *streamSession) NodeStatusChanged(_ context.Context, event domain.StatusEvent) {
	s.send(StreamMessage{Type: StreamTypeNodeStatus, RunID: event.RunID, Event: &event})
}

// RunFinished реализует orchestrator.Observer.
func (s *streamSession) RunFinished(_ context.Context, report *domain.ExecutionReport) {
	s.send(StreamMessage{Type: StreamTypeRunFinished, RunID: report.RunID, Report: report})
}

func (s *streamSession) sendError(detail ErrorDetail) {
	s.send(StreamMessage{Type: StreamTypeError, Error: &detail})
}

func (s *streamSession) send(msg StreamMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("stream write failed", "type", msg.Type, "error", err)
	}
}
