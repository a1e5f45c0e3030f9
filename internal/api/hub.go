package api

import (
	"context"
	"sync"

	"github.com/shaiso/apiflow/internal/domain"
)

// hubBuffer — сколько сообщений ждёт медленного подписчика.
// Переполнение теряет сообщения этого подписчика, а не блокирует run.
const hubBuffer = 64

// Hub раздаёт события runs подписчикам websocket по run ID.
//
// Реализует orchestrator.Observer: получает события синхронных runs API
// напрямую, а события runs worker'а — из RabbitMQ (mq.EventHandler).
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan StreamMessage]struct{}
}

// NewHub создаёт пустой Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan StreamMessage]struct{})}
}

// Subscribe подписывается на события run. Возвращённую функцию
// нужно вызвать, чтобы отписаться: она закрывает канал.
func (h *Hub) Subscribe(runID string) (<-chan StreamMessage, func()) {
	ch := make(chan StreamMessage, hubBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan StreamMessage]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[runID], ch)
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
			close(ch)
		})
	}
}

// Subscribers возвращает число подписчиков run.
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[runID])
}

// NodeStatusChanged реализует orchestrator.Observer.
func (h *Hub) NodeStatusChanged(_ context.Context, event domain.StatusEvent) {
	h.broadcast(event.RunID, StreamMessage{Type: StreamTypeNodeStatus, RunID: event.RunID, Event: &event})
}

// RunFinished реализует orchestrator.Observer.
func (h *Hub) RunFinished(_ context.Context, report *domain.ExecutionReport) {
	h.broadcast(report.RunID, StreamMessage{Type: StreamTypeRunFinished, RunID: report.RunID, Report: report})
}

func (h *Hub) broadcast(runID string, msg StreamMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[runID] {
		select {
		case ch <- msg:
		default:
		}
	}
}
