package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaiso/apiflow/internal/domain"
	"github.com/shaiso/apiflow/internal/orchestrator"
	"github.com/shaiso/apiflow/internal/repo"
	"github.com/shaiso/apiflow/internal/telemetry"
)

// WorkflowStore — хранилище workflows (repo.WorkflowRepo).
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByID(ctx context.Context, id string) (*domain.Workflow, error)
	List(ctx context.Context) ([]domain.Workflow, error)
	Update(ctx context.Context, wf *domain.Workflow) error
	Delete(ctx context.Context, id string) error
}

// RunStore — хранилище runs (repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
}

// RunQueue ставит run в очередь worker'ов (mq.Publisher).
type RunQueue interface {
	PublishRunRequested(ctx context.Context, runID uuid.UUID, workflowID string) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	workflows    WorkflowStore
	runs         RunStore
	orchestrator *orchestrator.Orchestrator
	queue        RunQueue
	metrics      *telemetry.Metrics
	hub          *Hub
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

// Config — конфигурация для создания Handler.
type Config struct {
	Workflows    WorkflowStore
	Runs         RunStore
	Orchestrator *orchestrator.Orchestrator
	Queue        RunQueue           // опционально: без очереди ?async=true недоступен
	Metrics      *telemetry.Metrics // опционально
	Hub          *Hub               // опционально: по умолчанию новый
	Logger       *slog.Logger

	// AllowedOrigins — origins, которым разрешён websocket /stream.
	// Пусто или "*" — любой origin.
	AllowedOrigins []string
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	orch := cfg.Orchestrator
	if orch == nil {
		orch = orchestrator.New(orchestrator.Config{Logger: logger})
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}

	return &Handler{
		workflows:    cfg.Workflows,
		runs:         cfg.Runs,
		orchestrator: orch,
		queue:        cfg.Queue,
		metrics:      cfg.Metrics,
		hub:          hub,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.AllowedOrigins),
		},
	}
}

// Hub возвращает Hub подписчиков websocket.
func (h *Handler) Hub() *Hub {
	return h.hub
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
