package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/apiflow/internal/domain"
)

// WorkflowRepo — репозиторий workflows.
//
// Workflow хранится целиком в JSONB (definition); name и schedule
// вынесены в колонки для списков и планировщика.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// Create сохраняет новый workflow.
// Возвращает ErrAlreadyExists, если workflow с таким ID уже есть.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow) error {
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, schedule, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		wf.ID,
		wf.Name,
		nullString(wf.Schedule),
		definition,
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	query := `SELECT definition FROM workflows WHERE id = $1`

	var definition []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(&definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow by id: %w", err)
	}
	return decodeWorkflow(definition)
}

// List возвращает все workflows, новые первыми.
func (r *WorkflowRepo) List(ctx context.Context) ([]domain.Workflow, error) {
	return r.list(ctx, `SELECT definition FROM workflows ORDER BY created_at DESC`)
}

// ListScheduled возвращает workflows с cron-расписанием.
func (r *WorkflowRepo) ListScheduled(ctx context.Context) ([]domain.Workflow, error) {
	return r.list(ctx, `
		SELECT definition FROM workflows
		WHERE schedule IS NOT NULL AND schedule <> ''
		ORDER BY id
	`)
}

func (r *WorkflowRepo) list(ctx context.Context, query string) ([]domain.Workflow, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []domain.Workflow{}
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wf, err := decodeWorkflow(definition)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// Update заменяет определение workflow.
func (r *WorkflowRepo) Update(ctx context.Context, wf *domain.Workflow) error {
	wf.UpdatedAt = time.Now().UTC()

	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	query := `
		UPDATE workflows
		SET name = $2, schedule = $3, definition = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		wf.ID,
		wf.Name,
		nullString(wf.Schedule),
		definition,
		wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет workflow (каскадно удалит runs).
func (r *WorkflowRepo) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeWorkflow(definition []byte) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := json.Unmarshal(definition, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &wf, nil
}
