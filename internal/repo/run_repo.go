package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/apiflow/internal/domain"
)

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `
	id, workflow_id, status, trigger, inputs, report, error,
	started_at, finished_at, created_at
`

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	query := `
		INSERT INTO runs (id, workflow_id, status, trigger, inputs, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.WorkflowID,
		run.Status,
		nullString(run.Trigger),
		inputsJSON,
		run.StartedAt,
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("run %s: %w", run.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// Claim атомарно переводит PENDING run в RUNNING и возвращает его.
// Если run уже забран другим worker'ом или отменён — ErrInvalidState.
func (r *RunRepo) Claim(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + runColumns
	run, err := scanRun(r.pool.QueryRow(ctx, query,
		id,
		domain.RunStatusRunning,
		time.Now().UTC(),
		domain.RunStatusPending,
	))
	if !errors.Is(err, pgx.ErrNoRows) {
		return run, err
	}

	// Не обновилось: либо run нет, либо он не PENDING
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("run %s is not pending: %w", id, ErrInvalidState)
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	WorkflowID string
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR workflow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.WorkflowID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update сохраняет статус, времена, ошибку и отчёт run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	var reportJSON []byte
	if run.Report != nil {
		var err error
		reportJSON, err = json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
	}

	query := `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4, error = $5, report = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		reportJSON,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanRun сканирует строку (pgx.Row или pgx.Rows) в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		run        domain.Run
		trigger    *string
		runError   *string
		inputsJSON []byte
		reportJSON []byte
	)

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.Status,
		&trigger,
		&inputsJSON,
		&reportJSON,
		&runError,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if reportJSON != nil {
		run.Report = &domain.ExecutionReport{}
		if err := json.Unmarshal(reportJSON, run.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	if trigger != nil {
		run.Trigger = *trigger
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}
