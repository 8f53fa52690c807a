package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

// TaskRepository stores reconciliation tasks in PostgreSQL.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, identity, action, delivery_id, state, attempts, last_error, next_attempt_at, created_at, updated_at`

// execer is a *sql.DB or a *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertTask writes t unless its (action, delivery_id) is taken, and reports
// whether it did.
func insertTask(ctx context.Context, db execer, t *reconcile.Task) (bool, error) {
	query := `
		INSERT INTO reconciliation_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (action, delivery_id) DO NOTHING
	`
	result, err := db.ExecContext(ctx, query,
		t.ID, t.Identity, t.Action, t.DeliveryID, t.State, t.Attempts, t.LastError,
		t.NextAttemptAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows == 1, nil
}

// CreateOrGet inserts t unless a task for the same (action, delivery_id)
// exists, in which case the stored task is returned.
func (r *TaskRepository) CreateOrGet(ctx context.Context, t *reconcile.Task) (*reconcile.Task, bool, error) {
	inserted, err := insertTask(ctx, r.db, t)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		created := *t
		return &created, true, nil
	}

	existing, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM reconciliation_tasks WHERE action = $1 AND delivery_id = $2`,
		t.Action, t.DeliveryID,
	))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*reconcile.Task, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM reconciliation_tasks WHERE id = $1`, id,
	))
}

// Transition applies next only while the row still holds cur's state and
// attempt count.
func (r *TaskRepository) Transition(ctx context.Context, cur, next *reconcile.Task) error {
	query := `
		UPDATE reconciliation_tasks
		SET state = $4, attempts = $5, last_error = $6, next_attempt_at = $7, updated_at = $8
		WHERE id = $1 AND state = $2 AND attempts = $3
	`
	result, err := r.db.ExecContext(ctx, query,
		cur.ID, cur.State, cur.Attempts,
		next.State, next.Attempts, next.LastError, next.NextAttemptAt, next.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return reconcile.ErrStaleTask
	}
	return nil
}

// ListByState returns tasks in any of states, oldest first. A limit of 0
// returns all of them.
func (r *TaskRepository) ListByState(ctx context.Context, states []reconcile.State, limit int) ([]reconcile.Task, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	query := `SELECT ` + taskColumns + ` FROM reconciliation_tasks WHERE state = ANY($1) ORDER BY created_at, id`
	args := []any{pq.Array(names)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *TaskRepository) ListByIdentity(ctx context.Context, identity string) ([]reconcile.Task, error) {
	return r.list(ctx,
		`SELECT `+taskColumns+` FROM reconciliation_tasks WHERE identity = $1 ORDER BY created_at, id`,
		identity,
	)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]reconcile.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []reconcile.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) scanOne(row *sql.Row) (*reconcile.Task, error) {
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*reconcile.Task, error) {
	var (
		t             reconcile.Task
		action, state string
		nextAttemptAt sql.NullTime
	)
	err := s.Scan(&t.ID, &t.Identity, &action, &t.DeliveryID, &state, &t.Attempts, &t.LastError,
		&nextAttemptAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Action = reconcile.Action(action)
	t.State = reconcile.State(state)
	if nextAttemptAt.Valid {
		at := nextAttemptAt.Time.UTC()
		t.NextAttemptAt = &at
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
