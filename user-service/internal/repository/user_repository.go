package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Venomous0511/JeepEZ/shared/models"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

// UserWriteRepository handles all state-mutating operations for users.
// It operates exclusively against the PostgreSQL write store (source of truth).
type UserWriteRepository struct {
	db *sql.DB
}

func NewUserWriteRepository(db *sql.DB) *UserWriteRepository {
	return &UserWriteRepository{db: db}
}

// Create inserts user together with follow, the task that reconciles the
// credential store. A nil follow inserts the user alone.
func (r *UserWriteRepository) Create(ctx context.Context, user *models.User, follow *reconcile.Task) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, password_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
	`
	err := r.inTx(ctx, follow, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	user.PasswordVersion = 1
	return nil
}

// inTx runs fn and inserts follow in one transaction.
func (r *UserWriteRepository) inTx(ctx context.Context, follow *reconcile.Task, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if follow != nil {
		if _, err := insertTask(ctx, tx, follow); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const selectLiveUser = `
	SELECT id, name, email, password_hash, password_version, created_at, updated_at
	FROM users
`

// GetByID fetches the full write model (including PasswordHash) for internal operations.
func (r *UserWriteRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, selectLiveUser+`WHERE id = $1 AND deleted_at IS NULL`, id)
}

// GetByEmail matches case-insensitively among live users.
func (r *UserWriteRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, selectLiveUser+`WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL`, email)
}

func (r *UserWriteRepository) getOne(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.PasswordVersion,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdatePasswordHash writes hash only while the stored version equals
// expectedVersion, and bumps the version in the same statement.
func (r *UserWriteRepository) UpdatePasswordHash(ctx context.Context, id, hash string, expectedVersion int64) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_version = password_version + 1, updated_at = NOW()
		WHERE id = $1 AND password_version = $3 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id, hash, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return ErrVersionConflict
}

// Delete soft-deletes a live user and stores follow in the same transaction.
func (r *UserWriteRepository) Delete(ctx context.Context, id string, follow *reconcile.Task) error {
	query := `UPDATE users SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	return r.inTx(ctx, follow, func(tx *sql.Tx) error {
		return execOne(ctx, tx, query, id)
	})
}

// Restore clears deleted_at and stores follow in the same transaction. It
// fails with ErrEmailExists when the email was taken by another user in the
// meantime.
func (r *UserWriteRepository) Restore(ctx context.Context, id string, follow *reconcile.Task) error {
	query := `UPDATE users SET deleted_at = NULL, updated_at = NOW() WHERE id = $1 AND deleted_at IS NOT NULL`
	return r.inTx(ctx, follow, func(tx *sql.Tx) error {
		err := execOne(ctx, tx, query, id)
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	})
}

func execOne(ctx context.Context, db execer, query, id string) error {
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
