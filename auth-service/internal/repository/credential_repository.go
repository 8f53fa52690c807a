package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Venomous0511/JeepEZ/shared/models"
)

// CredentialRepository owns the credentials table: one row per identity that
// may authenticate.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Issue creates the credential unless one already exists. It reports whether
// a row was inserted.
func (r *CredentialRepository) Issue(ctx context.Context, cred *models.Credential) (bool, error) {
	query := `
		INSERT INTO credentials (user_id, email, password_changed_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, cred.UserID, cred.Email, cred.PasswordChangedAt, cred.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to issue credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *CredentialRepository) Get(ctx context.Context, userID string) (*models.Credential, error) {
	query := `SELECT user_id, email, password_changed_at, created_at FROM credentials WHERE user_id = $1`

	var (
		cred      models.Credential
		changedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&cred.UserID, &cred.Email, &changedAt, &cred.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if changedAt.Valid {
		at := changedAt.Time.UTC()
		cred.PasswordChangedAt = &at
	}
	return &cred, nil
}

// DeleteByID reports whether a credential was removed.
func (r *CredentialRepository) DeleteByID(ctx context.Context, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkPasswordChanged records at as the latest password change. Older
// timestamps from redelivered events never move it backwards.
func (r *CredentialRepository) MarkPasswordChanged(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE credentials
		SET password_changed_at = GREATEST(COALESCE(password_changed_at, $2), $2)
		WHERE user_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("failed to mark password change: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
