package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

// AuditRepository is the append-only audit_log table.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, rec reconcile.AuditRecord) error {
	query := `
		INSERT INTO audit_log (identity, action, outcome, delivery_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query,
		rec.Identity, rec.Action, rec.Outcome, rec.DeliveryID, rec.Detail, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// ListByIdentity returns the identity's records, oldest first.
func (r *AuditRepository) ListByIdentity(ctx context.Context, identity string) ([]reconcile.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity, action, outcome, delivery_id, detail, created_at
		FROM audit_log
		WHERE identity = $1
		ORDER BY created_at, id
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	records := []reconcile.AuditRecord{}
	for rows.Next() {
		var (
			rec             reconcile.AuditRecord
			action, outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.Identity, &action, &outcome, &rec.DeliveryID, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Action = reconcile.Action(action)
		rec.Outcome = reconcile.Outcome(outcome)
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}
