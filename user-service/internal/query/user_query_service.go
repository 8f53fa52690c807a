package query

import (
	"context"

	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/models"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

type UserLister interface {
	List(ctx context.Context) ([]models.UserView, error)
}

// TaskReader is implemented by the reconciliation service.
type TaskReader interface {
	FailedTasks(ctx context.Context, limit int) ([]reconcile.Task, error)
	AuditTrail(ctx context.Context, identity string) ([]reconcile.AuditRecord, error)
}

const (
	defaultFailedLimit = 100
	maxFailedLimit     = 1000
)

// UserQueryService serves the user listing from the Redis read model and the
// operator views of reconciliation state.
type UserQueryService struct {
	readRepo UserLister
	tasks    TaskReader
}

func NewUserQueryService(readRepo UserLister, tasks TaskReader) *UserQueryService {
	return &UserQueryService{readRepo: readRepo, tasks: tasks}
}

func (s *UserQueryService) ListUsers(ctx context.Context, _ cqrs.ListUsersQuery) ([]models.UserView, error) {
	return s.readRepo.List(ctx)
}

func (s *UserQueryService) ListFailedTasks(ctx context.Context, q cqrs.ListFailedTasksQuery) ([]reconcile.Task, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFailedLimit
	}
	if limit > maxFailedLimit {
		limit = maxFailedLimit
	}
	return s.tasks.FailedTasks(ctx, limit)
}

func (s *UserQueryService) AuditTrail(ctx context.Context, q cqrs.AuditTrailQuery) ([]reconcile.AuditRecord, error) {
	return s.tasks.AuditTrail(ctx, q.Identity)
}
