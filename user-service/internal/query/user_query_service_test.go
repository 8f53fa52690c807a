package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/models"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

type fakeLister struct{ views []models.UserView }

func (f fakeLister) List(context.Context) ([]models.UserView, error) { return f.views, nil }

type fakeTasks struct {
	limits     []int
	identities []string
}

func (f *fakeTasks) FailedTasks(_ context.Context, limit int) ([]reconcile.Task, error) {
	f.limits = append(f.limits, limit)
	return nil, nil
}

func (f *fakeTasks) AuditTrail(_ context.Context, identity string) ([]reconcile.AuditRecord, error) {
	f.identities = append(f.identities, identity)
	return nil, nil
}

func TestListUsers(t *testing.T) {
	views := []models.UserView{{Name: "Alice", Email: "alice@example.com"}}
	svc := NewUserQueryService(fakeLister{views: views}, &fakeTasks{})

	got, err := svc.ListUsers(context.Background(), cqrs.ListUsersQuery{})
	require.NoError(t, err)
	assert.Equal(t, views, got)
}

func TestListFailedTasksClampsLimit(t *testing.T) {
	tasks := &fakeTasks{}
	svc := NewUserQueryService(fakeLister{}, tasks)

	for _, limit := range []int{0, 25, 5000} {
		_, err := svc.ListFailedTasks(context.Background(), cqrs.ListFailedTasksQuery{Limit: limit})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{defaultFailedLimit, 25, maxFailedLimit}, tasks.limits)
}

func TestAuditTrail(t *testing.T) {
	tasks := &fakeTasks{}
	svc := NewUserQueryService(fakeLister{}, tasks)

	_, err := svc.AuditTrail(context.Background(), cqrs.AuditTrailQuery{Identity: "u42"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u42"}, tasks.identities)
}
