package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Venomous0511/JeepEZ/auth-service/internal/repository"
	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/events"
	"github.com/Venomous0511/JeepEZ/shared/models"
)

type memCredentials struct {
	rows map[string]models.Credential
	err  error
}

func newMemCredentials() *memCredentials {
	return &memCredentials{rows: make(map[string]models.Credential)}
}

func (m *memCredentials) Issue(_ context.Context, cred *models.Credential) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.rows[cred.UserID]; ok {
		return false, nil
	}
	m.rows[cred.UserID] = *cred
	return true, nil
}

func (m *memCredentials) DeleteByID(_ context.Context, userID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.rows[userID]
	delete(m.rows, userID)
	return ok, nil
}

func (m *memCredentials) MarkPasswordChanged(_ context.Context, userID string, at time.Time) error {
	if m.err != nil {
		return m.err
	}
	c, ok := m.rows[userID]
	if !ok {
		return repository.ErrCredentialNotFound
	}
	c.PasswordChangedAt = &at
	m.rows[userID] = c
	return nil
}

func newTestService() (*CredentialCommandService, *memCredentials) {
	creds := newMemCredentials()
	return NewCredentialCommandService(creds, slog.New(slog.NewTextHandler(io.Discard, nil))), creds
}

func TestIssueCredentialIsIdempotent(t *testing.T) {
	svc, creds := newTestService()
	cmd := cqrs.IssueCredentialCommand{UserID: "usr-1", Email: "Alice@Example.com"}

	cred, created, err := svc.IssueCredential(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice@example.com", cred.Email)

	_, created, err = svc.IssueCredential(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, creds.rows, 1)
}

func TestDeleteCredential(t *testing.T) {
	svc, creds := newTestService()
	creds.rows["usr-1"] = models.Credential{UserID: "usr-1"}

	deleted, err := svc.DeleteCredential(context.Background(), cqrs.DeleteCredentialCommand{UserID: "usr-1"})
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.DeleteCredential(context.Background(), cqrs.DeleteCredentialCommand{UserID: "usr-1"})
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestHandleProfileEvent(t *testing.T) {
	svc, creds := newTestService()
	ctx := context.Background()
	changedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := svc.IssueCredential(ctx, cqrs.IssueCredentialCommand{UserID: "usr-1", Email: "alice@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.HandleProfileEvent(ctx, events.Event{ID: "e2", Type: events.PasswordChanged,
		Data: events.PasswordChangedEvent{UserID: "usr-1", ChangedAt: changedAt}}))
	require.NotNil(t, creds.rows["usr-1"].PasswordChangedAt)
	assert.True(t, changedAt.Equal(*creds.rows["usr-1"].PasswordChangedAt))

	// Unknown identities, malformed payloads and foreign event types are acknowledged.
	assert.NoError(t, svc.HandleProfileEvent(ctx, events.Event{ID: "e3", Type: events.PasswordChanged,
		Data: events.PasswordChangedEvent{UserID: "usr-ghost", ChangedAt: changedAt}}))
	assert.NoError(t, svc.HandleProfileEvent(ctx, events.Event{ID: "e4", Type: events.PasswordChanged, Data: "garbage"}))
	assert.NoError(t, svc.HandleProfileEvent(ctx, events.Event{ID: "e5", Type: events.ProfileDeleted,
		Data: map[string]any{"userId": "usr-1"}}))
	assert.Contains(t, creds.rows, "usr-1")
}

func TestHandleProfileEventLeavesIssueToUserService(t *testing.T) {
	svc, creds := newTestService()

	require.NoError(t, svc.HandleProfileEvent(context.Background(), events.Event{ID: "e1", Type: events.ProfileCreated,
		Data: map[string]any{"userId": "usr-1", "email": "alice@example.com", "name": "Alice"}}))
	assert.NotContains(t, creds.rows, "usr-1")
}

func TestHandleProfileEventStoreFailureIsRetried(t *testing.T) {
	svc, creds := newTestService()
	creds.err = errors.New("connection refused")

	err := svc.HandleProfileEvent(context.Background(), events.Event{ID: "e1", Type: events.PasswordChanged,
		Data: events.PasswordChangedEvent{UserID: "usr-1", ChangedAt: time.Now().UTC()}})
	assert.Error(t, err)
}
