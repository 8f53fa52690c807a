package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Venomous0511/JeepEZ/auth-service/internal/repository"
	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/shared/models"
	"github.com/Venomous0511/JeepEZ/shared/utils"
)

var testSecret = []byte("test-secret")

type fakeUsers map[string]*models.User

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := f[email]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

type fakeCredentials map[string]*models.Credential

func (f fakeCredentials) Get(_ context.Context, userID string) (*models.Credential, error) {
	if c, ok := f[userID]; ok {
		return c, nil
	}
	return nil, repository.ErrCredentialNotFound
}

func newTestService(t *testing.T) (*AuthQueryService, fakeCredentials) {
	t.Helper()
	hash, err := utils.HashPassword("securepass123", 4)
	require.NoError(t, err)
	users := fakeUsers{
		"alice@example.com": {ID: "usr-alice", Email: "alice@example.com", PasswordHash: hash},
		"ops@example.com":   {ID: "usr-ops", Email: "ops@example.com", PasswordHash: hash},
	}
	creds := fakeCredentials{
		"usr-alice": {UserID: "usr-alice", Email: "alice@example.com"},
		"usr-ops":   {UserID: "usr-ops", Email: "ops@example.com"},
	}
	return NewAuthQueryService(users, creds, testSecret, time.Hour, []string{" OPS@example.com "}), creds
}

func TestLogin(t *testing.T) {
	svc, creds := newTestService(t)

	token, err := svc.Login(context.Background(), cqrs.LoginCommand{Email: "alice@example.com", Password: "securepass123"})
	require.NoError(t, err)
	claims, err := middleware.ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "usr-alice", claims.UserID)
	assert.Equal(t, middleware.RoleUser, claims.Role)

	_, err = svc.Login(context.Background(), cqrs.LoginCommand{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), cqrs.LoginCommand{Email: "nobody@example.com", Password: "securepass123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	delete(creds, "usr-alice")
	_, err = svc.Login(context.Background(), cqrs.LoginCommand{Email: "alice@example.com", Password: "securepass123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginOperatorRole(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.Login(context.Background(), cqrs.LoginCommand{Email: "ops@example.com", Password: "securepass123"})
	require.NoError(t, err)
	claims, err := middleware.ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, middleware.RoleOperator, claims.Role)
}

func TestRefreshToken(t *testing.T) {
	svc, creds := newTestService(t)
	issued := time.Now().Add(-10 * time.Minute)
	svc.now = func() time.Time { return issued }
	token, err := svc.Login(context.Background(), cqrs.LoginCommand{Email: "alice@example.com", Password: "securepass123"})
	require.NoError(t, err)
	svc.now = time.Now

	refreshed, err := svc.RefreshToken(context.Background(), cqrs.RefreshTokenCommand{Token: token})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed)

	changed := issued.Add(time.Minute)
	creds["usr-alice"].PasswordChangedAt = &changed
	_, err = svc.RefreshToken(context.Background(), cqrs.RefreshTokenCommand{Token: token})
	assert.ErrorIs(t, err, ErrInvalidToken, "tokens issued before a password change must not refresh")

	_, err = svc.RefreshToken(context.Background(), cqrs.RefreshTokenCommand{Token: refreshed})
	assert.NoError(t, err)

	delete(creds, "usr-alice")
	_, err = svc.RefreshToken(context.Background(), cqrs.RefreshTokenCommand{Token: refreshed})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.RefreshToken(context.Background(), cqrs.RefreshTokenCommand{Token: "garbage"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}
