package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Venomous0511/JeepEZ/auth-service/internal/repository"
	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/shared/models"
	"github.com/Venomous0511/JeepEZ/shared/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type CredentialReader interface {
	Get(ctx context.Context, userID string) (*models.Credential, error)
}

// AuthQueryService handles login and token refresh. Neither mutates state;
// both require the identity to still hold a credential.
type AuthQueryService struct {
	users       UserReader
	credentials CredentialReader
	secret      []byte
	tokenTTL    time.Duration
	operators   map[string]struct{}
	now         func() time.Time
}

func NewAuthQueryService(users UserReader, credentials CredentialReader, secret []byte, tokenTTL time.Duration, operatorEmails []string) *AuthQueryService {
	operators := make(map[string]struct{}, len(operatorEmails))
	for _, e := range operatorEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			operators[e] = struct{}{}
		}
	}
	return &AuthQueryService{
		users:       users,
		credentials: credentials,
		secret:      secret,
		tokenTTL:    tokenTTL,
		operators:   operators,
		now:         time.Now,
	}
}

func (s *AuthQueryService) Login(ctx context.Context, cmd cqrs.LoginCommand) (string, error) {
	user, err := s.users.GetByEmail(ctx, cmd.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if !utils.CheckPassword(cmd.Password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	// A deleted profile may linger until reconciliation removes the credential
	// or the soft delete lands; either way no credential means no login.
	if _, err := s.credentials.Get(ctx, user.ID); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	return s.generateToken(user.ID, user.Email)
}

// RefreshToken reissues a valid token whose credential still exists and
// predates no password change.
func (s *AuthQueryService) RefreshToken(ctx context.Context, cmd cqrs.RefreshTokenCommand) (string, error) {
	claims, err := middleware.ParseToken(cmd.Token, s.secret)
	if err != nil {
		return "", ErrInvalidToken
	}
	cred, err := s.credentials.Get(ctx, claims.UserID)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if cred.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(cred.PasswordChangedAt.Truncate(time.Second)) {
		return "", ErrInvalidToken
	}
	return s.generateToken(claims.UserID, claims.Email)
}

func (s *AuthQueryService) GetCredential(ctx context.Context, q cqrs.GetCredentialQuery) (*models.Credential, error) {
	return s.credentials.Get(ctx, q.UserID)
}

func (s *AuthQueryService) generateToken(userID, email string) (string, error) {
	role := middleware.RoleUser
	if _, ok := s.operators[strings.ToLower(email)]; ok {
		role = middleware.RoleOperator
	}
	now := s.now()
	claims := middleware.Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, nil
}
