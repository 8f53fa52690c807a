package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Venomous0511/JeepEZ/auth-service/internal/repository"
	"github.com/Venomous0511/JeepEZ/shared/cqrs"
	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/shared/models"
)

const testInternalToken = "internal-secret"

type mockCredentialService struct {
	issueFn  func(cqrs.IssueCredentialCommand) (*models.Credential, bool, error)
	deleteFn func(cqrs.DeleteCredentialCommand) (bool, error)
	getFn    func(cqrs.GetCredentialQuery) (*models.Credential, error)
}

func (m *mockCredentialService) IssueCredential(_ context.Context, cmd cqrs.IssueCredentialCommand) (*models.Credential, bool, error) {
	if m.issueFn != nil {
		return m.issueFn(cmd)
	}
	return nil, false, fmt.Errorf("not configured")
}
func (m *mockCredentialService) DeleteCredential(_ context.Context, cmd cqrs.DeleteCredentialCommand) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(cmd)
	}
	return false, fmt.Errorf("not configured")
}
func (m *mockCredentialService) GetCredential(_ context.Context, q cqrs.GetCredentialQuery) (*models.Credential, error) {
	if m.getFn != nil {
		return m.getFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

func newCredentialTestRouter(svc *mockCredentialService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewCredentialHandler(svc, svc, discardLogger())
	internal := r.Group("/internal/credentials", middleware.InternalAuth(testInternalToken))
	internal.POST("", h.Issue)
	internal.GET("/:userId", h.Get)
	internal.DELETE("/:userId", h.Delete)
	return r
}

func internalDoRequest(router *gin.Engine, method, url string, body any) int {
	return internalDoRequestWithToken(router, method, url, body, testInternalToken)
}

func internalDoRequestWithToken(router *gin.Engine, method, url string, body any, token string) int {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalTokenHeader, token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestIssueCredential(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		issueFn        func(cqrs.IssueCredentialCommand) (*models.Credential, bool, error)
		expectedStatus int
	}{
		{
			name: "created",
			body: map[string]string{"userId": "usr-1", "email": "alice@example.com"},
			issueFn: func(cmd cqrs.IssueCredentialCommand) (*models.Credential, bool, error) {
				return &models.Credential{UserID: cmd.UserID, Email: cmd.Email}, true, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "already issued",
			body: map[string]string{"userId": "usr-1", "email": "alice@example.com"},
			issueFn: func(cmd cqrs.IssueCredentialCommand) (*models.Credential, bool, error) {
				return &models.Credential{UserID: cmd.UserID, Email: cmd.Email}, false, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - missing user id",
			body:           map[string]string{"email": "alice@example.com"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "server error",
			body: map[string]string{"userId": "usr-1", "email": "alice@example.com"},
			issueFn: func(cmd cqrs.IssueCredentialCommand) (*models.Credential, bool, error) {
				return nil, false, errors.New("connection refused")
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newCredentialTestRouter(&mockCredentialService{issueFn: tt.issueFn})
			if code := internalDoRequest(router, http.MethodPost, "/internal/credentials", tt.body); code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d", tt.name, tt.expectedStatus, code)
			}
		})
	}
}

func TestDeleteCredential(t *testing.T) {
	tests := []struct {
		name           string
		deleteFn       func(cqrs.DeleteCredentialCommand) (bool, error)
		expectedStatus int
	}{
		{
			name:           "deleted",
			deleteFn:       func(cqrs.DeleteCredentialCommand) (bool, error) { return true, nil },
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "nothing to delete",
			deleteFn:       func(cqrs.DeleteCredentialCommand) (bool, error) { return false, nil },
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "store unavailable",
			deleteFn:       func(cqrs.DeleteCredentialCommand) (bool, error) { return false, errors.New("timeout") },
			expectedStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newCredentialTestRouter(&mockCredentialService{deleteFn: tt.deleteFn})
			if code := internalDoRequest(router, http.MethodDelete, "/internal/credentials/usr-1", nil); code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d", tt.name, tt.expectedStatus, code)
			}
		})
	}
}

func TestGetCredential(t *testing.T) {
	svc := &mockCredentialService{getFn: func(q cqrs.GetCredentialQuery) (*models.Credential, error) {
		if q.UserID == "usr-1" {
			return &models.Credential{UserID: "usr-1"}, nil
		}
		return nil, repository.ErrCredentialNotFound
	}}
	router := newCredentialTestRouter(svc)

	if code := internalDoRequest(router, http.MethodGet, "/internal/credentials/usr-1", nil); code != http.StatusOK {
		t.Errorf("expected 200 got %d", code)
	}
	if code := internalDoRequest(router, http.MethodGet, "/internal/credentials/usr-ghost", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 got %d", code)
	}
}

func TestCredentialRoutesRequireInternalToken(t *testing.T) {
	router := newCredentialTestRouter(&mockCredentialService{
		deleteFn: func(cqrs.DeleteCredentialCommand) (bool, error) { return true, nil },
	})
	if w := authDoRequest(router, http.MethodDelete, "/internal/credentials/usr-1", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if code := internalDoRequestWithToken(router, http.MethodDelete, "/internal/credentials/usr-1", nil, "wrong"); code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", code)
	}
}
