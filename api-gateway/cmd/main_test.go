package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Venomous0511/JeepEZ/api-gateway/internal/config"
)

func TestRouterRoutes(t *testing.T) {
	var hits []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	cfg := &config.Config{
		AuthServiceURL:  backend.URL,
		UserServiceURL:  backend.URL,
		JWTSecret:       "test-secret",
		UpstreamTimeout: time.Second,
	}
	router := newRouter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name           string
		method, path   string
		expectedStatus int
	}{
		{"public listing", http.MethodGet, "/users", http.StatusOK},
		{"password change", http.MethodPost, "/users/change-password", http.StatusOK},
		{"login", http.MethodPost, "/v1/auth/login", http.StatusOK},
		{"delete needs token", http.MethodDelete, "/users/usr-1", http.StatusUnauthorized},
		{"admin needs token", http.MethodGet, "/admin/reconciliation/failed", http.StatusUnauthorized},
		{"internal routes are not exposed", http.MethodDelete, "/internal/credentials/usr-1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d", tt.name, tt.expectedStatus, w.Code)
			}
		})
	}
	if len(hits) != 3 {
		t.Errorf("expected 3 proxied requests, got %v", hits)
	}
}
