package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTrimsTrailingSlash(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("USER_SERVICE_URL", "http://users:8082/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://users:8082", cfg.UserServiceURL)
	assert.Equal(t, "http://localhost:8081", cfg.AuthServiceURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}},
		{"relative upstream", map[string]string{"AUTH_SERVICE_URL": "auth-service"}},
		{"zero timeout", map[string]string{"UPSTREAM_TIMEOUT": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
