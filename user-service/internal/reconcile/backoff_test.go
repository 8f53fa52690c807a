package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyBackoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{64, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicyNormalized(t *testing.T) {
	got := Policy{MaxDelay: time.Millisecond}.normalized()
	def := DefaultPolicy()

	assert.Equal(t, def.MaxAttempts, got.MaxAttempts)
	assert.Equal(t, def.BaseDelay, got.BaseDelay)
	assert.Equal(t, def.BaseDelay, got.MaxDelay)
	assert.Equal(t, def.Workers, got.Workers)
	assert.Equal(t, def.BcryptCost, got.BcryptCost)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(errUnavailable))
	assert.True(t, IsTransient(Transient(errUnavailable)))
	assert.False(t, IsTransient(Permanent(errUnavailable)))
	assert.False(t, IsTransient(&ValidationError{Field: "f", Message: "bad"}))
	assert.False(t, IsTransient(nil))
	assert.ErrorIs(t, Permanent(ErrNotFound), ErrNotFound)
	assert.Nil(t, Transient(nil))
}
