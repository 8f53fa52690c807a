package utils

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateID(t *testing.T) {
	a := GenerateID("usr")
	b := GenerateID("usr")
	if !strings.HasPrefix(a, "usr-") || len(a) != len("usr-")+10 {
		t.Fatalf("unexpected id format %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if !ValidateUserID(a) {
		t.Fatalf("expected %q to validate", a)
	}
}

func TestValidateUserID(t *testing.T) {
	for id, want := range map[string]bool{
		"usr-abc123": true,
		"usr-":       false,
		"acc-abc123": false,
		"":           false,
	} {
		if got := ValidateUserID(id); got != want {
			t.Errorf("ValidateUserID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword("correct horse", hash) {
		t.Fatal("expected password to match its hash")
	}
	if CheckPassword("wrong horse", hash) {
		t.Fatal("expected other password to be rejected")
	}

	again, err := HashPassword("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if again == hash {
		t.Fatal("expected a fresh salt per hash")
	}
}

func TestHashPasswordRejectsBadCost(t *testing.T) {
	if _, err := HashPassword("correct horse", bcrypt.MaxCost+1); err == nil {
		t.Fatal("expected error for cost above bcrypt.MaxCost")
	}
}
