package security

import (
	"strings"
	"testing"
)

func TestHashPasswordAndVerifySuccess(t *testing.T) {
	password := "correct horse battery staple"

	encoded, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}

	if encoded == "" {
		t.Fatal("HashPassword returned empty string")
	}

	parts := strings.Split(encoded, ":")
	if len(parts) != 2 {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := VerifyPassword(password, encoded)
	if err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}

	if !ok {
		t.Fatal("VerifyPassword returned false for correct password")
	}
}

func TestVerifyPasswordIncorrectPassword(t *testing.T) {
	password := "correct horse battery staple"
	wrongPassword := "Tr0ub4dor&3"

	encoded, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}

	ok, err := VerifyPassword(wrongPassword, encoded)
	if err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}

	if ok {
		t.Fatal("VerifyPassword returned true for incorrect password")
	}
}

func TestVerifyPasswordInvalidFormat(t *testing.T) {
	if _, err := VerifyPassword("password", "invalid-format"); err == nil {
		t.Fatal("VerifyPassword expected to return error for invalid format")
	}
}

func TestVerifyPasswordEmptyInputs(t *testing.T) {
	ok, err := VerifyPassword("", "")
	if err != nil {
		t.Fatalf("VerifyPassword returned error for empty inputs: %v", err)
	}

	if ok {
		t.Fatal("VerifyPassword should return false for empty inputs")
	}
}

func TestGenerateSecureTokenUniqueness(t *testing.T) {
	first, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	second, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}

	if first == second {
		t.Fatal("expected distinct tokens from consecutive generations")
	}
	if len(first) < 43 {
		t.Fatalf("expected at least 43 encoded characters for 32 bytes, got %d", len(first))
	}
}

func TestGenerateSecureTokenRejectsNonPositiveLength(t *testing.T) {
	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestHashTokenIsDeterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("expected identical hashes for identical input")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("expected different hashes for different input")
	}
	if len(HashToken("abc")) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(HashToken("abc")))
	}
}
