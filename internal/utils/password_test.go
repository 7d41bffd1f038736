package utils

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-password", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-password" {
		t.Fatal("hash equals plaintext")
	}
	if !VerifyPassword(hash, "s3cret-password") {
		t.Error("correct password rejected")
	}
	if VerifyPassword(hash, "wrong-password") {
		t.Error("wrong password accepted")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h1, err := HashPassword("same-input", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("same-input", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same password are identical")
	}
}

func TestVerifyDummyNeverMatches(t *testing.T) {
	for _, pw := range []string{"", "password", "a-very-long-password-attempt"} {
		if VerifyDummy(pw) {
			t.Errorf("VerifyDummy(%q) = true", pw)
		}
	}
}
