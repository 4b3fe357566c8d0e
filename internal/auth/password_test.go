package auth

import "testing"

func TestPasswordHashAndCheck(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatal("hash must not equal the plaintext")
	}

	if !CheckPasswordHash("correct horse battery", hash) {
		t.Error("expected the original password to verify")
	}
	if CheckPasswordHash("wrong password", hash) {
		t.Error("expected a different password to fail")
	}
	if CheckPasswordHash("correct horse battery", "not-a-bcrypt-hash") {
		t.Error("expected a malformed hash to fail")
	}
}
