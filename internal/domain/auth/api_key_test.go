package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	rawKey := "test-api-key-secure-12345"

	hash, err := HashKey(rawKey)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("HashKey() = %q, want prefix $argon2id$", hash)
	}
	if !strings.Contains(hash, "m=48128,t=1,p=1") {
		t.Errorf("HashKey() = %q, want OWASP minimum parameters", hash)
	}

	// Should produce different hashes for same input (due to random salt)
	hash2, err := HashKey(rawKey)
	if err != nil {
		t.Fatalf("HashKey() second call error = %v", err)
	}
	if hash == hash2 {
		t.Error("HashKey() produced identical hashes - should use random salt")
	}
}

func TestHashKey_Empty(t *testing.T) {
	if _, err := HashKey(""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("HashKey(\"\") error = %v, want ErrEmptyKey", err)
	}
}

func TestVerifyKey(t *testing.T) {
	rawKey := "test-api-key-verify-12345"

	argon2Hash, err := HashKey(rawKey)
	if err != nil {
		t.Fatalf("HashKey() setup error = %v", err)
	}

	tests := []struct {
		name       string
		rawKey     string
		storedHash string
		wantMatch  bool
		wantErr    error
	}{
		{
			name:       "correct key",
			rawKey:     rawKey,
			storedHash: argon2Hash,
			wantMatch:  true,
		},
		{
			name:       "wrong key",
			rawKey:     "wrong-key",
			storedHash: argon2Hash,
			wantMatch:  false,
		},
		{
			name:       "empty key",
			rawKey:     "",
			storedHash: argon2Hash,
			wantMatch:  false,
		},
		{
			name:       "bare sha256 hex is rejected",
			rawKey:     rawKey,
			storedHash: strings.Repeat("ab", 32),
			wantErr:    ErrUnknownHashType,
		},
		{
			name:       "unknown hash type returns error",
			rawKey:     rawKey,
			storedHash: "invalid-hash-format",
			wantErr:    ErrUnknownHashType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := VerifyKey(tt.rawKey, tt.storedHash)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("VerifyKey() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyKey() unexpected error = %v", err)
			}
			if match != tt.wantMatch {
				t.Errorf("VerifyKey() = %v, want %v", match, tt.wantMatch)
			}
		})
	}
}

func TestVerifyKey_MalformedParametersDoNotPanic(t *testing.T) {
	// p=0 makes the argon2 implementation panic.
	malformed := "$argon2id$v=19$m=48128,t=1,p=0$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"

	match, err := VerifyKey("anything", malformed)
	if match {
		t.Error("VerifyKey() matched a malformed hash")
	}
	if err == nil {
		t.Error("VerifyKey() should return an error for malformed parameters")
	}
}

func TestIsHash(t *testing.T) {
	if !IsHash("$argon2id$v=19$m=1,t=1,p=1$x$y") {
		t.Error("IsHash() = false for a PHC string")
	}
	if IsHash("plaintext") {
		t.Error("IsHash() = true for plaintext")
	}
}
