// Package auth hashes and verifies the admin API key.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// ErrEmptyKey is returned when hashing an empty key.
var ErrEmptyKey = errors.New("api key must not be empty")

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 46 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns an Argon2id hash of the raw key in PHC format.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashKey(rawKey string) (string, error) {
	if rawKey == "" {
		return "", ErrEmptyKey
	}
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// IsHash reports whether s looks like a hash produced by HashKey.
func IsHash(s string) bool {
	return strings.HasPrefix(s, "$argon2id$")
}

// VerifyKey verifies a raw key against a stored hash.
// Returns (false, ErrUnknownHashType) when storedHash is not an Argon2id PHC string.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	if !IsHash(storedHash) {
		return false, ErrUnknownHashType
	}
	return safeArgon2idCompare(rawKey, storedHash)
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The underlying argon2 library panics on malformed hashes with invalid
// parameters (e.g., t=0 rounds, p=0 parallelism).
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
