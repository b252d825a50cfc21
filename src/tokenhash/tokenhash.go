// Package tokenhash implements the credential hashing primitives used by the
// broker: a salted scrypt verifier for device tokens, a deterministic
// peppered digest used as an indexed lookup key, and API key generation.
package tokenhash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. Verification takes tens of milliseconds on
// commodity hardware, which is intentional for CONNECT handling.
const (
	scryptN      = 1 << 14
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

// Hash derives a verifier string from a plaintext token. The result encodes
// a fresh random salt and the scrypt key as "{saltHex}${keyHex}". Two calls
// with the same plaintext produce different verifiers.
func Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(plaintext), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}

	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(key), nil
}

// Verify reports whether plaintext matches the verifier produced by Hash.
// A malformed verifier yields false; Verify never panics or returns an
// error, so callers on the authentication path stay fail-closed.
func Verify(plaintext, verifier string) bool {
	saltHex, keyHex, ok := strings.Cut(verifier, "$")
	if !ok {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) != saltLen {
		return false
	}

	want, err := hex.DecodeString(keyHex)
	if err != nil {
		return false
	}

	got, err := scrypt.Key([]byte(plaintext), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}

	// Length check before the constant-time compare; unequal lengths can
	// only come from a malformed verifier.
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// LookupDigest computes the deterministic peppered digest of a plaintext
// token, hex-encoded. It is stored alongside the verifier as a unique
// indexed column so a CONNECT can locate its credential without scanning
// the table. Same plaintext and pepper always produce the same digest.
func LookupDigest(plaintext, pepper string) string {
	sum := sha256.Sum256([]byte(plaintext + pepper))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey returns a fresh 256-bit random key, hex-encoded.
func NewAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
