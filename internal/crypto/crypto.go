// Package crypto derives the local database encryption key. Rather than
// storing the raw SQLCipher key, the client keeps one master secret and
// derives a per-profile key with HKDF-SHA256, so several profiles on one
// device never share a database key.
package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of the derived database key in bytes (256 bits).
const KeySize = 32

// MinMasterKeySize is the smallest master secret accepted.
const MinMasterKeySize = 32

// DeriveLocalKey derives the 32-byte database key for a profile from the
// master secret. The info string gives domain separation: the same master
// secret yields unrelated keys for different profiles and versions.
func DeriveLocalKey(masterKey []byte, profile string, version int) ([]byte, error) {
	if len(masterKey) < MinMasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MinMasterKeySize, len(masterKey))
	}

	info := fmt.Sprintf("profile:%s:v%d", profile, version)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
