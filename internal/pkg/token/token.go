package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SecretBytes is the entropy of a verification secret.
const SecretBytes = 32

// SecretLen is the length of an encoded secret.
var SecretLen = base64.RawURLEncoding.EncodedLen(SecretBytes)

// NewSecret generates a cryptographically random, URL-safe 43-character secret.
func NewSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// WellFormed reports whether s could have been produced by NewSecret.
func WellFormed(s string) bool {
	if len(s) != SecretLen {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}

// Hasher computes the at-rest form of a secret: BLAKE2b-256 keyed with a server pepper.
type Hasher struct {
	key []byte
}

// NewHasher keys the hash with pepper. Peppers longer than the BLAKE2b key
// limit are compressed with an unkeyed BLAKE2b-256 first.
func NewHasher(pepper []byte) *Hasher {
	key := pepper
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Hasher{key: append([]byte(nil), key...)}
}

// Hash returns the hex digest of secret.
func (h *Hasher) Hash(secret string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// key length is bounded in NewHasher
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
