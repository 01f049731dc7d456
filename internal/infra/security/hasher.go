// Package security hashes passwords and PINs.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const saltBytes = 16

// BcryptHasher digests salt+secret with bcrypt. The salt is stored next to
// the digest; bcrypt adds its own internal salt on top. Input is reduced to
// a hex SHA-256 first so it always fits bcrypt's 72-byte limit.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher. Costs outside bcrypt's range fall back
// to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// HashSecret returns a fresh salt and the digest of salt+plaintext.
func (h *BcryptHasher) HashSecret(plaintext string) (digest, salt string, err error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	salt = base64.RawStdEncoding.EncodeToString(b)

	hash, err := bcrypt.GenerateFromPassword(prehash(salt, plaintext), h.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), salt, nil
}

// VerifySecret compares in constant time over the full digest.
func (h *BcryptHasher) VerifySecret(plaintext, digest, salt string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(salt, plaintext)) == nil
}

func prehash(salt, plaintext string) []byte {
	sum := sha256.Sum256([]byte(salt + plaintext))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}
