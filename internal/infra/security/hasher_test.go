package security_test

import (
	"strings"
	"testing"

	"github.com/boddenberg/wallet-ledger-go/internal/infra/security"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := security.NewBcryptHasher(bcrypt.MinCost)

	digest, salt, err := h.HashSecret("1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if salt == "" || digest == "" {
		t.Fatal("expected digest and salt")
	}
	if !h.VerifySecret("1234", digest, salt) {
		t.Error("expected correct secret to verify")
	}
	if h.VerifySecret("4321", digest, salt) {
		t.Error("expected wrong secret to fail")
	}
	if h.VerifySecret("1234", digest, "other-salt") {
		t.Error("expected wrong salt to fail")
	}
}

func TestBcryptHasher_FreshSaltPerCall(t *testing.T) {
	h := security.NewBcryptHasher(bcrypt.MinCost)

	_, s1, _ := h.HashSecret("1234")
	_, s2, _ := h.HashSecret("1234")
	if s1 == s2 {
		t.Error("expected different salts for repeated hashes")
	}
}

func TestBcryptHasher_EmptyDigestNeverVerifies(t *testing.T) {
	h := security.NewBcryptHasher(bcrypt.MinCost)
	if h.VerifySecret("", "", "") {
		t.Error("expected empty digest to fail")
	}
}

func TestBcryptHasher_LongSecret(t *testing.T) {
	h := security.NewBcryptHasher(bcrypt.MinCost)
	secret := strings.Repeat("pass-phrase-", 10)

	digest, salt, err := h.HashSecret(secret)
	if err != nil {
		t.Fatalf("hash %d-byte secret: %v", len(secret), err)
	}
	if !h.VerifySecret(secret, digest, salt) {
		t.Error("expected long secret to verify")
	}
	if h.VerifySecret(secret[:len(secret)-1]+"X", digest, salt) {
		t.Error("expected change past byte 72 to fail")
	}
}
