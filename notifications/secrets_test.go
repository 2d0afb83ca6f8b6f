package notifications

import (
	"strings"
	"testing"
)

func TestSecretRoundtrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	encrypted, err := EncryptSecret(key, "whsec_topsecret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if strings.Contains(encrypted, "whsec_topsecret") {
		t.Error("ciphertext leaks the plaintext")
	}

	decrypted, err := DecryptSecret(key, encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted != "whsec_topsecret" {
		t.Errorf("roundtrip mismatch: %s", decrypted)
	}
}

func TestEncryptSecretNoncesDiffer(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	a, _ := EncryptSecret(key, "same")
	b, _ := EncryptSecret(key, "same")
	if a == b {
		t.Error("expected distinct ciphertexts for repeated encryptions")
	}
}

func TestDecryptSecretWrongKey(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	other := []byte("ffffffffffffffffffffffffffffffff")

	encrypted, err := EncryptSecret(key, "whsec_topsecret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := DecryptSecret(other, encrypted); err == nil {
		t.Error("expected decryption under the wrong key to fail")
	}
}

func TestDecryptSecretRejectsGarbage(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	if _, err := DecryptSecret(key, "not base64!!"); err == nil {
		t.Error("expected invalid base64 to fail")
	}
	if _, err := DecryptSecret(key, "QUJD"); err == nil {
		t.Error("expected a too-short ciphertext to fail")
	}
}

func TestSignPayloadDeterministic(t *testing.T) {
	payload := []byte(`{"symbol":"ABCD"}`)
	a := SignPayload("secret", payload)
	b := SignPayload("secret", payload)
	if a != b {
		t.Error("expected stable signature for identical input")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 length 64, got %d", len(a))
	}
	if SignPayload("other", payload) == a {
		t.Error("expected different keys to produce different signatures")
	}
}
