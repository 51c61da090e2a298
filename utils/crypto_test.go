package utils

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Setenv("SYNC_SECRETS_KEY", "unit-test-passphrase")

	blob, err := EncryptSecret("client-secret-value")
	if err != nil {
		t.Fatalf("EncryptSecret error: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("empty ciphertext")
	}

	plain, err := DecryptSecret(blob)
	if err != nil {
		t.Fatalf("DecryptSecret error: %v", err)
	}
	if plain != "client-secret-value" {
		t.Fatalf("round trip = %q", plain)
	}
}

func TestEncryptSecretNeverStoresPlaintext(t *testing.T) {
	t.Setenv("SYNC_SECRETS_KEY", "unit-test-passphrase")

	secret := "hunter2hunter2"
	blob, err := EncryptSecret(secret)
	if err != nil {
		t.Fatalf("EncryptSecret error: %v", err)
	}
	if string(blob) == secret {
		t.Fatal("blob equals the plaintext")
	}
	for i := 0; i+len(secret) <= len(blob); i++ {
		if string(blob[i:i+len(secret)]) == secret {
			t.Fatal("plaintext appears inside the blob")
		}
	}
}

func TestDecryptSecretRejectsTamper(t *testing.T) {
	t.Setenv("SYNC_SECRETS_KEY", "unit-test-passphrase")

	blob, err := EncryptSecret("client-secret-value")
	if err != nil {
		t.Fatalf("EncryptSecret error: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := DecryptSecret(blob); err == nil {
		t.Fatal("tampered blob decrypted without error")
	}
}

func TestEncryptSecretRequiresKey(t *testing.T) {
	t.Setenv("SYNC_SECRETS_KEY", "")
	if _, err := EncryptSecret("x"); !errors.Is(err, ErrSecretsKeyMissing) {
		t.Fatalf("expected ErrSecretsKeyMissing, got %v", err)
	}
}

func TestDecryptSecretRejectsShortBlob(t *testing.T) {
	t.Setenv("SYNC_SECRETS_KEY", "unit-test-passphrase")
	if _, err := DecryptSecret([]byte{1, 2, 3}); err == nil {
		t.Fatal("short blob decrypted without error")
	}
}
