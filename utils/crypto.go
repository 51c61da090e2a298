package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// API credentials are stored encrypted at rest (AES-256-GCM) and decrypted
// only transiently when a client is built for a run. The key is derived from
// SYNC_SECRETS_KEY with scrypt; a fresh salt and nonce are generated per
// ciphertext and prepended to the stored blob.

const (
	secretSaltLen  = 16
	secretKeyLen   = 32
	scryptN        = 1 << 15
	scryptR        = 8
	scryptP        = 1
)

var ErrSecretsKeyMissing = errors.New("SYNC_SECRETS_KEY is not set")

func secretsPassphrase() (string, error) {
	key := strings.TrimSpace(os.Getenv("SYNC_SECRETS_KEY"))
	if key == "" {
		return "", ErrSecretsKeyMissing
	}
	return key, nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, secretKeyLen)
}

// EncryptSecret seals plaintext into salt||nonce||ciphertext.
func EncryptSecret(plaintext string) ([]byte, error) {
	passphrase, err := secretsPassphrase()
	if err != nil {
		return nil, err
	}

	salt := make([]byte, secretSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptSecret opens a blob produced by EncryptSecret.
func DecryptSecret(blob []byte) (string, error) {
	passphrase, err := secretsPassphrase()
	if err != nil {
		return "", err
	}
	if len(blob) < secretSaltLen {
		return "", errors.New("secret blob too short")
	}

	salt := blob[:secretSaltLen]
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	rest := blob[secretSaltLen:]
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("secret blob too short")
	}
	nonce := rest[:gcm.NonceSize()]
	opened, err := gcm.Open(nil, nonce, rest[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(opened), nil
}
