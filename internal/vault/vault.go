package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrEmptySecret is returned when an account has no stored secret to decrypt
var ErrEmptySecret = errors.New("empty secret")

// Vault encrypts provider secrets with AES-256-GCM.
// Plaintext is only ever returned to the caller, never cached.
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from a 32 byte key
func New(key string) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: gcm}, nil
}

// Encrypt encrypts plaintext and returns base64(nonce || ciphertext)
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt
func (v *Vault) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", ErrEmptySecret
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode: %w", err)
	}

	if len(data) < v.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:v.aead.NonceSize()], data[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// WithSecret decrypts encrypted and passes the plaintext to fn.
// The plaintext does not outlive the call.
func (v *Vault) WithSecret(encrypted string, fn func(plaintext string) error) error {
	plaintext, err := v.Decrypt(encrypted)
	if err != nil {
		return err
	}
	return fn(plaintext)
}
