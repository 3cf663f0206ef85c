// Package crypto seals provider API keys stored in configuration.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a configuration value as AES-256-GCM sealed.
const SealedPrefix = "enc:"

var (
	ErrInvalidKeySize    = errors.New("encryption key must be 32 bytes or 64 hex characters")
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication failed")
	ErrNoKey             = errors.New("sealed value found but no encryption key is configured")
)

// SecretBox seals and opens strings with AES-256-GCM. The sealed form is
// "enc:" + base64(nonce | ciphertext | tag).
type SecretBox struct {
	gcm cipher.AEAD
}

// NewSecretBox creates a SecretBox from a 32-byte key given raw or hex-encoded.
func NewSecretBox(key string) (*SecretBox, error) {
	raw := []byte(key)
	if len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err == nil {
			raw = decoded
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(raw))
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretBox{gcm: gcm}, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Seal encrypts plaintext. Empty input stays empty.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := b.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Values without the prefix are returned unchanged.
func (b *SecretBox) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := b.gcm.NonceSize()
	if len(data) < nonceSize+b.gcm.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := b.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// OpenValue opens value with box, which may be nil when no key is configured.
func OpenValue(box *SecretBox, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if box == nil {
		return "", ErrNoKey
	}
	return box.Open(value)
}
