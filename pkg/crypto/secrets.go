// Package crypto seals connector credentials and provider API keys at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when the sealing key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned for malformed ciphertext or a key mismatch.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// SecretBox seals strings with AES-256-GCM. Output is base64(nonce || ciphertext || tag).
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox builds a box from a base64 32-byte key or, failing that, the
// SHA-256 of the raw input treated as a passphrase.
func NewSecretBox(keyInput string) (*SecretBox, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(deriveKey(keyInput))
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

func deriveKey(input string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(input); err == nil && len(raw) == 32 {
		return raw
	}
	sum := sha256.Sum256([]byte(input))
	return sum[:]
}

// Seal encrypts plaintext. The empty string seals to itself.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. The empty string opens to itself.
func (b *SecretBox) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}
	ns := b.aead.NonceSize()
	if len(data) < ns+b.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plain, err := b.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plain), nil
}

// SealMap serializes details to JSON and seals the result. Nil or empty maps
// seal to the empty string.
func (b *SecretBox) SealMap(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to marshal details: %w", err)
	}
	return b.Seal(string(raw))
}

// OpenMap reverses SealMap. The empty string opens to an empty map.
func (b *SecretBox) OpenMap(sealed string) (map[string]any, error) {
	plain, err := b.Open(sealed)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if plain == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(plain), &out); err != nil {
		return nil, fmt.Errorf("%w: sealed payload is not a JSON object", ErrDecryptionFailed)
	}
	return out, nil
}
