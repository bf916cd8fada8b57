// Package secretbox seals small payloads for storage at rest.
//
// Envelopes are laid out as version(1) || nonce(24) || ciphertext and sealed with
// XChaCha20-Poly1305, so random nonces are safe for the lifetime of a key.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of keys accepted by Seal and Open.
const KeySize = chacha20poly1305.KeySize

const envelopeVersion byte = 1

var (
	ErrKeyLength = errors.New("secretbox: key must be 32 bytes")
	ErrDecrypt   = errors.New("secretbox: decryption failed - wrong key or corrupted data")
)

// NewKey returns a fresh random key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a purpose-bound key from secret using HKDF-SHA256.
// Different purposes yield unrelated keys for the same secret.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) < KeySize {
		return nil, ErrKeyLength
	}
	h := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key. additionalData is authenticated but not stored.
func Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = envelopeVersion
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(out, out[1:], plaintext, additionalData), nil
}

// Open reverses Seal. Any tampering, truncation or key mismatch yields ErrDecrypt.
func Open(key, envelope, additionalData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	headerLen := 1 + aead.NonceSize()
	if len(envelope) < headerLen+aead.Overhead() || envelope[0] != envelopeVersion {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, envelope[1:headerLen], envelope[headerLen:], additionalData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
