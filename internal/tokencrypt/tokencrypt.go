// Package tokencrypt encrypts OAuth token strings at rest.
//
// Tokens are sealed with AES-256-GCM. The key is derived from the application
// secret with HKDF-SHA256, and the stored form is base64(nonce || ciphertext).
package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize  = 32
	hkdfInfo = "timetracker-jira-token"
)

var (
	// ErrInvalidCiphertext is returned when a value cannot be decrypted.
	// Callers treat it as a token that was stored before encryption existed.
	ErrInvalidCiphertext = errors.New("token is not a valid ciphertext")
	// ErrEmptySecret is returned when no application secret is configured
	ErrEmptySecret = errors.New("token encryption secret is empty")
)

// Service encrypts and decrypts token strings
type Service struct {
	aead cipher.AEAD
}

// New creates a Service keyed from secret
func New(secret string) (*Service, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Service{aead: aead}, nil
}

// EncryptToken seals plain with a fresh random nonce
func (s *Service) EncryptToken(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptToken opens a value produced by EncryptToken
func (s *Service) DecryptToken(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize+s.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plain, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	return string(plain), nil
}
