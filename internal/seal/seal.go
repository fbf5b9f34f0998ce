// Package seal implements reversible field-level encryption for sensitive audit payload values.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// TokenPrefix marks a value produced by a Sealer.
const TokenPrefix = "sealed:"

const (
	keySalt   = "auditlens-field-seal"
	keyInfo   = "audit-body-fields-v1"
	keySize   = 32
	nonceSize = 12
)

var (
	ErrEmptySecret   = errors.New("seal secret cannot be empty")
	ErrNotSealed     = errors.New("value is not a sealed token")
	ErrInvalidToken  = errors.New("invalid sealed token")
	ErrUnsealFailure = errors.New("unseal failed: invalid ciphertext or authentication tag")
)

// Sealer transforms sensitive values into opaque tokens and back.
type Sealer interface {
	Seal(value string) (string, error)
	Unseal(token string) (string, error)
}

// IsSealed reports whether v looks like a sealed token.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, TokenPrefix)
}

// AESSealer seals with AES-256-GCM using a key derived from a secret via HKDF-SHA256.
// Tokens are "sealed:" + base64(nonce || ciphertext || tag).
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer derives the data key from secret.
func NewAESSealer(secret string) (*AESSealer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(keySalt), []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive seal key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

func (s *AESSealer) Seal(value string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return TokenPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

func (s *AESSealer) Unseal(token string) (string, error) {
	if !IsSealed(token) {
		return "", ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, TokenPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(data) < nonceSize+s.aead.Overhead() {
		return "", ErrInvalidToken
	}
	pt, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrUnsealFailure
	}
	return string(pt), nil
}
