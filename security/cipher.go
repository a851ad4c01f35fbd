// Package security seals bot webhook secrets before they are stored.
package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	sealedPrefix    = "botrelay.secret.v1:"
	sealedAlgorithm = "aes-gcm"
)

type Option func(*AppKeyCipher)

// AppKeyCipher seals values with AES-GCM under a single application key.
type AppKeyCipher struct {
	aead    cipher.AEAD
	keyID   string
	version int
}

type sealed struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func WithKeyID(id string) Option {
	return func(c *AppKeyCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AppKeyCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

func NewAppKeyCipher(keyMaterial []byte, opts ...Option) (*AppKeyCipher, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, fmt.Errorf("security: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: init gcm: %w", err)
	}
	c := &AppKeyCipher{aead: aead, keyID: "app-key", version: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func NewAppKeyCipherFromString(key string, opts ...Option) (*AppKeyCipher, error) {
	return NewAppKeyCipher([]byte(key), opts...)
}

// Seal returns the stored form of plaintext. Empty input stays empty so a
// bot without a secret keeps sending unsigned webhooks.
func (c *AppKeyCipher) Seal(_ context.Context, plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("security: cipher is not configured")
	}
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: generate nonce: %w", err)
	}
	ciphertext := c.aead.Seal(nil, nonce, []byte(plaintext), c.additionalData())
	data, err := json.Marshal(sealed{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  sealedAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("security: encode sealed value: %w", err)
	}
	return sealedPrefix + string(data), nil
}

// Open reverses Seal. Values written before sealing was enabled carry no
// prefix and are returned unchanged.
func (c *AppKeyCipher) Open(_ context.Context, stored string) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("security: cipher is not configured")
	}
	if !IsSealed(stored) {
		return stored, nil
	}
	var env sealed
	if err := json.Unmarshal([]byte(strings.TrimPrefix(stored, sealedPrefix)), &env); err != nil {
		return "", fmt.Errorf("security: decode sealed value: %w", err)
	}
	if env.Algorithm != sealedAlgorithm {
		return "", fmt.Errorf("security: unsupported algorithm %q", env.Algorithm)
	}
	if env.KeyID != c.keyID || env.Version != c.version {
		return "", fmt.Errorf("security: sealed with key %s/v%d, have %s/v%d", env.KeyID, env.Version, c.keyID, c.version)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("security: decode nonce: %w", err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("security: invalid nonce size %d", len(nonce))
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("security: decode ciphertext: %w", err)
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, c.additionalData())
	if err != nil {
		return "", fmt.Errorf("security: open sealed value: %w", err)
	}
	return string(plaintext), nil
}

func (c *AppKeyCipher) additionalData() []byte {
	return []byte(fmt.Sprintf("%s:%d", c.keyID, c.version))
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

func normalizeKey(key []byte) []byte {
	switch len(key) {
	case 16, 24, 32:
		out := make([]byte, len(key))
		copy(out, key)
		return out
	default:
		sum := sha256.Sum256(key)
		return sum[:]
	}
}
