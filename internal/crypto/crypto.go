package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the required key length in bytes.
	KeySize = 32
	// NonceSize is the per-encryption nonce length in bytes.
	NonceSize = 12
	// TagSize is the authentication tag appended to every ciphertext.
	TagSize = 16
)

var (
	ErrKeyEncoding          = errors.New("key is not valid base64")
	ErrKeyLength            = errors.New("key must decode to exactly 32 bytes")
	ErrUnknownAlgorithm     = errors.New("unknown encryption algorithm")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// ConfigError reports unusable key material. It is fatal at startup.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "crypto config: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// Algorithm names an AEAD construction.
type Algorithm string

const (
	AES256GCM        Algorithm = "aes-256-gcm"
	ChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

// ParseAlgorithm maps a config value to an Algorithm. Empty selects AES-256-GCM.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", AES256GCM:
		return AES256GCM, nil
	case ChaCha20Poly1305:
		return ChaCha20Poly1305, nil
	}
	return "", &ConfigError{Err: fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)}
}

// Cipher seals and opens secret payloads under a single process-wide key.
// It is immutable after construction and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	alg  Algorithm
}

// NewCipher decodes a base64 key and builds the AEAD for alg.
func NewCipher(keyB64 string, alg Algorithm) (*Cipher, error) {
	key, err := DecodeKey(keyB64)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	var aead cipher.AEAD
	switch alg {
	case "", AES256GCM:
		alg = AES256GCM
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating AES cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating GCM: %w", err)
		}
	case ChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("creating chacha20-poly1305: %w", err)
		}
	default:
		return nil, &ConfigError{Err: fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)}
	}
	return &Cipher{aead: aead, alg: alg}, nil
}

// DecodeKey trims and base64-decodes key material, requiring KeySize bytes.
func DecodeKey(keyB64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("%w: %v", ErrKeyEncoding, err)}
	}
	if len(key) != KeySize {
		wipe(key)
		return nil, &ConfigError{Err: fmt.Errorf("%w: got %d", ErrKeyLength, len(key))}
	}
	return key, nil
}

// Algorithm reports the AEAD in use.
func (c *Cipher) Algorithm() Algorithm { return c.alg }

// Encrypt seals plaintext under a fresh random nonce. The ciphertext carries
// the tag, so it is len(plaintext)+TagSize bytes.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, c.aead.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = c.aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext. Every failure is ErrAuthenticationFailed.
func (c *Cipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	// Open panics on a short nonce.
	if len(nonce) != c.aead.NonceSize() || len(ciphertext) < c.aead.Overhead() {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// GenerateKey returns a fresh base64-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	defer wipe(key)
	return base64.StdEncoding.EncodeToString(key), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
