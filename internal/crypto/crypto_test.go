package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T, alg Algorithm) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key, alg)
	require.NoError(t, err)
	return c
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(key)
	require.NoError(t, err, "key is not base64")
	assert.Len(t, raw, KeySize)

	key2, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, key2)
}

func TestNewCipherKeyErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"not base64", "!!!not-base64!!!", ErrKeyEncoding},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), ErrKeyLength},
		{"too long", base64.StdEncoding.EncodeToString(make([]byte, 33)), ErrKeyLength},
		{"empty", "", ErrKeyLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipher(tt.key, AES256GCM)
			require.ErrorIs(t, err, tt.want)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestNewCipherTrimsWhitespace(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	_, err = NewCipher("  "+key+"\n", AES256GCM)
	assert.NoError(t, err)
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{
		"":                  AES256GCM,
		"aes-256-gcm":       AES256GCM,
		"AES-256-GCM":       AES256GCM,
		"chacha20-poly1305": ChaCha20Poly1305,
	} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAlgorithm("rot13")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestRoundTripAllLengths(t *testing.T) {
	for _, alg := range []Algorithm{AES256GCM, ChaCha20Poly1305} {
		t.Run(string(alg), func(t *testing.T) {
			c := newTestCipher(t, alg)
			for n := 1; n <= 10000; n += 37 {
				plaintext := bytes.Repeat([]byte{byte(n)}, n)
				ct, nonce, err := c.Encrypt(plaintext)
				require.NoError(t, err, "length %d", n)
				require.Len(t, nonce, NonceSize)
				require.Len(t, ct, n+TagSize)

				got, err := c.Decrypt(ct, nonce)
				require.NoError(t, err, "length %d", n)
				require.Equal(t, plaintext, got, "length %d", n)
			}
		})
	}
}

func TestRoundTripMaxLength(t *testing.T) {
	c := newTestCipher(t, AES256GCM)
	plaintext := bytes.Repeat([]byte("x"), 10000)
	ct, nonce, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	got, err := c.Decrypt(ct, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestNonceFreshness(t *testing.T) {
	c := newTestCipher(t, AES256GCM)
	seen := make(map[string]bool)
	plaintext := []byte("same input")
	var prev []byte
	for i := 0; i < 1000; i++ {
		ct, nonce, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		require.False(t, seen[string(nonce)], "nonce repeated after %d encryptions", i)
		seen[string(nonce)] = true
		require.NotEqual(t, prev, ct)
		prev = ct
	}
}

func TestTamperDetection(t *testing.T) {
	c := newTestCipher(t, AES256GCM)
	ct, nonce, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)

	for i := 0; i < len(ct)*8; i++ {
		mut := bytes.Clone(ct)
		mut[i/8] ^= 1 << (i % 8)
		_, err := c.Decrypt(mut, nonce)
		require.ErrorIs(t, err, ErrAuthenticationFailed, "ciphertext bit %d", i)
	}
	for i := 0; i < len(nonce)*8; i++ {
		mut := bytes.Clone(nonce)
		mut[i/8] ^= 1 << (i % 8)
		_, err := c.Decrypt(ct, mut)
		require.ErrorIs(t, err, ErrAuthenticationFailed, "nonce bit %d", i)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	c1 := newTestCipher(t, AES256GCM)
	c2 := newTestCipher(t, AES256GCM)
	ct, nonce, err := c1.Encrypt([]byte("secret data"))
	require.NoError(t, err)
	_, err = c2.Decrypt(ct, nonce)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDecryptMalformedInput(t *testing.T) {
	c := newTestCipher(t, AES256GCM)
	ct, nonce, err := c.Encrypt([]byte("x"))
	require.NoError(t, err)

	_, err = c.Decrypt(ct, nonce[:8])
	assert.ErrorIs(t, err, ErrAuthenticationFailed, "short nonce")
	_, err = c.Decrypt(ct[:4], nonce)
	assert.ErrorIs(t, err, ErrAuthenticationFailed, "short ciphertext")
	_, err = c.Decrypt(nil, nil)
	assert.ErrorIs(t, err, ErrAuthenticationFailed, "nil input")
}

func TestAlgorithmsAreNotInterchangeable(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	gcm, err := NewCipher(key, AES256GCM)
	require.NoError(t, err)
	chacha, err := NewCipher(key, ChaCha20Poly1305)
	require.NoError(t, err)

	ct, nonce, err := gcm.Encrypt([]byte("payload"))
	require.NoError(t, err)
	_, err = chacha.Decrypt(ct, nonce)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, ChaCha20Poly1305, chacha.Algorithm())
}
